// Package identity recovers wallet addresses from personal_sign signatures.
package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/constitution/core"
)

// legacy wallets report the recovery id as 27/28
const legacyRecoveryOffset = 27

var _ core.SignatureVerifier = (*Verifier)(nil)

// Verifier checks EIP-191 personal_sign signatures.
type Verifier struct {
	logger logrus.FieldLogger
}

func NewVerifier(logger logrus.FieldLogger) *Verifier {
	return &Verifier{logger: logger}
}

func (v *Verifier) VerifyWalletSignature(message, claimedAddress, signature string) core.VerificationResult {
	if !common.IsHexAddress(claimedAddress) {
		v.debugf("claimed address %q is not a hex address", claimedAddress)
		return core.VerificationResult{}
	}
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		v.debugf("recover signer: %s", err)
		return core.VerificationResult{}
	}
	return core.VerificationResult{
		Valid:            recovered == common.HexToAddress(claimedAddress),
		RecoveredAddress: strings.ToLower(recovered.Hex()),
	}
}

func (v *Verifier) debugf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Debugf(format, args...)
	}
}

// RecoverAddress returns the address that signed message with personal_sign.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "decode signature")
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= legacyRecoveryOffset {
		sig[crypto.RecoveryIDOffset] -= legacyRecoveryOffset
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RegistrationMessage is the text a wallet signs to join a constitution.
func RegistrationMessage(wallet, constitutionID string, issuedAt time.Time) string {
	return fmt.Sprintf("Register agent %s with constitution %s at %s",
		strings.ToLower(wallet), constitutionID, issuedAt.UTC().Format(time.RFC3339))
}

// ActionMessage is the text a wallet signs to authorize actions, built from
// the core action tokens.
func ActionMessage(wallet string, issuedAt time.Time, actions ...string) string {
	return fmt.Sprintf("Agent %s authorizes %s at %s",
		strings.ToLower(wallet), strings.Join(actions, " "), issuedAt.UTC().Format(time.RFC3339))
}

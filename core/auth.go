package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Proof is a personal_sign signature over a message naming the signer's
// wallet and the actions it authorizes.
type Proof struct {
	Message   string
	Signature string
}

// Action tokens a signed message must contain for the matching request.

func ExitAction(agentID string) string {
	return "exit:" + agentID
}

func NominateAction(nomineeID string) string {
	return "nominate:" + nomineeID
}

func PromotionVoteAction(promotionID string, inFavor bool) string {
	if inFavor {
		return "approve:" + promotionID
	}
	return "reject:" + promotionID
}

func WithdrawAction(promotionID string) string {
	return "withdraw:" + promotionID
}

func ProposeAction(title string) string {
	return fmt.Sprintf("propose:%q", strings.TrimSpace(title))
}

func UpdateProposalAction(proposalID string) string {
	return "update:" + proposalID
}

func ActivateAction(proposalID string) string {
	return "activate:" + proposalID
}

func GovernanceVoteAction(proposalID string, choice int) string {
	return fmt.Sprintf("vote:%s:%d", proposalID, choice)
}

// AuthorizeWallet checks that proof was signed by wallet and covers every
// action.
func (e *Engine) AuthorizeWallet(wallet string, proof Proof, actions ...string) error {
	wallet = NormalizeAddress(wallet)
	if wallet == "" {
		return validationf("Wallet address is required")
	}
	return e.verifySigned(wallet, proof, actions...)
}

// AuthorizeAgent is AuthorizeWallet against the wallet of agentID.
func (e *Engine) AuthorizeAgent(ctx context.Context, agentID string, proof Proof, actions ...string) (*Agent, error) {
	agent, err := e.repo.FindAgentByID(ctx, agentID, "")
	if err != nil {
		return nil, errors.Wrap(err, "find agent")
	}
	if agent == nil {
		return nil, errors.Wrapf(ErrAgentNotFound, "agent %s", agentID)
	}
	if err := e.verifySigned(agent.WalletAddress, proof, actions...); err != nil {
		return nil, err
	}
	return agent, nil
}

// verifySigned expects a normalized wallet.
func (e *Engine) verifySigned(wallet string, proof Proof, actions ...string) error {
	if e.verifier == nil {
		return errors.New("signature verifier not configured")
	}
	if strings.TrimSpace(proof.Message) == "" || strings.TrimSpace(proof.Signature) == "" {
		return validationf("Message and signature are required")
	}
	msg := strings.ToLower(proof.Message)
	if !strings.Contains(msg, wallet) {
		return validationf("Signed message must contain the wallet address")
	}
	for _, action := range actions {
		if !hasToken(msg, strings.ToLower(action)) {
			return validationf("Signed message does not authorize %s", action)
		}
	}

	if !e.verifier.VerifyWalletSignature(proof.Message, wallet, proof.Signature).Valid {
		return ineligible("Invalid wallet signature", http.StatusUnauthorized)
	}
	return nil
}

// hasToken reports whether token occurs in msg followed by whitespace or the
// end of msg, so "vote:p:1" does not match "vote:p:12".
func hasToken(msg, token string) bool {
	for i := 0; i < len(msg); {
		j := strings.Index(msg[i:], token)
		if j < 0 {
			return false
		}
		end := i + j + len(token)
		if end == len(msg) || unicode.IsSpace(rune(msg[end])) {
			return true
		}
		i += j + 1
	}
	return false
}

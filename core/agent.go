package core

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// VerificationResult is what the wallet signature collaborator reports.
type VerificationResult struct {
	Valid            bool
	RecoveredAddress string
}

// SignatureVerifier recovers the signer of message and compares it with the
// claimed address, case-insensitively.
type SignatureVerifier interface {
	VerifyWalletSignature(message, claimedAddress, signature string) VerificationResult
}

type RegisterAgentRequest struct {
	WalletAddress   string
	OperatorAddress string
	ConstitutionID  string
	// Message is the signed registration text; it must name the wallet.
	Message   string
	Signature string
}

// RegisterAgent admits a wallet after verifying its signature. The first
// BootstrapTier2Limit agents of a constitution are seated in tier 2.
func (e *Engine) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (*Agent, error) {
	wallet := NormalizeAddress(req.WalletAddress)
	if wallet == "" {
		return nil, validationf("Wallet address is required")
	}
	if err := e.verifySigned(wallet, Proof{Message: req.Message, Signature: req.Signature}); err != nil {
		return nil, err
	}

	constitution, _, err := e.ResolveConstitution(ctx, req.ConstitutionID)
	if err != nil {
		return nil, err
	}
	scope := constitution.ID

	var agent *Agent
	err = e.repo.Transaction(ctx, func(tx Repository) error {
		existing, err := tx.FindAgentByWallet(ctx, wallet, scope)
		if err != nil {
			return errors.Wrap(err, "find agent by wallet")
		}
		if existing != nil {
			return ineligible("Wallet is already registered", http.StatusConflict)
		}

		tier := baseTier
		// seats are handed out by registration order and never reopen
		registered, err := tx.CountAgents(ctx, scope)
		if err != nil {
			return errors.Wrap(err, "count agents")
		}
		if registered < e.cfg.BootstrapTier2Limit {
			if err := e.tierRegistry(tx).EnsureBootstrapTier(ctx, scope); err != nil {
				return errors.Wrap(err, "ensure bootstrap tier")
			}
			tier = bootstrapTier
		}

		agent = &Agent{
			ID:              uuid.NewString(),
			WalletAddress:   wallet,
			OperatorAddress: NormalizeAddress(req.OperatorAddress),
			Tier:            tier,
			ConstitutionID:  scope,
			RegisteredAt:    e.now(),
		}
		return tx.InsertAgent(ctx, agent)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.AgentRegistered()
	e.logger.WithFields(logrus.Fields{
		"agent":        agent.ID,
		"wallet":       agent.WalletAddress,
		"tier":         agent.Tier,
		"constitution": agent.ConstitutionID,
	}).Info("agent registered")
	return agent, nil
}

// ExitAgent flags an agent as gone. The row stays for history.
func (e *Engine) ExitAgent(ctx context.Context, agentID string) error {
	return e.repo.Transaction(ctx, func(tx Repository) error {
		agent, err := tx.FindAgentByID(ctx, agentID, "")
		if err != nil {
			return errors.Wrap(err, "find agent")
		}
		if agent == nil {
			return errors.Wrapf(ErrAgentNotFound, "agent %s", agentID)
		}
		if agent.Exited() {
			return nil
		}
		return tx.MarkAgentExited(ctx, agentID, e.now())
	})
}

func (e *Engine) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	agent, err := e.repo.FindAgentByID(ctx, agentID, "")
	if err != nil {
		return nil, errors.Wrap(err, "find agent")
	}
	if agent == nil {
		return nil, errors.Wrapf(ErrAgentNotFound, "agent %s", agentID)
	}
	return agent, nil
}

func (e *Engine) ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error) {
	return e.repo.ListAgents(ctx, filter)
}

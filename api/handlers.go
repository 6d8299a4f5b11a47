package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/constitution/core"
)

const maxRequestBody = 1 << 20

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleRegisterAgent handles POST /api/v1/agents
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if !s.decode(w, r, &req) {
		return
	}
	agent, err := s.engine.RegisterAgent(r.Context(), core.RegisterAgentRequest{
		WalletAddress:   req.WalletAddress,
		OperatorAddress: req.OperatorAddress,
		ConstitutionID:  req.ConstitutionID,
		Message:         req.Message,
		Signature:       req.Signature,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// handleExitAgent handles POST /api/v1/agents/{id}/exit
func (s *Server) handleExitAgent(w http.ResponseWriter, r *http.Request) {
	var req ExitAgentRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.engine.AuthorizeAgent(r.Context(), id, req.proof(), core.ExitAction(id)); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ExitAgent(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreatePromotion handles POST /api/v1/promotions
func (s *Server) handleCreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req CreatePromotionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ProposerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "proposer_id is required"})
		return
	}
	actions := make([]string, 0, len(req.NomineeIDs))
	for _, id := range req.NomineeIDs {
		actions = append(actions, core.NominateAction(id))
	}
	if _, err := s.engine.AuthorizeAgent(r.Context(), req.ProposerID, req.proof(), actions...); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.CreatePromotion(r.Context(), core.CreatePromotionRequest{
		ProposerID: req.ProposerID,
		NomineeIDs: req.NomineeIDs,
		Rationale:  req.Rationale,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromotionResponse(p))
}

// handleGetPromotion handles GET /api/v1/promotions/{id}
func (s *Server) handleGetPromotion(w http.ResponseWriter, r *http.Request) {
	details, err := s.engine.GetPromotionWithDetails(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionDetailsResponse(details))
}

// handleVoteOnPromotion handles POST /api/v1/promotions/{id}/votes
func (s *Server) handleVoteOnPromotion(w http.ResponseWriter, r *http.Request) {
	var req PromotionVoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.VoterID == "" || req.Vote == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "voter_id and vote are required"})
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.engine.AuthorizeAgent(r.Context(), req.VoterID, req.proof(), core.PromotionVoteAction(id, *req.Vote)); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.VoteOnPromotion(r.Context(), id, req.VoterID, *req.Vote, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionResponse(p))
}

// handleWithdrawPromotion handles POST /api/v1/promotions/{id}/withdraw
func (s *Server) handleWithdrawPromotion(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.engine.AuthorizeAgent(r.Context(), req.WithdrawerID, req.proof(), core.WithdrawAction(id)); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.WithdrawPromotion(r.Context(), id, req.WithdrawerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	details, err := s.engine.GetPromotionWithDetails(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionResponse(&details.Promotion))
}

// handleCreateProposal handles POST /api/v1/proposals
func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req CreateProposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.AuthorizeWallet(req.AuthorWallet, req.proof(), core.ProposeAction(req.Title)); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.CreateProposal(r.Context(), core.CreateProposalRequest{
		Title:          req.Title,
		Description:    req.Description,
		Type:           core.ProposalType(req.ProposalType),
		Choices:        req.Choices,
		AuthorWallet:   req.AuthorWallet,
		ConstitutionID: req.ConstitutionID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

// handleGetProposal handles GET /api/v1/proposals/{id}
func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.GetProposalWithResults(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResultsResponse(results))
}

// handleUpdateProposal handles PATCH /api/v1/proposals/{id}
func (s *Server) handleUpdateProposal(w http.ResponseWriter, r *http.Request) {
	var req UpdateProposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.engine.AuthorizeWallet(req.AuthorWallet, req.proof(), core.UpdateProposalAction(id)); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.UpdateProposal(r.Context(), id, req.AuthorWallet, core.ProposalPatch{
		Title:       req.Title,
		Description: req.Description,
		Choices:     req.Choices,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// handleActivateProposal handles POST /api/v1/proposals/{id}/activate
func (s *Server) handleActivateProposal(w http.ResponseWriter, r *http.Request) {
	var req ActivateProposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.engine.AuthorizeWallet(req.AuthorWallet, req.proof(), core.ActivateAction(id)); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.ActivateProposal(r.Context(), core.ActivateProposalRequest{
		ProposalID:   id,
		AuthorWallet: req.AuthorWallet,
		SnapshotID:   req.SnapshotID,
		Envelope:     req.Envelope,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// handleSyncProposal handles POST /api/v1/proposals/{id}/sync
func (s *Server) handleSyncProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.SyncProposal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// handleCastGovernanceVote handles POST /api/v1/proposals/{id}/votes
func (s *Server) handleCastGovernanceVote(w http.ResponseWriter, r *http.Request) {
	var req GovernanceVoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.engine.AuthorizeWallet(req.WalletAddress, req.proof(), core.GovernanceVoteAction(id, req.Choice)); err != nil {
		s.writeError(w, r, err)
		return
	}
	vote, err := s.engine.CastGovernanceVote(r.Context(), core.CastVoteRequest{
		ProposalID:    id,
		WalletAddress: req.WalletAddress,
		Choice:        req.Choice,
		Reason:        req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGovernanceVoteResponse(vote))
}

// handleListTiers handles GET /api/v1/tiers?constitution=<id>
func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	scope := strings.TrimSpace(r.URL.Query().Get("constitution"))
	if scope == "" {
		scope = s.defaultConstitution
	}
	tiers, err := s.engine.Tiers().ListTiers(r.Context(), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]TierResponse, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, toTierResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps engine errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"err":    err,
		}).Error("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusOf(err error) (int, string) {
	var (
		validation  *core.ValidationError
		eligibility *core.EligibilityError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Msg
	case errors.As(err, &eligibility):
		code := eligibility.StatusCode
		if code == 0 {
			code = http.StatusForbidden
		}
		return code, eligibility.Reason
	case core.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrOracleUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

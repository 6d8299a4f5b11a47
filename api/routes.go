package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/agents", s.handleRegisterAgent).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{id}/exit", s.handleExitAgent).Methods(http.MethodPost)

	v1.HandleFunc("/promotions", s.handleCreatePromotion).Methods(http.MethodPost)
	v1.HandleFunc("/promotions/{id}", s.handleGetPromotion).Methods(http.MethodGet)
	v1.HandleFunc("/promotions/{id}/votes", s.handleVoteOnPromotion).Methods(http.MethodPost)
	v1.HandleFunc("/promotions/{id}/withdraw", s.handleWithdrawPromotion).Methods(http.MethodPost)

	v1.HandleFunc("/proposals", s.handleCreateProposal).Methods(http.MethodPost)
	v1.HandleFunc("/proposals/{id}", s.handleGetProposal).Methods(http.MethodGet)
	v1.HandleFunc("/proposals/{id}", s.handleUpdateProposal).Methods(http.MethodPatch)
	v1.HandleFunc("/proposals/{id}/activate", s.handleActivateProposal).Methods(http.MethodPost)
	v1.HandleFunc("/proposals/{id}/sync", s.handleSyncProposal).Methods(http.MethodPost)
	v1.HandleFunc("/proposals/{id}/votes", s.handleCastGovernanceVote).Methods(http.MethodPost)

	v1.HandleFunc("/tiers", s.handleListTiers).Methods(http.MethodGet)

	return r
}

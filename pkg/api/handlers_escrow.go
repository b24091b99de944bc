package api

import (
	"context"
	"net/http"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/escrow"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

type createEscrowRequest struct {
	Payee       string         `json:"payee"`
	Amount      finance.Amount `json:"amount"`
	Description string         `json:"description"`
	AutoRelease bool           `json:"auto_release"`
	ReleaseTime int64          `json:"release_time"`
}

type createMilestoneEscrowRequest struct {
	Payee       string         `json:"payee"`
	Total       finance.Amount `json:"total"`
	Milestones  uint32         `json:"milestones"`
	Description string         `json:"description"`
}

type escrowCount struct {
	Count int `json:"count"`
}

func (s *Server) escrowRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/escrows", s.handleCreateEscrow)
	mux.HandleFunc("POST /v1/escrows/milestone", s.handleCreateMilestoneEscrow)
	mux.HandleFunc("GET /v1/escrows", s.handleEscrowsByParty)
	mux.HandleFunc("GET /v1/escrows/count", s.handleEscrowCount)
	mux.HandleFunc("GET /v1/escrows/{id}", s.handleEscrow)
	mux.HandleFunc("POST /v1/escrows/{id}/release", s.escrowTransition("escrow.release", s.Escrow.ReleaseEscrow))
	mux.HandleFunc("POST /v1/escrows/{id}/milestones/release", s.escrowTransition("escrow.release_milestone", s.Escrow.ReleaseMilestone))
	mux.HandleFunc("POST /v1/escrows/{id}/cancel", s.escrowTransition("escrow.cancel", s.Escrow.CancelEscrow))
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if !s.validator.decode(w, r, "escrow.create", &req) {
		return
	}
	s.operation(w, r, "escrow.create", http.StatusCreated, func(ctx context.Context, caller string) (any, error) {
		id, err := s.Escrow.CreateEscrow(ctx, caller, req.Payee, req.Amount, req.Description, req.AutoRelease, unixTime(req.ReleaseTime))
		if err != nil {
			return nil, err
		}
		return s.Escrow.Escrow(ctx, id)
	})
}

func (s *Server) handleCreateMilestoneEscrow(w http.ResponseWriter, r *http.Request) {
	var req createMilestoneEscrowRequest
	if !s.validator.decode(w, r, "escrow.create_milestone", &req) {
		return
	}
	s.operation(w, r, "escrow.create_milestone", http.StatusCreated, func(ctx context.Context, caller string) (any, error) {
		id, err := s.Escrow.CreateMilestoneEscrow(ctx, caller, req.Payee, req.Total, req.Milestones, req.Description)
		if err != nil {
			return nil, err
		}
		return s.Escrow.Escrow(ctx, id)
	})
}

func (s *Server) escrowTransition(name string, fn func(ctx context.Context, caller string, id uint64) (escrow.Escrow, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.operation(w, r, name, http.StatusOK, func(ctx context.Context, caller string) (any, error) {
			id, err := pathID(r, "id")
			if err != nil {
				return nil, err
			}
			return fn(ctx, caller, id)
		})
	}
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "escrow.get", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		id, err := pathID(r, "id")
		if err != nil {
			return nil, err
		}
		return s.Escrow.Escrow(ctx, id)
	})
}

func (s *Server) handleEscrowCount(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "escrow.count", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		n, err := s.Escrow.Count(ctx)
		return escrowCount{Count: n}, err
	})
}

// handleEscrowsByParty lists escrows where the party (default: the caller) is payer or payee.
func (s *Server) handleEscrowsByParty(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "escrow.list", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		party := r.URL.Query().Get("party")
		if party == "" {
			party = caller
		}
		return list(s.Escrow.ByParty(ctx, party))
	})
}

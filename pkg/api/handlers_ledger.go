package api

import (
	"context"
	"net/http"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
)

type registerRequest struct {
	Wallet      string `json:"wallet"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type amountRequest struct {
	Amount finance.Amount `json:"amount"`
}

type debitRequest struct {
	Recipient string         `json:"recipient"`
	Amount    finance.Amount `json:"amount"`
}

type limitRequest struct {
	DailyLimit finance.Amount `json:"daily_limit"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

type authorizeRequest struct {
	Enabled bool `json:"enabled"`
}

// AgentView is an agent with its custody balance and rolled spend state.
type AgentView struct {
	ledger.Agent
	Balance finance.Amount    `json:"balance"`
	Spend   ledger.SpendLimit `json:"spend"`
}

func (s *Server) ledgerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/agents", s.handleRegister)
	mux.HandleFunc("GET /v1/agents", s.handleAgentsByOwner)
	mux.HandleFunc("GET /v1/agents/{agent}", s.handleAgent)
	mux.HandleFunc("POST /v1/agents/{agent}/deposit", s.handleDeposit)
	mux.HandleFunc("POST /v1/agents/{agent}/debit", s.handleDebit)
	mux.HandleFunc("PUT /v1/agents/{agent}/limit", s.handleSetLimit)
	mux.HandleFunc("PUT /v1/agents/{agent}/active", s.handleSetActive)
	mux.HandleFunc("PUT /v1/callers/{caller}", s.handleAuthorize)
	mux.HandleFunc("GET /v1/callers/{caller}", s.handleIsAuthorized)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.validator.decode(w, r, "agent.register", &req) {
		return
	}
	s.operation(w, r, "agent.register", http.StatusCreated, func(ctx context.Context, caller string) (any, error) {
		id, err := s.Ledger.RegisterAgent(ctx, caller, req.Wallet, req.Name, req.Description)
		if err != nil {
			return nil, err
		}
		return s.Ledger.Agent(ctx, id)
	})
}

func (s *Server) handleAgentsByOwner(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "agent.list", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			owner = caller
		}
		return list(s.Ledger.AgentsByOwner(ctx, owner))
	})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "agent.get", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		return s.agentView(ctx, r.PathValue("agent"))
	})
}

func (s *Server) agentView(ctx context.Context, id string) (AgentView, error) {
	a, err := s.Ledger.Agent(ctx, id)
	if err != nil {
		return AgentView{}, err
	}
	bal, err := s.Ledger.Balance(ctx, a.ID)
	if err != nil {
		return AgentView{}, err
	}
	spend, err := s.Ledger.Spend(ctx, a.ID)
	if err != nil {
		return AgentView{}, err
	}
	return AgentView{Agent: a, Balance: bal, Spend: spend}, nil
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.validator.decode(w, r, "ledger.deposit", &req) {
		return
	}
	s.operation(w, r, "ledger.deposit", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		if err := s.Ledger.Deposit(ctx, caller, r.PathValue("agent"), req.Amount); err != nil {
			return nil, err
		}
		return s.agentView(ctx, r.PathValue("agent"))
	})
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if !s.validator.decode(w, r, "ledger.debit", &req) {
		return
	}
	s.operation(w, r, "ledger.debit", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		return s.Ledger.Debit(ctx, caller, r.PathValue("agent"), req.Recipient, req.Amount)
	})
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if !s.validator.decode(w, r, "ledger.limit", &req) {
		return
	}
	s.operation(w, r, "ledger.limit", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		if err := s.Ledger.SetSpendLimit(ctx, caller, r.PathValue("agent"), req.DailyLimit); err != nil {
			return nil, err
		}
		return s.Ledger.Spend(ctx, r.PathValue("agent"))
	})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !s.validator.decode(w, r, "agent.active", &req) {
		return
	}
	s.operation(w, r, "agent.active", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		if err := s.Ledger.SetActive(ctx, caller, r.PathValue("agent"), req.Active); err != nil {
			return nil, err
		}
		return s.Ledger.Agent(ctx, r.PathValue("agent"))
	})
}

type callerStatus struct {
	Caller     string `json:"caller"`
	Authorized bool   `json:"authorized"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !s.validator.decode(w, r, "ledger.authorize", &req) {
		return
	}
	s.operation(w, r, "ledger.authorize", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		target := r.PathValue("caller")
		if err := s.Ledger.AuthorizeCaller(ctx, caller, target, req.Enabled); err != nil {
			return nil, err
		}
		ok, err := s.Ledger.IsAuthorized(ctx, target)
		return callerStatus{Caller: target, Authorized: ok}, err
	})
}

func (s *Server) handleIsAuthorized(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "ledger.is_authorized", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		target := r.PathValue("caller")
		ok, err := s.Ledger.IsAuthorized(ctx, target)
		return callerStatus{Caller: target, Authorized: ok}, err
	})
}

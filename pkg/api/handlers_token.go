package api

import (
	"context"
	"net/http"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

type mintRequest struct {
	Holder string         `json:"holder"`
	Amount finance.Amount `json:"amount"`
}

type approveRequest struct {
	Spender string         `json:"spender"`
	Amount  finance.Amount `json:"amount"`
}

type tokenBalance struct {
	Holder  string         `json:"holder"`
	Balance finance.Amount `json:"balance"`
}

type tokenAllowance struct {
	Owner     string         `json:"owner"`
	Spender   string         `json:"spender"`
	Allowance finance.Amount `json:"allowance"`
}

// tokenRoutes exposes the in-process development token.
func (s *Server) tokenRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/token/mint", s.handleMint)
	mux.HandleFunc("POST /v1/token/approve", s.handleApprove)
	mux.HandleFunc("GET /v1/token/balance/{holder}", s.handleTokenBalance)
	mux.HandleFunc("GET /v1/token/allowance", s.handleTokenAllowance)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !s.validator.decode(w, r, "token.mint", &req) {
		return
	}
	s.operation(w, r, "token.mint", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		if token.Normalize(caller) != token.Normalize(s.Ledger.Admin()) {
			return nil, payerr.New(payerr.CodeUnauthorized, "token.Mint", "only the admin may mint")
		}
		s.DevToken.Mint(req.Holder, req.Amount)
		bal, err := s.DevToken.BalanceOf(ctx, req.Holder)
		return tokenBalance{Holder: token.Normalize(req.Holder), Balance: bal}, err
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !s.validator.decode(w, r, "token.approve", &req) {
		return
	}
	s.operation(w, r, "token.approve", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		s.DevToken.Approve(caller, req.Spender, req.Amount)
		a, err := s.DevToken.Allowance(ctx, caller, req.Spender)
		return tokenAllowance{Owner: token.Normalize(caller), Spender: token.Normalize(req.Spender), Allowance: a}, err
	})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "token.balance", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		holder := r.PathValue("holder")
		bal, err := s.DevToken.BalanceOf(ctx, holder)
		return tokenBalance{Holder: token.Normalize(holder), Balance: bal}, err
	})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "token.allowance", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		q := r.URL.Query()
		owner := q.Get("owner")
		if owner == "" {
			owner = caller
		}
		spender := q.Get("spender")
		if spender == "" {
			return nil, payerr.New(payerr.CodeInvalidParameter, "token.Allowance", "spender is required")
		}
		a, err := s.DevToken.Allowance(ctx, owner, spender)
		return tokenAllowance{Owner: token.Normalize(owner), Spender: token.Normalize(spender), Allowance: a}, err
	})
}

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
)

const maxJournalPage = 500

type verifyResult struct {
	Valid    bool   `json:"valid"`
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) journalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/journal/head", s.handleJournalHead)
	mux.HandleFunc("GET /v1/journal/entries", s.handleJournalEntries)
	mux.HandleFunc("GET /v1/journal/verify", s.handleJournalVerify)
}

func (s *Server) handleJournalHead(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "journal.head", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		return s.Journal.Head(ctx)
	})
}

func (s *Server) handleJournalEntries(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "journal.entries", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		q := r.URL.Query()
		var after uint64
		if v := q.Get("after"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, payerr.New(payerr.CodeInvalidParameter, "api", "invalid after %q", v)
			}
			after = n
		}
		limit := 100
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return nil, payerr.New(payerr.CodeInvalidParameter, "api", "invalid limit %q", v)
			}
			limit = min(n, maxJournalPage)
		}
		return list(s.Journal.Entries(ctx, after, limit))
	})
}

func (s *Server) handleJournalVerify(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "journal.verify", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		head, err := s.Journal.Head(ctx)
		if err != nil {
			return nil, err
		}
		res := verifyResult{Valid: true, Sequence: head.Sequence, Hash: head.Hash}
		if err := s.Journal.Verify(ctx); err != nil {
			res.Valid = false
			res.Error = err.Error()
		}
		return res, nil
	})
}

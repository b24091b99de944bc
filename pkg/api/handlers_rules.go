package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/rules"
)

type createRuleRequest struct {
	AgentID   string          `json:"agent_id"`
	Recipient string          `json:"recipient"`
	Amount    finance.Amount  `json:"amount"`
	RuleType  rules.RuleType  `json:"rule_type"`
	Condition json.RawMessage `json:"condition"`
}

type executeRuleRequest struct {
	Proof json.RawMessage `json:"proof"`
}

func (s *Server) ruleRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/rules", s.handleCreateRule)
	mux.HandleFunc("GET /v1/rules/{id}", s.handleRule)
	mux.HandleFunc("POST /v1/rules/{id}/execute", s.handleExecuteRule)
	mux.HandleFunc("GET /v1/agents/{agent}/rules", s.handleAgentRules)
}

// rawBytes turns an optional JSON value into engine bytes: absent or null is
// empty, and everything else is passed through as its JSON text.
func rawBytes(m json.RawMessage) []byte {
	t := bytes.TrimSpace(m)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	return t
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if !s.validator.decode(w, r, "rule.create", &req) {
		return
	}
	s.operation(w, r, "rule.create", http.StatusCreated, func(ctx context.Context, caller string) (any, error) {
		id, err := s.Rules.CreateRule(ctx, caller, req.AgentID, req.Recipient, req.Amount, req.RuleType, rawBytes(req.Condition))
		if err != nil {
			return nil, err
		}
		return s.Rules.Rule(ctx, id)
	})
}

func (s *Server) handleRule(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "rule.get", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		id, err := pathID(r, "id")
		if err != nil {
			return nil, err
		}
		return s.Rules.Rule(ctx, id)
	})
}

func (s *Server) handleExecuteRule(w http.ResponseWriter, r *http.Request) {
	var req executeRuleRequest
	if !s.validator.decode(w, r, "rule.execute", &req) {
		return
	}
	s.operation(w, r, "rule.execute", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		id, err := pathID(r, "id")
		if err != nil {
			return nil, err
		}
		return s.Rules.ExecuteRule(ctx, caller, id, rawBytes(req.Proof))
	})
}

func (s *Server) handleAgentRules(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "rule.list", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		return list(s.Rules.AgentRules(ctx, r.PathValue("agent")))
	})
}

package api

import (
	"context"
	"net/http"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

type createSubscriptionRequest struct {
	AgentID       string         `json:"agent_id"`
	Recipient     string         `json:"recipient"`
	Amount        finance.Amount `json:"amount"`
	PeriodSeconds int64          `json:"period_seconds"`
}

type createStreamRequest struct {
	AgentID         string         `json:"agent_id"`
	Recipient       string         `json:"recipient"`
	Total           finance.Amount `json:"total"`
	DurationSeconds int64          `json:"duration_seconds"`
}

func (s *Server) streamRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("POST /v1/streams", s.handleCreateStream)
	mux.HandleFunc("GET /v1/subscriptions/{id}", s.handleSubscription)
	mux.HandleFunc("POST /v1/subscriptions/{id}/process", s.handleProcessPayment)
	mux.HandleFunc("POST /v1/subscriptions/{id}/cancel", s.handleCancelSubscription)
	mux.HandleFunc("GET /v1/agents/{agent}/subscriptions", s.handleAgentSubscriptions)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if !s.validator.decode(w, r, "subscription.create", &req) {
		return
	}
	s.operation(w, r, "subscription.create", http.StatusCreated, func(ctx context.Context, caller string) (any, error) {
		period, err := seconds(req.PeriodSeconds)
		if err != nil {
			return nil, err
		}
		id, err := s.Streams.CreateSubscription(ctx, caller, req.AgentID, req.Recipient, req.Amount, period)
		if err != nil {
			return nil, err
		}
		return s.Streams.Subscription(ctx, id)
	})
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if !s.validator.decode(w, r, "stream.create", &req) {
		return
	}
	s.operation(w, r, "stream.create", http.StatusCreated, func(ctx context.Context, caller string) (any, error) {
		duration, err := seconds(req.DurationSeconds)
		if err != nil {
			return nil, err
		}
		id, err := s.Streams.CreateStream(ctx, caller, req.AgentID, req.Recipient, req.Total, duration)
		if err != nil {
			return nil, err
		}
		return s.Streams.Subscription(ctx, id)
	})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "subscription.get", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		id, err := pathID(r, "id")
		if err != nil {
			return nil, err
		}
		return s.Streams.Subscription(ctx, id)
	})
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "subscription.process", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		id, err := pathID(r, "id")
		if err != nil {
			return nil, err
		}
		return s.Streams.ProcessPayment(ctx, caller, id)
	})
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "subscription.cancel", http.StatusOK, func(ctx context.Context, caller string) (any, error) {
		id, err := pathID(r, "id")
		if err != nil {
			return nil, err
		}
		if err := s.Streams.CancelSubscription(ctx, caller, id); err != nil {
			return nil, err
		}
		return s.Streams.Subscription(ctx, id)
	})
}

func (s *Server) handleAgentSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.operation(w, r, "subscription.list", http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		return list(s.Streams.AgentSubscriptions(ctx, r.PathValue("agent")))
	})
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/auth"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/escrow"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/observability"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/rules"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/streams"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

// Deps are the collaborators served by the API.
type Deps struct {
	Ledger  *ledger.Ledger
	Rules   *rules.Engine
	Streams *streams.Engine
	Escrow  *escrow.Engine
	Journal *journal.Journal

	Signer *auth.Signer
	Obs    *observability.Provider
	Logger *slog.Logger

	// Limiter is optional; nil disables rate limiting.
	Limiter Limiter
	// RateLimitRPS sets the Retry-After hint for rejected requests.
	RateLimitRPS float64
	// Idempotency is optional; nil disables replay.
	Idempotency IdempotencyStorer

	// DevToken enables the development token endpoints.
	DevToken *token.MemoryToken
}

// Server routes HTTP requests to the payment engines.
type Server struct {
	Deps
	validator *validator
}

// NewServer validates deps and compiles request schemas.
func NewServer(d Deps) (*Server, error) {
	if d.Ledger == nil || d.Rules == nil || d.Streams == nil || d.Escrow == nil || d.Journal == nil {
		return nil, errors.New("api: ledger, engines and journal are required")
	}
	if d.Obs == nil {
		obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		d.Obs = obs
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("component", "api")

	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Server{Deps: d, validator: v}, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	s.ledgerRoutes(mux)
	s.ruleRoutes(mux)
	s.streamRoutes(mux)
	s.escrowRoutes(mux)
	s.journalRoutes(mux)
	if s.DevToken != nil {
		s.tokenRoutes(mux)
	}

	var h http.Handler = mux
	h = IdempotencyMiddleware(s.Idempotency)(h)
	h = RateLimitMiddleware(s.Limiter, s.RateLimitRPS)(h)
	h = AuthMiddleware(s.Signer)(h)
	h = AccessLog(s.Logger)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// operation runs fn inside a tracked span and writes its result or failure.
func (s *Server) operation(w http.ResponseWriter, r *http.Request, name string, status int, fn func(ctx context.Context, caller string) (any, error)) {
	caller, err := auth.CallerID(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	ctx, done := s.Obs.TrackOperation(r.Context(), name)
	out, err := fn(ctx, caller)
	done(err)
	if err != nil {
		if payerr.CodeOf(err) == payerr.CodeInternal {
			s.Logger.ErrorContext(ctx, "operation failed", "op", name, "caller", caller, "error", err)
		} else {
			s.Logger.WarnContext(ctx, "operation rejected", "op", name, "caller", caller, "code", payerr.CodeOf(err), "error", err)
		}
		WriteFailure(w, r, err)
		return
	}
	writeJSON(w, status, out)
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, payerr.New(payerr.CodeInvalidParameter, "api", "invalid %s %q", name, raw)
	}
	return id, nil
}

func unixTime(secs int64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func seconds(n int64) (time.Duration, error) {
	if n <= 0 || n > int64(1<<62)/int64(time.Second) {
		return 0, payerr.New(payerr.CodeInvalidParameter, "api", "duration %d out of range", n)
	}
	return time.Duration(n) * time.Second, nil
}

// list keeps empty results encoded as [] rather than null.
func list[T any](xs []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if xs == nil {
		xs = []T{}
	}
	return xs, nil
}

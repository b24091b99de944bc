package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/api"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/auth"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/escrow"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/rules"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/streams"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

const (
	admin       = "0xadmin"
	owner       = "0xowner"
	stranger    = "0xstranger"
	agentWallet = "0xbot"
	shop        = "0xshop"
	ledgerVault = "agentpay:ledger"
	escrowVault = "agentpay:escrow"
	rulesID     = "agentpay:rules"
	streamsID   = "agentpay:streams"
)

type harness struct {
	t      *testing.T
	h      http.Handler
	signer *auth.Signer
	tok    *token.MemoryToken
}

type harnessOption func(*api.Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	j := journal.New(st)
	tok := token.NewMemoryToken()
	led := ledger.New(st, token.NewVault(tok, ledgerVault), j, admin).WithCustodyAccounts(escrowVault)
	re, err := rules.New(st, led, j, rulesID)
	require.NoError(t, err)
	se := streams.New(st, led, j, streamsID)
	ee := escrow.New(st, token.NewVault(tok, escrowVault), j)
	require.NoError(t, led.AuthorizeCaller(ctx, admin, rulesID, true))
	require.NoError(t, led.AuthorizeCaller(ctx, admin, streamsID, true))

	signer, err := auth.NewSigner("test-secret")
	require.NoError(t, err)

	deps := api.Deps{
		Ledger:      led,
		Rules:       re,
		Streams:     se,
		Escrow:      ee,
		Journal:     j,
		Signer:      signer,
		Idempotency: api.NewIdempotencyStore(time.Hour),
		DevToken:    tok,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := api.NewServer(deps)
	require.NoError(t, err)
	return &harness{t: t, h: srv.Handler(), signer: signer, tok: tok}
}

func (h *harness) do(method, path, caller string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		tok, err := h.signer.Issue(caller, time.Hour)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// fundedAgent registers the agent for owner and deposits amount through the API.
func (h *harness) fundedAgent(amount string) {
	h.t.Helper()
	w := h.do("POST", "/v1/agents", owner, map[string]any{"wallet": agentWallet, "name": "shopper"})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do("POST", "/v1/token/mint", admin, map[string]any{"holder": owner, "amount": amount})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	w = h.do("POST", "/v1/token/approve", owner, map[string]any{"spender": ledgerVault, "amount": amount})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	w = h.do("POST", "/v1/agents/"+agentWallet+"/deposit", owner, map[string]any{"amount": amount})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t)
	w := h.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequiresBearerToken(t *testing.T) {
	h := newHarness(t)
	w := h.do("GET", "/v1/journal/head", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestAgentLifecycle(t *testing.T) {
	h := newHarness(t)
	h.fundedAgent("1000")

	w := h.do("GET", "/v1/agents/"+agentWallet, owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[map[string]any](t, w)
	assert.Equal(t, "1000", view["balance"])
	assert.Equal(t, owner, view["owner"])

	w = h.do("PUT", "/v1/agents/"+agentWallet+"/limit", owner, map[string]any{"daily_limit": "100"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do("POST", "/v1/agents/"+agentWallet+"/debit", owner, map[string]any{"recipient": shop, "amount": "60"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	receipt := decode[ledger.Receipt](t, w)
	assert.Equal(t, "940", receipt.BalanceAfter.String())
	assert.Equal(t, "60", receipt.DailySpent.String())

	w = h.do("POST", "/v1/agents/"+agentWallet+"/debit", owner, map[string]any{"recipient": shop, "amount": "50"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	problem := decode[api.ProblemDetail](t, w)
	assert.Equal(t, "DAILY_LIMIT_EXCEEDED", problem.Code)
	assert.Equal(t, "/v1/agents/"+agentWallet+"/debit", problem.Instance)

	w = h.do("POST", "/v1/agents/"+agentWallet+"/debit", stranger, map[string]any{"recipient": shop, "amount": "1"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[api.ProblemDetail](t, w).Code)

	w = h.do("POST", "/v1/agents", owner, map[string]any{"wallet": agentWallet, "name": "again"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_AGENT", decode[api.ProblemDetail](t, w).Code)

	w = h.do("GET", "/v1/agents", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]ledger.Agent](t, w), 1)

	w = h.do("GET", "/v1/agents", stranger, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	h.fundedAgent("10")

	cases := []map[string]any{
		{"recipient": shop},                                  // missing amount
		{"recipient": shop, "amount": "-5"},                  // not base units
		{"recipient": shop, "amount": "1.5"},                 // fractional
		{"recipient": shop, "amount": "1", "memo": "hello"}, // unknown field
	}
	for _, body := range cases {
		w := h.do("POST", "/v1/agents/"+agentWallet+"/debit", owner, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}

	w := h.do("GET", "/v1/rules/abc", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do("GET", "/v1/rules/99", owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleExecution(t *testing.T) {
	h := newHarness(t)
	h.fundedAgent("500")

	w := h.do("POST", "/v1/rules", owner, map[string]any{
		"agent_id":  agentWallet,
		"recipient": shop,
		"amount":    "200",
		"rule_type": "threshold",
		"condition": map[string]any{"field": "score", "op": ">=", "threshold": 80},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rule := decode[rules.Rule](t, w)
	path := "/v1/rules/" + itoa(rule.ID) + "/execute"

	w = h.do("POST", path, stranger, map[string]any{"proof": map[string]any{"score": 79}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "RULE_NOT_SATISFIED", decode[api.ProblemDetail](t, w).Code)

	w = h.do("POST", path, stranger, map[string]any{"proof": map[string]any{"score": 91}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "300", decode[ledger.Receipt](t, w).BalanceAfter.String())

	w = h.do("POST", path, stranger, map[string]any{"proof": map[string]any{"score": 91}})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RULE_ALREADY_EXECUTED", decode[api.ProblemDetail](t, w).Code)

	w = h.do("GET", "/v1/agents/"+agentWallet+"/rules", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]rules.Rule](t, w)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].Active)
}

func TestSubscriptionEndpoints(t *testing.T) {
	h := newHarness(t)
	h.fundedAgent("500")

	w := h.do("POST", "/v1/subscriptions", owner, map[string]any{
		"agent_id": agentWallet, "recipient": shop, "amount": "50", "period_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decode[streams.Stream](t, w)

	// Not yet due: processing succeeds without paying.
	w = h.do("POST", "/v1/subscriptions/"+itoa(sub.ID)+"/process", stranger, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[streams.Tick](t, w).Paid.IsZero())

	w = h.do("POST", "/v1/subscriptions/"+itoa(sub.ID)+"/cancel", stranger, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = h.do("POST", "/v1/subscriptions/"+itoa(sub.ID)+"/cancel", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[streams.Stream](t, w).Active)

	w = h.do("POST", "/v1/subscriptions/"+itoa(sub.ID)+"/process", owner, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "STREAM_NOT_ACTIVE", decode[api.ProblemDetail](t, w).Code)

	w = h.do("POST", "/v1/streams", owner, map[string]any{
		"agent_id": agentWallet, "recipient": shop, "total": "100", "duration_seconds": 0,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscrowEndpoints(t *testing.T) {
	h := newHarness(t)
	h.tok.Mint(owner, mustAmount(t, "100"))
	h.tok.Approve(owner, escrowVault, mustAmount(t, "100"))

	w := h.do("POST", "/v1/escrows/milestone", owner, map[string]any{
		"payee": shop, "total": "100", "milestones": 3, "description": "three deliveries",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	x := decode[escrow.Escrow](t, w)
	base := "/v1/escrows/" + itoa(x.ID)

	w = h.do("POST", base+"/milestones/release", shop, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	for i := 0; i < 3; i++ {
		w = h.do("POST", base+"/milestones/release", owner, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	x = decode[escrow.Escrow](t, w)
	assert.Equal(t, escrow.Completed, x.Status)
	bal, err := h.tok.BalanceOf(context.Background(), shop)
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())

	w = h.do("POST", base+"/cancel", owner, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ESCROW_NOT_ACTIVE", decode[api.ProblemDetail](t, w).Code)

	w = h.do("GET", "/v1/escrows/count", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count": 1}`, w.Body.String())

	w = h.do("GET", "/v1/escrows?party="+shop, owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]escrow.Escrow](t, w), 1)

	w = h.do("POST", "/v1/escrows", owner, map[string]any{"payee": shop, "amount": "10"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_ALLOWANCE", decode[api.ProblemDetail](t, w).Code)
}

func TestIdempotentDebitReplay(t *testing.T) {
	h := newHarness(t)
	h.fundedAgent("100")

	body := map[string]any{"recipient": shop, "amount": "30"}
	first := h.do("POST", "/v1/agents/"+agentWallet+"/debit", owner, body, "Idempotency-Key", "order-1")
	require.Equal(t, http.StatusOK, first.Code)
	second := h.do("POST", "/v1/agents/"+agentWallet+"/debit", owner, body, "Idempotency-Key", "order-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	bal, err := h.tok.BalanceOf(context.Background(), shop)
	require.NoError(t, err)
	assert.Equal(t, "30", bal.String())

	// The same key from another caller is a different request.
	other := h.do("POST", "/v1/agents/"+agentWallet+"/debit", stranger, body, "Idempotency-Key", "order-1")
	assert.Equal(t, http.StatusForbidden, other.Code)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(d *api.Deps) {
		d.Limiter = api.NewMemoryLimiter(0.5, 2)
		d.RateLimitRPS = 0.5
	})
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, h.do("GET", "/v1/journal/head", owner, nil).Code)
	}
	w := h.do("GET", "/v1/journal/head", owner, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	// Buckets are per caller.
	assert.Equal(t, http.StatusOK, h.do("GET", "/v1/journal/head", stranger, nil).Code)
}

func TestJournalEndpoints(t *testing.T) {
	h := newHarness(t)
	h.fundedAgent("100")

	w := h.do("GET", "/v1/journal/verify", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[map[string]any](t, w)
	assert.Equal(t, true, res["valid"])

	w = h.do("GET", "/v1/journal/entries?after=0&limit=2", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]journal.Entry](t, w)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Sequence)

	w = h.do("GET", "/v1/journal/entries?limit=zero", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevTokenMintIsAdminOnly(t *testing.T) {
	h := newHarness(t)
	w := h.do("POST", "/v1/token/mint", owner, map[string]any{"holder": owner, "amount": "5"})
	require.Equal(t, http.StatusForbidden, w.Code)

	h = newHarness(t, func(d *api.Deps) { d.DevToken = nil })
	w = h.do("POST", "/v1/token/mint", admin, map[string]any{"holder": owner, "amount": "5"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

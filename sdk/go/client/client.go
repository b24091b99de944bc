// Package client provides a typed Go client for the agentpay HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/api"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/escrow"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/rules"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/streams"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Code   string
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agentpay api %d: %s (%s)", e.Status, e.Detail, e.Code)
	}
	return fmt.Sprintf("agentpay api %d: %s", e.Status, e.Detail)
}

// Client is a typed client for the agentpay API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// Idempotent makes every POST carry a fresh Idempotency-Key.
	Idempotent bool
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(tok string) Option {
	return func(c *Client) { c.Token = tok }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithIdempotency enables automatic Idempotency-Key headers on POST requests.
func WithIdempotency() Option {
	return func(c *Client) { c.Idempotent = true }
}

type keyCtx struct{}

// WithIdempotencyKey pins the Idempotency-Key of requests made with ctx,
// so that a retried call replays the original response.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if key, ok := ctx.Value(keyCtx{}).(string); ok && key != "" {
		req.Header.Set("Idempotency-Key", key)
	} else if c.Idempotent && method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var pd api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&pd); err == nil && pd.Status != 0 {
			return &APIError{Status: resp.StatusCode, Code: pd.Code, Title: pd.Title, Detail: pd.Detail}
		}
		return &APIError{Status: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var out T
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func send[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	err := c.do(ctx, method, path, body, &out)
	return out, err
}

func id(n uint64) string { return strconv.FormatUint(n, 10) }

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	return get[map[string]string](ctx, c, "/health")
}

// RegisterAgent calls POST /v1/agents. The caller becomes the owner.
func (c *Client) RegisterAgent(ctx context.Context, wallet, name, description string) (ledger.Agent, error) {
	return send[ledger.Agent](ctx, c, http.MethodPost, "/v1/agents", map[string]any{
		"wallet": wallet, "name": name, "description": description,
	})
}

// Agent calls GET /v1/agents/{agent}.
func (c *Client) Agent(ctx context.Context, agentID string) (api.AgentView, error) {
	return get[api.AgentView](ctx, c, "/v1/agents/"+url.PathEscape(agentID))
}

// AgentsByOwner calls GET /v1/agents?owner=. An empty owner lists the caller's agents.
func (c *Client) AgentsByOwner(ctx context.Context, owner string) ([]ledger.Agent, error) {
	path := "/v1/agents"
	if owner != "" {
		path += "?owner=" + url.QueryEscape(owner)
	}
	return get[[]ledger.Agent](ctx, c, path)
}

// Deposit calls POST /v1/agents/{agent}/deposit.
func (c *Client) Deposit(ctx context.Context, agentID string, amount finance.Amount) (api.AgentView, error) {
	return send[api.AgentView](ctx, c, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/deposit",
		map[string]any{"amount": amount})
}

// Debit calls POST /v1/agents/{agent}/debit.
func (c *Client) Debit(ctx context.Context, agentID, recipient string, amount finance.Amount) (ledger.Receipt, error) {
	return send[ledger.Receipt](ctx, c, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/debit",
		map[string]any{"recipient": recipient, "amount": amount})
}

// SetSpendLimit calls PUT /v1/agents/{agent}/limit.
func (c *Client) SetSpendLimit(ctx context.Context, agentID string, limit finance.Amount) (ledger.SpendLimit, error) {
	return send[ledger.SpendLimit](ctx, c, http.MethodPut, "/v1/agents/"+url.PathEscape(agentID)+"/limit",
		map[string]any{"daily_limit": limit})
}

// SetActive calls PUT /v1/agents/{agent}/active.
func (c *Client) SetActive(ctx context.Context, agentID string, active bool) (ledger.Agent, error) {
	return send[ledger.Agent](ctx, c, http.MethodPut, "/v1/agents/"+url.PathEscape(agentID)+"/active",
		map[string]any{"active": active})
}

// CallerStatus is the debit allow-list state of a caller.
type CallerStatus struct {
	Caller     string `json:"caller"`
	Authorized bool   `json:"authorized"`
}

// AuthorizeCaller calls PUT /v1/callers/{caller}. Admin only.
func (c *Client) AuthorizeCaller(ctx context.Context, callerID string, enabled bool) (CallerStatus, error) {
	return send[CallerStatus](ctx, c, http.MethodPut, "/v1/callers/"+url.PathEscape(callerID),
		map[string]any{"enabled": enabled})
}

// IsAuthorized calls GET /v1/callers/{caller}.
func (c *Client) IsAuthorized(ctx context.Context, callerID string) (bool, error) {
	st, err := get[CallerStatus](ctx, c, "/v1/callers/"+url.PathEscape(callerID))
	return st.Authorized, err
}

// CreateRule calls POST /v1/rules. condition is marshalled as the rule's condition data.
func (c *Client) CreateRule(ctx context.Context, agentID, recipient string, amount finance.Amount, typ rules.RuleType, condition any) (rules.Rule, error) {
	return send[rules.Rule](ctx, c, http.MethodPost, "/v1/rules", map[string]any{
		"agent_id": agentID, "recipient": recipient, "amount": amount, "rule_type": typ, "condition": condition,
	})
}

// Rule calls GET /v1/rules/{id}.
func (c *Client) Rule(ctx context.Context, ruleID uint64) (rules.Rule, error) {
	return get[rules.Rule](ctx, c, "/v1/rules/"+id(ruleID))
}

// ExecuteRule calls POST /v1/rules/{id}/execute.
func (c *Client) ExecuteRule(ctx context.Context, ruleID uint64, proof any) (ledger.Receipt, error) {
	return send[ledger.Receipt](ctx, c, http.MethodPost, "/v1/rules/"+id(ruleID)+"/execute", map[string]any{"proof": proof})
}

// AgentRules calls GET /v1/agents/{agent}/rules.
func (c *Client) AgentRules(ctx context.Context, agentID string) ([]rules.Rule, error) {
	return get[[]rules.Rule](ctx, c, "/v1/agents/"+url.PathEscape(agentID)+"/rules")
}

// CreateSubscription calls POST /v1/subscriptions.
func (c *Client) CreateSubscription(ctx context.Context, agentID, recipient string, amount finance.Amount, period time.Duration) (streams.Stream, error) {
	return send[streams.Stream](ctx, c, http.MethodPost, "/v1/subscriptions", map[string]any{
		"agent_id": agentID, "recipient": recipient, "amount": amount, "period_seconds": int64(period / time.Second),
	})
}

// CreateStream calls POST /v1/streams.
func (c *Client) CreateStream(ctx context.Context, agentID, recipient string, total finance.Amount, duration time.Duration) (streams.Stream, error) {
	return send[streams.Stream](ctx, c, http.MethodPost, "/v1/streams", map[string]any{
		"agent_id": agentID, "recipient": recipient, "total": total, "duration_seconds": int64(duration / time.Second),
	})
}

// Subscription calls GET /v1/subscriptions/{id}.
func (c *Client) Subscription(ctx context.Context, subID uint64) (streams.Stream, error) {
	return get[streams.Stream](ctx, c, "/v1/subscriptions/"+id(subID))
}

// ProcessPayment calls POST /v1/subscriptions/{id}/process.
func (c *Client) ProcessPayment(ctx context.Context, subID uint64) (streams.Tick, error) {
	return send[streams.Tick](ctx, c, http.MethodPost, "/v1/subscriptions/"+id(subID)+"/process", nil)
}

// CancelSubscription calls POST /v1/subscriptions/{id}/cancel.
func (c *Client) CancelSubscription(ctx context.Context, subID uint64) (streams.Stream, error) {
	return send[streams.Stream](ctx, c, http.MethodPost, "/v1/subscriptions/"+id(subID)+"/cancel", nil)
}

// AgentSubscriptions calls GET /v1/agents/{agent}/subscriptions.
func (c *Client) AgentSubscriptions(ctx context.Context, agentID string) ([]streams.Stream, error) {
	return get[[]streams.Stream](ctx, c, "/v1/agents/"+url.PathEscape(agentID)+"/subscriptions")
}

// CreateEscrow calls POST /v1/escrows. A zero releaseTime means no time lock.
func (c *Client) CreateEscrow(ctx context.Context, payee string, amount finance.Amount, description string, autoRelease bool, releaseTime time.Time) (escrow.Escrow, error) {
	body := map[string]any{
		"payee": payee, "amount": amount, "description": description, "auto_release": autoRelease,
	}
	if !releaseTime.IsZero() {
		body["release_time"] = releaseTime.Unix()
	}
	return send[escrow.Escrow](ctx, c, http.MethodPost, "/v1/escrows", body)
}

// CreateMilestoneEscrow calls POST /v1/escrows/milestone.
func (c *Client) CreateMilestoneEscrow(ctx context.Context, payee string, total finance.Amount, milestones uint32, description string) (escrow.Escrow, error) {
	return send[escrow.Escrow](ctx, c, http.MethodPost, "/v1/escrows/milestone", map[string]any{
		"payee": payee, "total": total, "milestones": milestones, "description": description,
	})
}

// Escrow calls GET /v1/escrows/{id}.
func (c *Client) Escrow(ctx context.Context, escrowID uint64) (escrow.Escrow, error) {
	return get[escrow.Escrow](ctx, c, "/v1/escrows/"+id(escrowID))
}

// EscrowCount calls GET /v1/escrows/count.
func (c *Client) EscrowCount(ctx context.Context) (int, error) {
	out, err := get[struct {
		Count int `json:"count"`
	}](ctx, c, "/v1/escrows/count")
	return out.Count, err
}

// EscrowsByParty calls GET /v1/escrows?party=. An empty party lists the caller's escrows.
func (c *Client) EscrowsByParty(ctx context.Context, party string) ([]escrow.Escrow, error) {
	path := "/v1/escrows"
	if party != "" {
		path += "?party=" + url.QueryEscape(party)
	}
	return get[[]escrow.Escrow](ctx, c, path)
}

// ReleaseEscrow calls POST /v1/escrows/{id}/release.
func (c *Client) ReleaseEscrow(ctx context.Context, escrowID uint64) (escrow.Escrow, error) {
	return send[escrow.Escrow](ctx, c, http.MethodPost, "/v1/escrows/"+id(escrowID)+"/release", nil)
}

// ReleaseMilestone calls POST /v1/escrows/{id}/milestones/release.
func (c *Client) ReleaseMilestone(ctx context.Context, escrowID uint64) (escrow.Escrow, error) {
	return send[escrow.Escrow](ctx, c, http.MethodPost, "/v1/escrows/"+id(escrowID)+"/milestones/release", nil)
}

// CancelEscrow calls POST /v1/escrows/{id}/cancel.
func (c *Client) CancelEscrow(ctx context.Context, escrowID uint64) (escrow.Escrow, error) {
	return send[escrow.Escrow](ctx, c, http.MethodPost, "/v1/escrows/"+id(escrowID)+"/cancel", nil)
}

// JournalHead calls GET /v1/journal/head.
func (c *Client) JournalHead(ctx context.Context) (journal.Head, error) {
	return get[journal.Head](ctx, c, "/v1/journal/head")
}

// JournalEntries calls GET /v1/journal/entries. A limit of zero uses the server default.
func (c *Client) JournalEntries(ctx context.Context, after uint64, limit int) ([]journal.Entry, error) {
	q := url.Values{}
	q.Set("after", id(after))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return get[[]journal.Entry](ctx, c, "/v1/journal/entries?"+q.Encode())
}

// Verification is the server's journal integrity report.
type Verification struct {
	Valid    bool   `json:"valid"`
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
	Error    string `json:"error,omitempty"`
}

// VerifyJournal calls GET /v1/journal/verify.
func (c *Client) VerifyJournal(ctx context.Context) (Verification, error) {
	return get[Verification](ctx, c, "/v1/journal/verify")
}

// TokenBalance is a development token balance.
type TokenBalance struct {
	Holder  string         `json:"holder"`
	Balance finance.Amount `json:"balance"`
}

// TokenAllowance is a development token allowance.
type TokenAllowance struct {
	Owner     string         `json:"owner"`
	Spender   string         `json:"spender"`
	Allowance finance.Amount `json:"allowance"`
}

// Mint calls POST /v1/token/mint on servers running the development token. Admin only.
func (c *Client) Mint(ctx context.Context, holder string, amount finance.Amount) (TokenBalance, error) {
	return send[TokenBalance](ctx, c, http.MethodPost, "/v1/token/mint", map[string]any{"holder": holder, "amount": amount})
}

// Approve calls POST /v1/token/approve for the caller's tokens.
func (c *Client) Approve(ctx context.Context, spender string, amount finance.Amount) (TokenAllowance, error) {
	return send[TokenAllowance](ctx, c, http.MethodPost, "/v1/token/approve", map[string]any{"spender": spender, "amount": amount})
}

// Balance calls GET /v1/token/balance/{holder}.
func (c *Client) Balance(ctx context.Context, holder string) (finance.Amount, error) {
	out, err := get[TokenBalance](ctx, c, "/v1/token/balance/"+url.PathEscape(holder))
	return out.Balance, err
}

package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/api"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/auth"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/escrow"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/rules"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/streams"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
	"github.com/Isomkevin/agentpay-platform-MNEE/sdk/go/client"
)

const (
	admin       = "0xadmin"
	owner       = "0xowner"
	agentWallet = "0xbot"
	shop        = "0xshop"
	ledgerVault = "agentpay:ledger"
	escrowVault = "agentpay:escrow"
)

type fixture struct {
	url    string
	signer *auth.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	j := journal.New(st)
	tok := token.NewMemoryToken()
	led := ledger.New(st, token.NewVault(tok, ledgerVault), j, admin).WithCustodyAccounts(escrowVault)
	re, err := rules.New(st, led, j, "agentpay:rules")
	require.NoError(t, err)
	se := streams.New(st, led, j, "agentpay:streams")
	require.NoError(t, led.AuthorizeCaller(ctx, admin, "agentpay:rules", true))
	require.NoError(t, led.AuthorizeCaller(ctx, admin, "agentpay:streams", true))

	signer, err := auth.NewSigner("client-test-secret")
	require.NoError(t, err)
	srv, err := api.NewServer(api.Deps{
		Ledger:      led,
		Rules:       re,
		Streams:     se,
		Escrow:      escrow.New(st, token.NewVault(tok, escrowVault), j),
		Journal:     j,
		Signer:      signer,
		Idempotency: api.NewIdempotencyStore(time.Hour),
		DevToken:    tok,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{url: ts.URL, signer: signer}
}

func (f *fixture) as(t *testing.T, who string, opts ...client.Option) *client.Client {
	t.Helper()
	tok, err := f.signer.Issue(who, time.Hour)
	require.NoError(t, err)
	return client.New(f.url, append([]client.Option{client.WithToken(tok)}, opts...)...)
}

func amt(t *testing.T, s string) finance.Amount {
	t.Helper()
	a, err := finance.ParseBase(s)
	require.NoError(t, err)
	return a
}

func fund(t *testing.T, f *fixture, amount string) *client.Client {
	t.Helper()
	ctx := context.Background()
	c := f.as(t, owner)

	_, err := f.as(t, admin).Mint(ctx, owner, amt(t, amount))
	require.NoError(t, err)
	_, err = c.Approve(ctx, ledgerVault, amt(t, amount))
	require.NoError(t, err)
	a, err := c.RegisterAgent(ctx, agentWallet, "shopper", "")
	require.NoError(t, err)
	assert.Equal(t, owner, a.Owner)
	view, err := c.Deposit(ctx, agentWallet, amt(t, amount))
	require.NoError(t, err)
	assert.Equal(t, amount, view.Balance.String())
	return c
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	out, err := client.New(f.url).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t)
	_, err := client.New(f.url).JournalHead(context.Background())

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestDebitAndFailureCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := fund(t, f, "100")

	rcpt, err := c.Debit(ctx, agentWallet, shop, amt(t, "30"))
	require.NoError(t, err)
	assert.Equal(t, "70", rcpt.BalanceAfter.String())

	_, err = c.Debit(ctx, agentWallet, shop, amt(t, "500"))
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "INSUFFICIENT_BALANCE", apiErr.Code)

	limit, err := c.SetSpendLimit(ctx, agentWallet, amt(t, "10"))
	require.NoError(t, err)
	assert.Equal(t, "10", limit.DailyLimit.String())
	_, err = c.Debit(ctx, agentWallet, shop, amt(t, "11"))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "DAILY_LIMIT_EXCEEDED", apiErr.Code)

	_, err = f.as(t, shop).SetActive(ctx, agentWallet, false)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestIdempotencyKeyReplaysDebit(t *testing.T) {
	f := newFixture(t)
	c := fund(t, f, "100")
	ctx := client.WithIdempotencyKey(context.Background(), "order-42")

	first, err := c.Debit(ctx, agentWallet, shop, amt(t, "25"))
	require.NoError(t, err)
	second, err := c.Debit(ctx, agentWallet, shop, amt(t, "25"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	view, err := c.Agent(context.Background(), agentWallet)
	require.NoError(t, err)
	assert.Equal(t, "75", view.Balance.String())
}

func TestAutomaticIdempotencyKeysAreDistinct(t *testing.T) {
	f := newFixture(t)
	fund(t, f, "100")
	c := f.as(t, owner, client.WithIdempotency())
	ctx := context.Background()

	_, err := c.Debit(ctx, agentWallet, shop, amt(t, "25"))
	require.NoError(t, err)
	_, err = c.Debit(ctx, agentWallet, shop, amt(t, "25"))
	require.NoError(t, err)

	view, err := c.Agent(ctx, agentWallet)
	require.NoError(t, err)
	assert.Equal(t, "50", view.Balance.String())
}

func TestRulesAndSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := fund(t, f, "500")

	rule, err := c.CreateRule(ctx, agentWallet, shop, amt(t, "200"), rules.Threshold,
		map[string]any{"field": "score", "op": ">=", "threshold": 80})
	require.NoError(t, err)
	assert.True(t, rule.Active)

	executor := f.as(t, "0xoracle")
	_, err = executor.ExecuteRule(ctx, rule.ID, map[string]any{"score": 10})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "RULE_NOT_SATISFIED", apiErr.Code)

	rcpt, err := executor.ExecuteRule(ctx, rule.ID, map[string]any{"score": 95})
	require.NoError(t, err)
	assert.Equal(t, "300", rcpt.BalanceAfter.String())

	listed, err := c.AgentRules(ctx, agentWallet)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].Active)

	sub, err := c.CreateSubscription(ctx, agentWallet, shop, amt(t, "50"), time.Hour)
	require.NoError(t, err)
	tick, err := executor.ProcessPayment(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, tick.Paid.IsZero())

	stream, err := c.CreateStream(ctx, agentWallet, shop, amt(t, "100"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, streams.LinearStream, stream.Type)

	cancelled, err := c.CancelSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, cancelled.Active)

	subs, err := c.AgentSubscriptions(ctx, agentWallet)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	ok, err := c.IsAuthorized(ctx, "agentpay:rules")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEscrowAndJournal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.as(t, owner)

	_, err := f.as(t, admin).Mint(ctx, owner, amt(t, "90"))
	require.NoError(t, err)
	_, err = c.Approve(ctx, escrowVault, amt(t, "90"))
	require.NoError(t, err)

	x, err := c.CreateMilestoneEscrow(ctx, shop, amt(t, "90"), 3, "three deliveries")
	require.NoError(t, err)
	x, err = c.ReleaseMilestone(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.Active, x.Status)

	x, err = c.CancelEscrow(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.Cancelled, x.Status)

	bal, err := c.Balance(ctx, shop)
	require.NoError(t, err)
	assert.Equal(t, "30", bal.String())
	bal, err = c.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "60", bal.String())

	n, err := c.EscrowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	mine, err := f.as(t, shop).EscrowsByParty(ctx, "")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	head, err := c.JournalHead(ctx)
	require.NoError(t, err)
	entries, err := c.JournalEntries(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, int(head.Sequence))
	assert.Equal(t, head.Hash, entries[len(entries)-1].ContentHash)

	v, err := c.VerifyJournal(ctx)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, head.Sequence, v.Sequence)
}

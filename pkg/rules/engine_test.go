package rules

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

const (
	admin   = "0xadmin"
	owner   = "0xowner"
	agentID = "0xagent"
	payee   = "0xpayee"
	engine  = "agentpay:rules"
)

type fixture struct {
	ctx context.Context
	tok *token.MemoryToken
	led *ledger.Ledger
	eng *Engine
	now time.Time
}

func newFixture(t *testing.T, deposit int64) *fixture {
	t.Helper()
	f := &fixture{
		ctx: context.Background(),
		tok: token.NewMemoryToken(),
		now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	st := store.NewMemoryStore()
	j := journal.New(st)
	f.led = ledger.New(st, token.NewVault(f.tok, "agentpay:ledger"), j, admin).WithClock(clock)

	var err error
	f.eng, err = New(st, f.led, j, engine)
	require.NoError(t, err)
	f.eng.WithClock(clock)

	require.NoError(t, f.led.AuthorizeCaller(f.ctx, admin, engine, true))
	_, err = f.led.RegisterAgent(f.ctx, owner, agentID, "bot", "")
	require.NoError(t, err)
	if deposit > 0 {
		f.tok.Mint(owner, finance.NewAmount(deposit))
		f.tok.Approve(owner, "agentpay:ledger", finance.NewAmount(deposit))
		require.NoError(t, f.led.Deposit(f.ctx, owner, agentID, finance.NewAmount(deposit)))
	}
	return f
}

func (f *fixture) paid(t *testing.T) string {
	t.Helper()
	bal, err := f.tok.BalanceOf(f.ctx, payee)
	require.NoError(t, err)
	return bal.String()
}

func TestExecuteRule_AlwaysPaysExactlyOnce(t *testing.T) {
	f := newFixture(t, 100)

	id, err := f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(40), Always, nil)
	require.NoError(t, err)
	assert.Equal(t, "0", f.paid(t), "creating a rule moves no funds")

	receipt, err := f.eng.ExecuteRule(f.ctx, "0xanyone", id, nil)
	require.NoError(t, err)
	assert.Equal(t, "60", receipt.BalanceAfter.String())

	_, err = f.eng.ExecuteRule(f.ctx, "0xanyone", id, nil)
	assert.ErrorIs(t, err, payerr.ErrRuleAlreadyExecuted)
	assert.Equal(t, "40", f.paid(t))

	rule, err := f.eng.Rule(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, rule.Active)
	require.NotNil(t, rule.ExecutedAt)
	assert.Equal(t, f.now, *rule.ExecutedAt)
}

func TestExecuteRule_FailedDebitKeepsRuleActive(t *testing.T) {
	f := newFixture(t, 10)

	id, err := f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(40), Always, nil)
	require.NoError(t, err)

	_, err = f.eng.ExecuteRule(f.ctx, owner, id, nil)
	assert.ErrorIs(t, err, payerr.ErrInsufficientBalance)

	rule, err := f.eng.Rule(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, rule.Active)
	assert.Nil(t, rule.ExecutedAt)

	f.tok.Mint(owner, finance.NewAmount(30))
	f.tok.Approve(owner, "agentpay:ledger", finance.NewAmount(30))
	require.NoError(t, f.led.Deposit(f.ctx, owner, agentID, finance.NewAmount(30)))

	_, err = f.eng.ExecuteRule(f.ctx, owner, id, nil)
	require.NoError(t, err, "retry succeeds once funded")
	assert.Equal(t, "40", f.paid(t))
}

func TestExecuteRule_Conditions(t *testing.T) {
	f := newFixture(t, 1000)

	unlock := f.now.Add(time.Hour).Unix()
	timed, err := f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(1), TimeBased,
		[]byte(`{"unlock_at":`+itoa(unlock)+`}`))
	require.NoError(t, err)

	_, err = f.eng.ExecuteRule(f.ctx, owner, timed, nil)
	assert.ErrorIs(t, err, payerr.ErrRuleNotSatisfied)
	f.now = f.now.Add(time.Hour)
	_, err = f.eng.ExecuteRule(f.ctx, owner, timed, nil)
	require.NoError(t, err)

	success, err := f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(2), SuccessBased, abiBool(true))
	require.NoError(t, err)
	_, err = f.eng.ExecuteRule(f.ctx, owner, success, abiBool(false))
	assert.ErrorIs(t, err, payerr.ErrRuleNotSatisfied)
	_, err = f.eng.ExecuteRule(f.ctx, owner, success, []byte("true"))
	require.NoError(t, err)

	thr, err := f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(4), Threshold,
		[]byte(`{"field":"delivered","op":">","threshold":9}`))
	require.NoError(t, err)
	_, err = f.eng.ExecuteRule(f.ctx, owner, thr, []byte(`{"delivered":9}`))
	assert.ErrorIs(t, err, payerr.ErrRuleNotSatisfied)
	_, err = f.eng.ExecuteRule(f.ctx, owner, thr, []byte(`{"delivered":9.5}`))
	assert.ErrorIs(t, err, payerr.ErrRuleNotSatisfied)
	_, err = f.eng.ExecuteRule(f.ctx, owner, thr, []byte(`{"delivered":10}`))
	require.NoError(t, err)

	assert.Equal(t, "7", f.paid(t))

	rules, err := f.eng.AgentRules(f.ctx, agentID)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{rules[0].ID, rules[1].ID, rules[2].ID})
}

func TestCreateRule_Validation(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.eng.CreateRule(f.ctx, "0xstranger", agentID, payee, finance.NewAmount(1), Always, nil)
	assert.ErrorIs(t, err, payerr.ErrUnauthorized)

	_, err = f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.Zero(), Always, nil)
	assert.ErrorIs(t, err, payerr.ErrInvalidParameter)

	_, err = f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(1), TimeBased, []byte(`nope`))
	assert.ErrorIs(t, err, payerr.ErrInvalidParameter)

	_, err = f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(1), RuleType(9), nil)
	assert.ErrorIs(t, err, payerr.ErrInvalidParameter)

	_, err = f.eng.CreateRule(f.ctx, owner, "0xghost", payee, finance.NewAmount(1), Always, nil)
	assert.ErrorIs(t, err, payerr.ErrNotFound)

	_, err = f.eng.ExecuteRule(f.ctx, owner, 42, nil)
	assert.ErrorIs(t, err, payerr.ErrNotFound)
}

func TestExecuteRule_EngineNotAllowListed(t *testing.T) {
	f := newFixture(t, 100)
	require.NoError(t, f.led.AuthorizeCaller(f.ctx, admin, engine, false))

	id, err := f.eng.CreateRule(f.ctx, owner, agentID, payee, finance.NewAmount(1), Always, nil)
	require.NoError(t, err)
	_, err = f.eng.ExecuteRule(f.ctx, owner, id, nil)
	assert.ErrorIs(t, err, payerr.ErrUnauthorized)

	rule, err := f.eng.Rule(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, rule.Active)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

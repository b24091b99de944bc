// Package ledger owns agent records and custodied balances.
//
// It is the only component that moves custodied funds. Debits are accepted
// from the agent's owner or from allow-listed caller identities such as the
// rule and stream engines.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

// Ledger is the custodial balance book.
type Ledger struct {
	st      store.Store
	vault   *token.Vault
	journal *journal.Journal
	admin   string
	custody map[string]bool
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates a ledger holding custody in vault. admin may change the debit allow-list.
func New(st store.Store, vault *token.Vault, j *journal.Journal, admin string) *Ledger {
	return &Ledger{
		st:      st,
		vault:   vault,
		journal: j,
		admin:   token.Normalize(admin),
		custody: map[string]bool{vault.Address(): true},
		clock:   time.Now,
		logger:  slog.Default().With("component", "ledger"),
	}
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithCustodyAccounts reserves further custody addresses, such as the escrow
// vault, that Debit refuses to pay into.
func (l *Ledger) WithCustodyAccounts(addrs ...string) *Ledger {
	for _, a := range addrs {
		if a = token.Normalize(a); a != "" {
			l.custody[a] = true
		}
	}
	return l
}

// WithLogger sets the logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger.With("component", "ledger")
	return l
}

// Admin returns the identity allowed to edit the allow-list.
func (l *Ledger) Admin() string { return l.admin }

// RegisterAgent creates an agent keyed by walletID and owned by caller.
func (l *Ledger) RegisterAgent(ctx context.Context, caller, walletID, name, description string) (string, error) {
	const op = "ledger.RegisterAgent"
	id := token.Normalize(walletID)
	name = norm.NFC.String(strings.TrimSpace(name))
	if id == "" {
		return "", payerr.New(payerr.CodeInvalidParameter, op, "wallet id is required")
	}
	if name == "" {
		return "", payerr.New(payerr.CodeInvalidParameter, op, "name is required")
	}
	if token.Normalize(caller) == "" {
		return "", payerr.New(payerr.CodeUnauthorized, op, "caller identity is required")
	}

	err := l.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		var existing Agent
		ok, err := tx.Get(kindAgent, id, &existing)
		if err != nil {
			return err
		}
		if ok {
			return payerr.New(payerr.CodeDuplicateAgent, op, "agent %s already registered", id)
		}

		now := l.clock().UTC()
		agent := Agent{
			ID:          id,
			Owner:       token.Normalize(caller),
			Wallet:      id,
			Name:        name,
			Description: norm.NFC.String(description),
			Active:      true,
			CreatedAt:   now,
		}
		if err := tx.Put(kindAgent, id, agent); err != nil {
			return err
		}
		if err := tx.Put(kindBalance, id, Balance{AgentID: id}); err != nil {
			return err
		}
		if err := tx.Put(kindSpend, id, SpendLimit{AgentID: id, WindowStart: now}); err != nil {
			return err
		}
		_, err = l.journal.Append(ctx, "agent.registered", agent.Owner, agent)
		return err
	})
	if err != nil {
		return "", err
	}
	l.logger.InfoContext(ctx, "agent registered", "agent_id", id, "owner", token.Normalize(caller))
	return id, nil
}

// Deposit pulls amt from caller's token allowance into the agent's balance.
func (l *Ledger) Deposit(ctx context.Context, caller, agentID string, amt finance.Amount) error {
	const op = "ledger.Deposit"
	if !amt.IsPositive() {
		return payerr.New(payerr.CodeInvalidParameter, op, "amount must be positive")
	}
	id := token.Normalize(agentID)
	from := token.Normalize(caller)

	return l.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.loadAgent(tx, op, id); err != nil {
			return err
		}
		bal := Balance{AgentID: id}
		if _, err := tx.Get(kindBalance, id, &bal); err != nil {
			return err
		}
		bal.Amount = bal.Amount.Add(amt)
		if err := tx.Put(kindBalance, id, bal); err != nil {
			return err
		}
		if _, err := l.journal.Append(ctx, "ledger.deposit", from, map[string]any{
			"agent_id":      id,
			"amount":        amt,
			"balance_after": bal.Amount,
		}); err != nil {
			return err
		}
		if err := l.vault.Pull(ctx, from, amt); err != nil {
			return payerr.Wrap(payerr.CodeInsufficientAllowance, op, err)
		}
		return nil
	})
}

// Debit pays amt from the agent's balance to recipient.
//
// Every check runs before any write, and the token transfer is the last step
// of the transaction: either the balance, the spend counter and the transfer
// all change, or nothing does.
func (l *Ledger) Debit(ctx context.Context, caller, agentID, recipient string, amt finance.Amount) (Receipt, error) {
	const op = "ledger.Debit"
	if !amt.IsPositive() {
		return Receipt{}, payerr.New(payerr.CodeInvalidParameter, op, "amount must be positive")
	}
	to := token.Normalize(recipient)
	if to == "" {
		return Receipt{}, payerr.New(payerr.CodeInvalidParameter, op, "recipient is required")
	}
	if l.custody[to] {
		return Receipt{}, payerr.New(payerr.CodeInvalidParameter, op, "recipient %s is a custody account", to)
	}
	id := token.Normalize(agentID)
	who := token.Normalize(caller)

	var receipt Receipt
	err := l.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		agent, err := l.loadAgent(tx, op, id)
		if err != nil {
			return err
		}
		if who != agent.Owner {
			allowed, err := l.allowed(tx, who)
			if err != nil {
				return err
			}
			if !allowed {
				return payerr.New(payerr.CodeUnauthorized, op, "%s may not debit agent %s", who, id)
			}
		}
		if !agent.Active {
			return payerr.New(payerr.CodeUnauthorized, op, "agent %s is paused", id)
		}

		bal := Balance{AgentID: id}
		if _, err := tx.Get(kindBalance, id, &bal); err != nil {
			return err
		}
		left, err := bal.Amount.Sub(amt)
		if err != nil {
			return payerr.New(payerr.CodeInsufficientBalance, op, "balance %s below %s", bal.Amount, amt)
		}

		now := l.clock().UTC()
		spend := SpendLimit{AgentID: id, WindowStart: now}
		if _, err := tx.Get(kindSpend, id, &spend); err != nil {
			return err
		}
		spend = spend.Roll(now)
		if !spend.Allows(amt) {
			return payerr.New(payerr.CodeDailyLimitExceeded, op, "spent %s of %s", spend.DailySpent, spend.DailyLimit)
		}
		spend.DailySpent = spend.DailySpent.Add(amt)

		bal.Amount = left
		if err := tx.Put(kindBalance, id, bal); err != nil {
			return err
		}
		if err := tx.Put(kindSpend, id, spend); err != nil {
			return err
		}

		receipt = Receipt{
			ID:           uuid.NewString(),
			AgentID:      id,
			Caller:       who,
			Recipient:    to,
			Amount:       amt,
			BalanceAfter: left,
			DailySpent:   spend.DailySpent,
			At:           now,
		}
		if _, err := l.journal.Append(ctx, "ledger.debit", who, receipt); err != nil {
			return err
		}
		return l.vault.Push(ctx, to, amt)
	})
	if err != nil {
		var pe *payerr.Error
		if errors.As(err, &pe) {
			l.logger.WarnContext(ctx, "debit rejected", "agent_id", id, "caller", who, "code", string(pe.Code))
		}
		return Receipt{}, err
	}
	return receipt, nil
}

// SetSpendLimit changes the agent's daily limit. Only the owner may do so.
func (l *Ledger) SetSpendLimit(ctx context.Context, caller, agentID string, limit finance.Amount) error {
	const op = "ledger.SetSpendLimit"
	id := token.Normalize(agentID)
	return l.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		agent, err := l.loadAgent(tx, op, id)
		if err != nil {
			return err
		}
		if token.Normalize(caller) != agent.Owner {
			return payerr.New(payerr.CodeUnauthorized, op, "only the owner may change the spend limit")
		}
		spend := SpendLimit{AgentID: id, WindowStart: l.clock().UTC()}
		if _, err := tx.Get(kindSpend, id, &spend); err != nil {
			return err
		}
		spend.DailyLimit = limit
		if err := tx.Put(kindSpend, id, spend); err != nil {
			return err
		}
		_, err = l.journal.Append(ctx, "ledger.limit", agent.Owner, map[string]any{"agent_id": id, "daily_limit": limit})
		return err
	})
}

// SetActive pauses or resumes an agent. Paused agents cannot be debited.
func (l *Ledger) SetActive(ctx context.Context, caller, agentID string, active bool) error {
	const op = "ledger.SetActive"
	id := token.Normalize(agentID)
	return l.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		agent, err := l.loadAgent(tx, op, id)
		if err != nil {
			return err
		}
		if token.Normalize(caller) != agent.Owner {
			return payerr.New(payerr.CodeUnauthorized, op, "only the owner may pause the agent")
		}
		agent.Active = active
		if err := tx.Put(kindAgent, id, agent); err != nil {
			return err
		}
		_, err = l.journal.Append(ctx, "agent.active", agent.Owner, map[string]any{"agent_id": id, "active": active})
		return err
	})
}

// AuthorizeCaller adds or removes callerID from the debit allow-list. Only the admin may do so.
func (l *Ledger) AuthorizeCaller(ctx context.Context, caller, callerID string, enabled bool) error {
	const op = "ledger.AuthorizeCaller"
	who := token.Normalize(caller)
	if l.admin == "" || who != l.admin {
		return payerr.New(payerr.CodeUnauthorized, op, "only the admin may change the allow-list")
	}
	target := token.Normalize(callerID)
	if target == "" {
		return payerr.New(payerr.CodeInvalidParameter, op, "caller id is required")
	}
	err := l.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Put(kindCaller, target, allowEntry{ID: target, Enabled: enabled}); err != nil {
			return err
		}
		_, err := l.journal.Append(ctx, "ledger.authorize", who, map[string]any{"caller_id": target, "enabled": enabled})
		return err
	})
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "allow-list updated", "caller_id", target, "enabled", enabled)
	return nil
}

// Agent returns the agent record.
func (l *Ledger) Agent(ctx context.Context, agentID string) (Agent, error) {
	var agent Agent
	err := l.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		agent, err = l.loadAgent(tx, "ledger.Agent", token.Normalize(agentID))
		return err
	})
	return agent, err
}

// IsAgent reports whether agentID is registered.
func (l *Ledger) IsAgent(ctx context.Context, agentID string) (bool, error) {
	var ok bool
	err := l.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = tx.Get(kindAgent, token.Normalize(agentID), &Agent{})
		return err
	})
	return ok, err
}

// Balance returns the agent's custodied balance.
func (l *Ledger) Balance(ctx context.Context, agentID string) (finance.Amount, error) {
	id := token.Normalize(agentID)
	var bal Balance
	err := l.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.loadAgent(tx, "ledger.Balance", id); err != nil {
			return err
		}
		_, err := tx.Get(kindBalance, id, &bal)
		return err
	})
	return bal.Amount, err
}

// Spend returns the agent's spend state as of now, without persisting a window reset.
func (l *Ledger) Spend(ctx context.Context, agentID string) (SpendLimit, error) {
	id := token.Normalize(agentID)
	now := l.clock().UTC()
	spend := SpendLimit{AgentID: id, WindowStart: now}
	err := l.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.loadAgent(tx, "ledger.Spend", id); err != nil {
			return err
		}
		_, err := tx.Get(kindSpend, id, &spend)
		return err
	})
	if err != nil {
		return SpendLimit{}, err
	}
	return spend.Roll(now), nil
}

// IsAuthorized reports whether callerID is on the debit allow-list.
func (l *Ledger) IsAuthorized(ctx context.Context, callerID string) (bool, error) {
	var ok bool
	err := l.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = l.allowed(tx, token.Normalize(callerID))
		return err
	})
	return ok, err
}

// AgentsByOwner lists the agents registered by owner, oldest first.
func (l *Ledger) AgentsByOwner(ctx context.Context, owner string) ([]Agent, error) {
	who := token.Normalize(owner)
	var out []Agent
	err := l.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := store.List[Agent](tx, kindAgent)
		if err != nil {
			return err
		}
		for _, a := range all {
			if a.Owner == who {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (l *Ledger) loadAgent(tx store.Tx, op, id string) (Agent, error) {
	var agent Agent
	ok, err := tx.Get(kindAgent, id, &agent)
	if err != nil {
		return Agent{}, err
	}
	if !ok {
		return Agent{}, payerr.New(payerr.CodeNotFound, op, "agent %s", id)
	}
	return agent, nil
}

func (l *Ledger) allowed(tx store.Tx, who string) (bool, error) {
	if who == "" {
		return false, nil
	}
	var c allowEntry
	ok, err := tx.Get(kindCaller, who, &c)
	if err != nil {
		return false, err
	}
	return ok && c.Enabled, nil
}

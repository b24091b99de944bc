package ledger

import (
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

// SpendWindow is the length of a daily spend window.
const SpendWindow = 24 * time.Hour

// Agent is a registered spending identity.
type Agent struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Wallet      string    `json:"wallet"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Balance is the custodied amount held for one agent.
type Balance struct {
	AgentID string         `json:"agent_id"`
	Amount  finance.Amount `json:"amount"`
}

// SpendLimit tracks daily spending for one agent. A zero DailyLimit means unlimited.
type SpendLimit struct {
	AgentID     string         `json:"agent_id"`
	DailyLimit  finance.Amount `json:"daily_limit"`
	DailySpent  finance.Amount `json:"daily_spent"`
	WindowStart time.Time      `json:"window_start"`
}

// Roll returns the spend state as seen at now: when a full window has
// elapsed since WindowStart, the counter restarts at zero from now.
func (s SpendLimit) Roll(now time.Time) SpendLimit {
	if now.Sub(s.WindowStart) >= SpendWindow {
		s.DailySpent = finance.Zero()
		s.WindowStart = now
	}
	return s
}

// Allows reports whether amt can be spent on top of the current counter.
func (s SpendLimit) Allows(amt finance.Amount) bool {
	if s.DailyLimit.IsZero() {
		return true
	}
	return s.DailySpent.Add(amt).Cmp(s.DailyLimit) <= 0
}

// Receipt acknowledges a successful debit.
type Receipt struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Caller       string         `json:"caller"`
	Recipient    string         `json:"recipient"`
	Amount       finance.Amount `json:"amount"`
	BalanceAfter finance.Amount `json:"balance_after"`
	DailySpent   finance.Amount `json:"daily_spent"`
	At           time.Time      `json:"at"`
}

// allowEntry is an allow-list membership record.
type allowEntry struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

const (
	kindAgent   = "agent"
	kindBalance = "balance"
	kindSpend   = "spend"
	kindCaller  = "caller"
)

// Package streams advances subscriptions and linear payment streams.
//
// Nothing runs in the background. Payments become due with the passage of
// time and are realized only when a caller ticks the stream with
// ProcessPayment; a tick before anything is due succeeds and pays nothing.
package streams

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

// Ledger is the subset of the ledger the engine depends on.
type Ledger interface {
	Agent(ctx context.Context, agentID string) (ledger.Agent, error)
	Debit(ctx context.Context, caller, agentID, recipient string, amt finance.Amount) (ledger.Receipt, error)
}

// Engine stores and ticks streams.
type Engine struct {
	st       store.Store
	led      Ledger
	journal  *journal.Journal
	identity string
	clock    func() time.Time
	logger   *slog.Logger
}

// New creates an engine that debits the ledger as identity.
func New(st store.Store, led Ledger, j *journal.Journal, identity string) *Engine {
	return &Engine{
		st:       st,
		led:      led,
		journal:  j,
		identity: token.Normalize(identity),
		clock:    time.Now,
		logger:   slog.Default().With("component", "streams"),
	}
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Identity returns the caller identity the engine debits with.
func (e *Engine) Identity() string { return e.identity }

// CreateSubscription pays amount every period, first at now + period.
func (e *Engine) CreateSubscription(ctx context.Context, caller, agentID, recipient string, amount finance.Amount, period time.Duration) (uint64, error) {
	const op = "streams.CreateSubscription"
	if period <= 0 {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "period must be positive")
	}
	return e.create(ctx, op, caller, agentID, recipient, amount, func(s *Stream, now time.Time) {
		s.Type = Subscription
		s.Period = period
		s.NextPaymentAt = now.Add(period)
	})
}

// CreateStream vests total linearly over duration, starting now.
func (e *Engine) CreateStream(ctx context.Context, caller, agentID, recipient string, total finance.Amount, duration time.Duration) (uint64, error) {
	const op = "streams.CreateStream"
	if duration <= 0 {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "duration must be positive")
	}
	return e.create(ctx, op, caller, agentID, recipient, total, func(s *Stream, _ time.Time) {
		s.Type = LinearStream
		s.Duration = duration
	})
}

func (e *Engine) create(ctx context.Context, op, caller, agentID, recipient string, amount finance.Amount, shape func(*Stream, time.Time)) (uint64, error) {
	if !amount.IsPositive() {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "amount must be positive")
	}
	to := token.Normalize(recipient)
	if to == "" {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "recipient is required")
	}

	var id uint64
	err := e.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		agent, err := e.led.Agent(ctx, agentID)
		if err != nil {
			return err
		}
		who := token.Normalize(caller)
		if who != agent.Owner {
			return payerr.New(payerr.CodeUnauthorized, op, "only the owner of %s may create streams", agent.ID)
		}

		id, err = tx.NextSeq(kindStream)
		if err != nil {
			return err
		}
		now := e.clock().UTC()
		s := Stream{
			ID:        id,
			AgentID:   agent.ID,
			Creator:   who,
			Recipient: to,
			Amount:    amount,
			StartTime: now,
			Active:    true,
			CreatedAt: now,
		}
		shape(&s, now)
		if err := tx.Put(kindStream, store.SeqID(id), s); err != nil {
			return err
		}
		_, err = e.journal.Append(ctx, "stream.created", who, s)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ProcessPayment realizes whatever is due on the stream at the current time.
// Anyone may call it. A failed debit leaves the stream unchanged and retryable.
func (e *Engine) ProcessPayment(ctx context.Context, caller string, id uint64) (Tick, error) {
	const op = "streams.ProcessPayment"
	var tick Tick
	err := e.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := e.load(tx, op, id)
		if err != nil {
			return err
		}
		if !s.Active {
			return payerr.New(payerr.CodeStreamNotActive, op, "stream %d", id)
		}

		next, amt := Due(s, e.clock().UTC())
		tick = Tick{StreamID: id, Paid: amt, Stream: s}
		if amt.IsZero() {
			return nil
		}

		receipt, err := e.led.Debit(ctx, e.identity, s.AgentID, s.Recipient, amt)
		if err != nil {
			return err
		}
		if err := tx.Put(kindStream, store.SeqID(id), next); err != nil {
			return err
		}
		tick.Receipt = &receipt
		tick.Stream = next
		_, err = e.journal.Append(ctx, "stream.paid", token.Normalize(caller), map[string]any{
			"stream_id":  id,
			"amount":     amt,
			"total_paid": next.TotalPaid,
			"receipt_id": receipt.ID,
		})
		return err
	})
	if err != nil {
		e.logger.WarnContext(ctx, "stream payment failed", "stream_id", id, "code", string(payerr.CodeOf(err)), "error", err)
		return Tick{}, err
	}
	return tick, nil
}

// CancelSubscription stops future payments. Only the agent's owner may cancel.
func (e *Engine) CancelSubscription(ctx context.Context, caller string, id uint64) error {
	const op = "streams.CancelSubscription"
	return e.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := e.load(tx, op, id)
		if err != nil {
			return err
		}
		agent, err := e.led.Agent(ctx, s.AgentID)
		if err != nil {
			return err
		}
		who := token.Normalize(caller)
		if who != agent.Owner {
			return payerr.New(payerr.CodeUnauthorized, op, "only the owner of %s may cancel", agent.ID)
		}
		if !s.Active {
			return payerr.New(payerr.CodeStreamNotActive, op, "stream %d", id)
		}
		s.Active = false
		if err := tx.Put(kindStream, store.SeqID(id), s); err != nil {
			return err
		}
		_, err = e.journal.Append(ctx, "stream.cancelled", who, map[string]any{"stream_id": id})
		return err
	})
}

// Subscription returns a stream by id.
func (e *Engine) Subscription(ctx context.Context, id uint64) (Stream, error) {
	var s Stream
	err := e.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		s, err = e.load(tx, "streams.Subscription", id)
		return err
	})
	return s, err
}

// AgentSubscriptions lists the agent's streams in creation order.
func (e *Engine) AgentSubscriptions(ctx context.Context, agentID string) ([]Stream, error) {
	id := token.Normalize(agentID)
	var out []Stream
	err := e.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := store.List[Stream](tx, kindStream)
		if err != nil {
			return err
		}
		for _, s := range all {
			if s.AgentID == id {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (e *Engine) load(tx store.Tx, op string, id uint64) (Stream, error) {
	var s Stream
	ok, err := tx.Get(kindStream, store.SeqID(id), &s)
	if err != nil {
		return Stream{}, err
	}
	if !ok {
		return Stream{}, payerr.New(payerr.CodeNotFound, op, "stream %d", id)
	}
	return s, nil
}

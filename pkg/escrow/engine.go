// Package escrow holds payer funds in custody until they are released to a
// payee in one payment or in milestone tranches, or refunded on cancellation.
//
// Funds are pulled in full when an escrow is created and are never part of an
// agent balance. Every escrow ends in exactly one terminal state.
package escrow

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/payerr"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

// Engine manages escrows held in its own vault.
type Engine struct {
	st      store.Store
	vault   *token.Vault
	journal *journal.Journal
	clock   func() time.Time
	logger  *slog.Logger
}

func New(st store.Store, vault *token.Vault, j *journal.Journal) *Engine {
	return &Engine{
		st:      st,
		vault:   vault,
		journal: j,
		clock:   time.Now,
		logger:  slog.Default().With("component", "escrow"),
	}
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// CreateEscrow pulls amount from the caller and holds it for payee.
// With autoRelease, anyone may release the escrow once releaseTime has passed.
func (e *Engine) CreateEscrow(ctx context.Context, caller, payee string, amount finance.Amount, description string, autoRelease bool, releaseTime time.Time) (uint64, error) {
	const op = "escrow.CreateEscrow"
	if autoRelease && releaseTime.IsZero() {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "auto release needs a release time")
	}
	return e.create(ctx, op, caller, payee, amount, func(x *Escrow) {
		x.Type = Single
		x.Description = description
		x.AutoRelease = autoRelease
		if autoRelease {
			x.ReleaseTime = releaseTime.UTC()
		}
	})
}

// CreateMilestoneEscrow pulls total from the caller, to be released in count tranches.
func (e *Engine) CreateMilestoneEscrow(ctx context.Context, caller, payee string, total finance.Amount, count uint32, description string) (uint64, error) {
	const op = "escrow.CreateMilestoneEscrow"
	if count < 1 || count > MaxMilestones {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "milestone count %d outside [1,%d]", count, MaxMilestones)
	}
	per := total.Div(uint64(count))
	if !per.IsPositive() {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "total %s too small for %d milestones", total, count)
	}
	return e.create(ctx, op, caller, payee, total, func(x *Escrow) {
		x.Type = Milestone
		x.Description = description
		x.MilestoneCount = count
		x.AmountPerMilestone = per
	})
}

func (e *Engine) create(ctx context.Context, op, caller, payee string, amount finance.Amount, shape func(*Escrow)) (uint64, error) {
	payer := token.Normalize(caller)
	to := token.Normalize(payee)
	if !amount.IsPositive() {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "amount must be positive")
	}
	if payer == "" {
		return 0, payerr.New(payerr.CodeUnauthorized, op, "caller identity is required")
	}
	if to == "" || to == payer {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "payee must be set and differ from the payer")
	}

	var id uint64
	err := e.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.NextSeq(seqEscrow)
		if err != nil {
			return err
		}
		x := Escrow{
			ID:          id,
			Payer:       payer,
			Payee:       to,
			TotalAmount: amount,
			Status:      Active,
			CreatedAt:   e.clock().UTC(),
		}
		shape(&x)
		if err := tx.Put(kindEscrow, store.SeqID(id), x); err != nil {
			return err
		}
		if _, err := e.journal.Append(ctx, "escrow.created", payer, x); err != nil {
			return err
		}
		if err := e.vault.Pull(ctx, payer, amount); err != nil {
			return payerr.Wrap(payerr.CodeInsufficientAllowance, op, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.InfoContext(ctx, "escrow created", "escrow_id", id, "payer", payer, "payee", to, "amount", amount.String())
	return id, nil
}

// ReleaseEscrow pays the full remaining amount of a single escrow to its payee.
func (e *Engine) ReleaseEscrow(ctx context.Context, caller string, id uint64) (Escrow, error) {
	const op = "escrow.ReleaseEscrow"
	return e.transition(ctx, op, id, func(x *Escrow, now time.Time) (string, finance.Amount, error) {
		if x.Type != Single {
			return "", finance.Zero(), payerr.New(payerr.CodeInvalidParameter, op, "escrow %d is a milestone escrow", id)
		}
		timedOut := x.AutoRelease && !now.Before(x.ReleaseTime)
		if token.Normalize(caller) != x.Payer && !timedOut {
			return "", finance.Zero(), payerr.New(payerr.CodeUnauthorized, op, "only the payer may release escrow %d", id)
		}
		amt := x.Remaining()
		x.ReleasedAmount = x.TotalAmount
		x.Status = Completed
		x.CompletedAt = &now
		return x.Payee, amt, nil
	})
}

// ReleaseMilestone pays the next tranche of a milestone escrow to its payee.
func (e *Engine) ReleaseMilestone(ctx context.Context, caller string, id uint64) (Escrow, error) {
	const op = "escrow.ReleaseMilestone"
	return e.transition(ctx, op, id, func(x *Escrow, now time.Time) (string, finance.Amount, error) {
		if x.Type != Milestone {
			return "", finance.Zero(), payerr.New(payerr.CodeInvalidParameter, op, "escrow %d is not a milestone escrow", id)
		}
		if token.Normalize(caller) != x.Payer {
			return "", finance.Zero(), payerr.New(payerr.CodeUnauthorized, op, "only the payer may release milestones of escrow %d", id)
		}
		amt := x.NextTranche()
		x.CompletedMilestones++
		x.ReleasedAmount = x.ReleasedAmount.Add(amt)
		if x.CompletedMilestones == x.MilestoneCount {
			x.Status = Completed
			x.CompletedAt = &now
		}
		return x.Payee, amt, nil
	})
}

// CancelEscrow refunds everything not yet released to the payer.
func (e *Engine) CancelEscrow(ctx context.Context, caller string, id uint64) (Escrow, error) {
	const op = "escrow.CancelEscrow"
	return e.transition(ctx, op, id, func(x *Escrow, now time.Time) (string, finance.Amount, error) {
		if token.Normalize(caller) != x.Payer {
			return "", finance.Zero(), payerr.New(payerr.CodeUnauthorized, op, "only the payer may cancel escrow %d", id)
		}
		amt := x.Remaining()
		x.Status = Cancelled
		x.CompletedAt = &now
		return x.Payer, amt, nil
	})
}

// transition loads an active escrow, applies step and pays out what step
// returns, all inside one store transaction.
func (e *Engine) transition(ctx context.Context, op string, id uint64, step func(x *Escrow, now time.Time) (string, finance.Amount, error)) (Escrow, error) {
	var out Escrow
	err := e.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		x, err := load(tx, op, id)
		if err != nil {
			return err
		}
		if x.Status != Active {
			return payerr.New(payerr.CodeEscrowNotActive, op, "escrow %d is %s", id, x.Status)
		}

		to, amt, err := step(&x, e.clock().UTC())
		if err != nil {
			return err
		}
		if x.ReleasedAmount.Cmp(x.TotalAmount) > 0 {
			return payerr.New(payerr.CodeInternal, op, "escrow %d would over-release", id)
		}
		if err := tx.Put(kindEscrow, store.SeqID(id), x); err != nil {
			return err
		}
		if _, err := e.journal.Append(ctx, op, x.Payer, map[string]any{
			"escrow_id": id,
			"to":        to,
			"amount":    amt,
			"released":  x.ReleasedAmount,
			"status":    x.Status,
		}); err != nil {
			return err
		}
		if amt.IsPositive() {
			if err := e.vault.Push(ctx, to, amt); err != nil {
				return err
			}
		}
		out = x
		return nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "escrow transition failed", "op", op, "escrow_id", id, "code", string(payerr.CodeOf(err)), "error", err)
		return Escrow{}, err
	}
	return out, nil
}

// Escrow returns an escrow by id.
func (e *Engine) Escrow(ctx context.Context, id uint64) (Escrow, error) {
	var x Escrow
	err := e.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		x, err = load(tx, "escrow.Escrow", id)
		return err
	})
	return x, err
}

// Count returns the number of escrows ever created.
func (e *Engine) Count(ctx context.Context) (int, error) {
	var n int
	err := e.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Scan(kindEscrow, func(string, []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// ByParty lists escrows where addr is the payer or the payee, oldest first.
func (e *Engine) ByParty(ctx context.Context, addr string) ([]Escrow, error) {
	who := token.Normalize(addr)
	var out []Escrow
	err := e.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := store.List[Escrow](tx, kindEscrow)
		if err != nil {
			return err
		}
		for _, x := range all {
			if x.Payer == who || x.Payee == who {
				out = append(out, x)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func load(tx store.Tx, op string, id uint64) (Escrow, error) {
	var x Escrow
	ok, err := tx.Get(kindEscrow, store.SeqID(id), &x)
	if err != nil {
		return Escrow{}, err
	}
	if !ok {
		return Escrow{}, payerr.New(payerr.CodeNotFound, op, "escrow %d", id)
	}
	return x, nil
}

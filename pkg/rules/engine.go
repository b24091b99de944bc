// Package rules executes one-shot conditional payments against the ledger.
//
// Anyone may trigger a rule. Whether it pays depends only on its condition
// and on the ledger accepting the debit, and a rule pays at most once.
package rules

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

// Engine stores and executes payment rules.
type Engine struct {
	st       store.Store
	led      Ledger
	journal  *journal.Journal
	eval     *Evaluator
	identity string
	clock    func() time.Time
	logger   *slog.Logger
}

// New creates an engine that debits the ledger as identity.
// identity must be on the ledger's allow-list for rules to pay.
func New(st store.Store, led Ledger, j *journal.Journal, identity string) (*Engine, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		st:       st,
		led:      led,
		journal:  j,
		eval:     eval,
		identity: token.Normalize(identity),
		clock:    time.Now,
		logger:   slog.Default().With("component", "rules"),
	}, nil
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Identity returns the caller identity the engine debits with.
func (e *Engine) Identity() string { return e.identity }

// CreateRule stores an active rule. Only the agent's owner may create rules for it.
func (e *Engine) CreateRule(ctx context.Context, caller, agentID, recipient string, amt finance.Amount, typ RuleType, conditionData []byte) (uint64, error) {
	const op = "rules.CreateRule"
	if !amt.IsPositive() {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "amount must be positive")
	}
	to := token.Normalize(recipient)
	if to == "" {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "recipient is required")
	}
	if !typ.Valid() {
		return 0, payerr.New(payerr.CodeInvalidParameter, op, "unknown rule type %d", typ)
	}
	if err := e.eval.Validate(typ, conditionData); err != nil {
		return 0, payerr.Wrap(payerr.CodeInvalidParameter, op, err)
	}

	var id uint64
	err := e.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		agent, err := e.led.Agent(ctx, agentID)
		if err != nil {
			return err
		}
		who := token.Normalize(caller)
		if who != agent.Owner {
			return payerr.New(payerr.CodeUnauthorized, op, "only the owner of %s may create rules", agent.ID)
		}

		id, err = tx.NextSeq(kindRule)
		if err != nil {
			return err
		}
		rule := Rule{
			ID:            id,
			AgentID:       agent.ID,
			Creator:       who,
			Recipient:     to,
			Amount:        amt,
			Type:          typ,
			ConditionData: conditionData,
			Active:        true,
			CreatedAt:     e.clock().UTC(),
		}
		if err := tx.Put(kindRule, store.SeqID(id), rule); err != nil {
			return err
		}
		_, err = e.journal.Append(ctx, "rule.created", who, rule)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ExecuteRule evaluates the rule against proof and, if satisfied, pays it.
// A failed debit leaves the rule active so it can be retried.
func (e *Engine) ExecuteRule(ctx context.Context, caller string, ruleID uint64, proof []byte) (ledger.Receipt, error) {
	const op = "rules.ExecuteRule"
	var receipt ledger.Receipt
	err := e.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		var rule Rule
		ok, err := tx.Get(kindRule, store.SeqID(ruleID), &rule)
		if err != nil {
			return err
		}
		if !ok {
			return payerr.New(payerr.CodeNotFound, op, "rule %d", ruleID)
		}
		if !rule.Active {
			return payerr.New(payerr.CodeRuleAlreadyExecuted, op, "rule %d", ruleID)
		}

		now := e.clock().UTC()
		satisfied, err := e.eval.Satisfied(rule.Type, rule.ConditionData, proof, now)
		if err != nil {
			return payerr.Wrap(payerr.CodeRuleNotSatisfied, op, err)
		}
		if !satisfied {
			return payerr.New(payerr.CodeRuleNotSatisfied, op, "%s condition of rule %d is unmet", rule.Type, ruleID)
		}

		receipt, err = e.led.Debit(ctx, e.identity, rule.AgentID, rule.Recipient, rule.Amount)
		if err != nil {
			return err
		}

		rule.Active = false
		rule.ExecutedAt = &now
		if err := tx.Put(kindRule, store.SeqID(ruleID), rule); err != nil {
			return err
		}
		_, err = e.journal.Append(ctx, "rule.executed", token.Normalize(caller), map[string]any{
			"rule_id":    ruleID,
			"receipt_id": receipt.ID,
		})
		return err
	})
	if err != nil {
		e.logger.WarnContext(ctx, "rule not executed", "rule_id", ruleID, "code", string(payerr.CodeOf(err)), "error", err)
		return ledger.Receipt{}, err
	}
	e.logger.InfoContext(ctx, "rule executed", "rule_id", ruleID, "receipt_id", receipt.ID)
	return receipt, nil
}

// Rule returns a rule by id.
func (e *Engine) Rule(ctx context.Context, ruleID uint64) (Rule, error) {
	var rule Rule
	err := e.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.Get(kindRule, store.SeqID(ruleID), &rule)
		if err != nil {
			return err
		}
		if !ok {
			return payerr.New(payerr.CodeNotFound, "rules.Rule", "rule %d", ruleID)
		}
		return nil
	})
	return rule, err
}

// AgentRules lists the agent's rules in creation order.
func (e *Engine) AgentRules(ctx context.Context, agentID string) ([]Rule, error) {
	id := token.Normalize(agentID)
	var out []Rule
	err := e.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := store.List[Rule](tx, kindRule)
		if err != nil {
			return err
		}
		for _, r := range all {
			if r.AgentID == id {
				out = append(out, r)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

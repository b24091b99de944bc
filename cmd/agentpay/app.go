package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/escrow"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/rules"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/streams"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/token"
)

// app is the wired ledger: one store shared by the journal, the ledger and
// every engine so that an engine operation and its debit commit together.
type app struct {
	cfg     *config.Config
	store   store.Store
	token   *token.MemoryToken
	journal *journal.Journal
	ledger  *ledger.Ledger
	rules   *rules.Engine
	streams *streams.Engine
	escrow  *escrow.Engine
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, token: token.NewMemoryToken()}
	a.journal = journal.New(st)
	a.ledger = ledger.New(st, token.NewVault(a.token, cfg.LedgerVault), a.journal, cfg.Admin).
		WithCustodyAccounts(cfg.EscrowVault).
		WithLogger(logger.With("component", "ledger"))
	a.rules, err = rules.New(st, a.ledger, a.journal, cfg.RulesCaller)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("rules engine: %w", err)
	}
	a.streams = streams.New(st, a.ledger, a.journal, cfg.StreamsCaller)
	a.escrow = escrow.New(st, token.NewVault(a.token, cfg.EscrowVault), a.journal)
	return a, nil
}

// authorizeEngines puts the rule and stream engine identities on the debit
// allow-list, skipping identities that are already present.
func (a *app) authorizeEngines(ctx context.Context) error {
	for _, id := range []string{a.cfg.RulesCaller, a.cfg.StreamsCaller} {
		ok, err := a.ledger.IsAuthorized(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := a.ledger.AuthorizeCaller(ctx, a.cfg.Admin, id, true); err != nil {
			return fmt.Errorf("authorize %s: %w", id, err)
		}
	}
	return nil
}

func (a *app) Close() error { return a.store.Close() }

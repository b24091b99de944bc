// Package token models the external fungible token the ledger settles in.
package token

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

var (
	// ErrInsufficientFunds is returned when the source balance cannot cover a transfer.
	ErrInsufficientFunds = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a spender has not been approved for the amount.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Token is the subset of an ERC-20 style token the engines depend on.
type Token interface {
	BalanceOf(ctx context.Context, holder string) (finance.Amount, error)
	Allowance(ctx context.Context, owner, spender string) (finance.Amount, error)
	// Transfer moves amt out of from's own balance.
	Transfer(ctx context.Context, from, to string, amt finance.Amount) error
	// TransferFrom moves amt out of from's balance on behalf of spender.
	TransferFrom(ctx context.Context, spender, from, to string, amt finance.Amount) error
}

// Normalize canonicalizes a holder address.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// MemoryToken is an in-process token used for development and tests.
type MemoryToken struct {
	mu         sync.Mutex
	balances   map[string]finance.Amount
	allowances map[string]map[string]finance.Amount
}

// NewMemoryToken creates an empty token.
func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:   make(map[string]finance.Amount),
		allowances: make(map[string]map[string]finance.Amount),
	}
}

// Mint credits amt to holder.
func (t *MemoryToken) Mint(holder string, amt finance.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := Normalize(holder)
	t.balances[h] = t.balances[h].Add(amt)
}

// Approve sets spender's allowance over owner's balance.
func (t *MemoryToken) Approve(owner, spender string, amt finance.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := Normalize(owner)
	if t.allowances[o] == nil {
		t.allowances[o] = make(map[string]finance.Amount)
	}
	t.allowances[o][Normalize(spender)] = amt
}

func (t *MemoryToken) BalanceOf(_ context.Context, holder string) (finance.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[Normalize(holder)], nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender string) (finance.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[Normalize(owner)][Normalize(spender)], nil
}

func (t *MemoryToken) Transfer(_ context.Context, from, to string, amt finance.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(Normalize(from), Normalize(to), amt)
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to string, amt finance.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, s := Normalize(from), Normalize(spender)
	allowed := t.allowances[f][s]
	remaining, err := allowed.Sub(amt)
	if err != nil {
		return ErrInsufficientAllowance
	}
	if err := t.move(f, Normalize(to), amt); err != nil {
		return err
	}
	if t.allowances[f] != nil {
		t.allowances[f][s] = remaining
	}
	return nil
}

// move must be called with mu held.
func (t *MemoryToken) move(from, to string, amt finance.Amount) error {
	left, err := t.balances[from].Sub(amt)
	if err != nil {
		return ErrInsufficientFunds
	}
	t.balances[from] = left
	t.balances[to] = t.balances[to].Add(amt)
	return nil
}

package token

import (
	"context"
	"fmt"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

// Vault is a custody account held by one engine on the token.
type Vault struct {
	tok  Token
	self string
}

// NewVault binds a custody address to a token.
func NewVault(tok Token, address string) *Vault {
	return &Vault{tok: tok, self: Normalize(address)}
}

// Address returns the vault's holder address.
func (v *Vault) Address() string { return v.self }

// Balance returns the tokens currently held by the vault.
func (v *Vault) Balance(ctx context.Context) (finance.Amount, error) {
	return v.tok.BalanceOf(ctx, v.self)
}

// Pull moves amt from a depositor into the vault using the depositor's allowance.
func (v *Vault) Pull(ctx context.Context, from string, amt finance.Amount) error {
	if err := v.tok.TransferFrom(ctx, v.self, from, v.self, amt); err != nil {
		return fmt.Errorf("vault pull %s from %s: %w", amt, from, err)
	}
	return nil
}

// Push pays amt out of the vault.
func (v *Vault) Push(ctx context.Context, to string, amt finance.Amount) error {
	if err := v.tok.Transfer(ctx, v.self, to, amt); err != nil {
		return fmt.Errorf("vault push %s to %s: %w", amt, to, err)
	}
	return nil
}

package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

func TestMemoryToken_TransferFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewMemoryToken()
	tok.Mint("0xAlice", finance.Tokens(10))
	tok.Approve("0xalice", "vault", finance.Tokens(4))

	require.NoError(t, tok.TransferFrom(ctx, "vault", "0xalice", "vault", finance.Tokens(3)))

	left, _ := tok.Allowance(ctx, "0xalice", "vault")
	assert.Equal(t, finance.Tokens(1).String(), left.String())

	err := tok.TransferFrom(ctx, "vault", "0xalice", "vault", finance.Tokens(2))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	bal, _ := tok.BalanceOf(ctx, "0xALICE")
	assert.Equal(t, finance.Tokens(7).String(), bal.String())
}

func TestMemoryToken_TransferInsufficient(t *testing.T) {
	tok := NewMemoryToken()
	tok.Mint("a", finance.NewAmount(5))

	err := tok.Transfer(context.Background(), "a", "b", finance.NewAmount(6))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, _ := tok.BalanceOf(context.Background(), "a")
	assert.Equal(t, "5", bal.String())
}

func TestMemoryToken_FailedTransferFromKeepsAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewMemoryToken()
	tok.Mint("a", finance.NewAmount(5))
	tok.Approve("a", "s", finance.NewAmount(100))

	assert.ErrorIs(t, tok.TransferFrom(ctx, "s", "a", "b", finance.NewAmount(50)), ErrInsufficientFunds)

	left, _ := tok.Allowance(ctx, "a", "s")
	assert.Equal(t, "100", left.String())
}

func TestVault_PullPush(t *testing.T) {
	ctx := context.Background()
	tok := NewMemoryToken()
	tok.Mint("payer", finance.NewAmount(100))
	tok.Approve("payer", "escrow", finance.NewAmount(100))
	v := NewVault(tok, "escrow")

	require.NoError(t, v.Pull(ctx, "payer", finance.NewAmount(60)))
	require.NoError(t, v.Push(ctx, "payee", finance.NewAmount(25)))

	held, _ := v.Balance(ctx)
	assert.Equal(t, "35", held.String())

	err := v.Pull(ctx, "payer", finance.NewAmount(60))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
}

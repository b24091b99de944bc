package api_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

func itoa(n uint64) string { return strconv.FormatUint(n, 10) }

func mustAmount(t *testing.T, s string) finance.Amount {
	t.Helper()
	a, err := finance.ParseBase(s)
	require.NoError(t, err)
	return a
}

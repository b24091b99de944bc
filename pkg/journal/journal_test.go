package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestJournal_AppendAndVerify(t *testing.T) {
	ctx := context.Background()
	j := New(store.NewMemoryStore()).WithClock(fixedClock())

	e1, err := j.Append(ctx, "debit", "0xrules", map[string]any{"agent": "0xa", "amount": "100"})
	require.NoError(t, err)
	e2, err := j.Append(ctx, "debit", "0xrules", struct {
		Agent  string `json:"agent"`
		Amount string `json:"amount"`
	}{"0xa", "50"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, Genesis, e1.PrevHash)
	assert.Equal(t, e1.ContentHash, e2.PrevHash)

	head, err := j.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, Head{Sequence: 2, Hash: e2.ContentHash}, head)

	assert.NoError(t, j.Verify(ctx))
}

func TestJournal_RolledBackAppendLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	j := New(st)

	_, err := j.Append(ctx, "debit", "a", nil)
	require.NoError(t, err)

	_ = st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := j.Append(ctx, "debit", "a", nil)
		require.NoError(t, err)
		return assert.AnError
	})

	entries, err := j.Entries(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.NoError(t, j.Verify(ctx))
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	j := New(store.NewMemoryStore()).WithClock(fixedClock())
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, "debit", "x", map[string]any{"i": i})
		require.NoError(t, err)
	}
	entries, err := j.Entries(ctx, 0, 0)
	require.NoError(t, err)
	head, err := j.Head(ctx)
	require.NoError(t, err)
	require.NoError(t, VerifyChain(entries, head))

	tampered := append([]Entry(nil), entries...)
	tampered[1].Data = map[string]any{"i": float64(42)}
	assert.ErrorIs(t, VerifyChain(tampered, head), ErrBroken)

	assert.ErrorIs(t, VerifyChain(entries[:2], head), ErrBroken, "truncation")
	assert.ErrorIs(t, VerifyChain([]Entry{entries[0], entries[2]}, head), ErrBroken, "gap")
}

func TestJournal_EntriesPaging(t *testing.T) {
	ctx := context.Background()
	j := New(store.NewMemoryStore())
	for i := 0; i < 12; i++ {
		_, err := j.Append(ctx, "debit", "x", nil)
		require.NoError(t, err)
	}

	page, err := j.Entries(ctx, 9, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(10), page[0].Sequence)
	assert.Equal(t, uint64(11), page[1].Sequence)
}

func TestComputeHash_KeyOrderIndependent(t *testing.T) {
	at := time.Unix(100, 0)
	a := Entry{Sequence: 1, Type: "t", Data: map[string]any{"a": "1", "b": "2"}, PrevHash: Genesis, Timestamp: at}
	b := Entry{Sequence: 1, Type: "t", Data: map[string]any{"b": "2", "a": "1"}, PrevHash: Genesis, Timestamp: at}

	ha, err := ComputeHash(a)
	require.NoError(t, err)
	hb, err := ComputeHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

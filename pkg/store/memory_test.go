package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryStore_CommitAndRollback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Put("doc", "1", doc{Name: "a", Count: 1})
	}))

	boom := errors.New("boom")
	err := s.Update(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Put("doc", "1", doc{Name: "a", Count: 99}))
		require.NoError(t, tx.Put("doc", "2", doc{Name: "b"}))
		var d doc
		ok, err := tx.Get("doc", "1", &d)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 99, d.Count, "reads observe own writes")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx Tx) error {
		var d doc
		ok, err := tx.Get("doc", "1", &d)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, d.Count)

		ok, err = tx.Get("doc", "2", &d)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestMemoryStore_NestedUpdateJoins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Update(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Put("doc", "outer", doc{Name: "outer"}))
		inner := s.Update(ctx, func(ctx context.Context, tx Tx) error {
			return tx.Put("doc", "inner", doc{Name: "inner"})
		})
		require.NoError(t, inner)
		return errors.New("abort outer")
	})
	require.Error(t, err)

	docs, err := viewList(s)
	require.NoError(t, err)
	assert.Empty(t, docs, "inner write must roll back with the outer transaction")
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	s := NewMemoryStore()
	err := s.View(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.Put("doc", "1", doc{})
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestMemoryStore_NextSeq(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var got []uint64
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx Tx) error {
			v, err := tx.NextSeq("rule")
			got = append(got, v)
			return err
		}))
	}
	_ = s.Update(ctx, func(ctx context.Context, tx Tx) error {
		_, _ = tx.NextSeq("rule")
		return errors.New("discard")
	})
	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx Tx) error {
		v, err := tx.NextSeq("rule")
		got = append(got, v)
		return err
	}))

	assert.Equal(t, []uint64{1, 2, 3, 4}, got)
}

func TestMemoryStore_ScanOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx Tx) error {
		for _, id := range []string{"c", "a", "b"} {
			if err := tx.Put("doc", id, doc{Name: id}); err != nil {
				return err
			}
		}
		return nil
	}))

	docs, err := viewList(s)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0].Name)
	assert.Equal(t, "c", docs[2].Name)
}

func TestMemoryStore_SerializesUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, func(ctx context.Context, tx Tx) error {
				var d doc
				if _, err := tx.Get("doc", "counter", &d); err != nil {
					return err
				}
				d.Count++
				return tx.Put("doc", "counter", d)
			})
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx Tx) error {
		var d doc
		_, err := tx.Get("doc", "counter", &d)
		assert.Equal(t, 50, d.Count)
		return err
	}))
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	err := s.Update(context.Background(), func(ctx context.Context, tx Tx) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func viewList(s Store) ([]doc, error) {
	var out []doc
	err := s.View(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		out, err = List[doc](tx, "doc")
		return err
	})
	return out, err
}

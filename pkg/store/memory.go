package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store in memory.
// Writes are buffered per transaction and published on commit.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]map[string][]byte
	seqs   map[string]uint64
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string][]byte),
		seqs: make(map[string]uint64),
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := joined(ctx, s); ok {
		return fn(ctx, tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{s: s, writes: make(map[string]map[string][]byte), seqs: make(map[string]uint64)}
	if err := fn(withTx(ctx, s, tx), tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn read-only. Readers share the lock; they wait only for an
// in-flight Update to finish.
func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := joined(ctx, s); ok {
		return fn(ctx, tx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{s: s, readOnly: true}
	return fn(withTx(ctx, s, tx), tx)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memTx struct {
	s        *MemoryStore
	writes   map[string]map[string][]byte
	seqs     map[string]uint64
	readOnly bool
}

func (t *memTx) lookup(kind, id string) ([]byte, bool) {
	if w, ok := t.writes[kind][id]; ok {
		return w, true
	}
	raw, ok := t.s.docs[kind][id]
	return raw, ok
}

func (t *memTx) Get(kind, id string, v any) (bool, error) {
	raw, ok := t.lookup(kind, id)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return true, nil
}

func (t *memTx) Put(kind, id string, v any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	if t.writes[kind] == nil {
		t.writes[kind] = make(map[string][]byte)
	}
	t.writes[kind][id] = raw
	return nil
}

func (t *memTx) Scan(kind string, fn func(id string, raw []byte) error) error {
	ids := make([]string, 0, len(t.s.docs[kind])+len(t.writes[kind]))
	for id := range t.s.docs[kind] {
		ids = append(ids, id)
	}
	for id := range t.writes[kind] {
		if _, ok := t.s.docs[kind][id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		raw, _ := t.lookup(kind, id)
		if err := fn(id, raw); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) NextSeq(kind string) (uint64, error) {
	if t.readOnly {
		return 0, ErrReadOnly
	}
	cur, ok := t.seqs[kind]
	if !ok {
		cur = t.s.seqs[kind]
	}
	cur++
	t.seqs[kind] = cur
	return cur, nil
}

// commit must be called with the store's write lock held.
func (t *memTx) commit() {
	for kind, docs := range t.writes {
		if t.s.docs[kind] == nil {
			t.s.docs[kind] = make(map[string][]byte)
		}
		for id, raw := range docs {
			t.s.docs[kind][id] = raw
		}
	}
	for kind, v := range t.seqs {
		t.s.seqs[kind] = v
	}
}

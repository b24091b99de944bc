// Package store provides the serialized, transactional document store that
// backs every engine.
//
// All state changes run inside Store.Update. Updates are applied one at a
// time and either commit as a whole or leave no trace. A call to Update made
// with a context already carrying a transaction from the same store joins
// that transaction, so an engine operation and the ledger debit it triggers
// commit or roll back together.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("store: write in read-only transaction")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Tx is a unit of work against the store.
type Tx interface {
	// Get decodes the document kind/id into v. It reports false if the document does not exist.
	Get(kind, id string, v any) (bool, error)
	// Put encodes v as the document kind/id, replacing any previous value.
	Put(kind, id string, v any) error
	// Scan calls fn for every document of kind in ascending id order.
	Scan(kind string, fn func(id string, raw []byte) error) error
	// NextSeq returns the next value of the named counter, starting at 1.
	NextSeq(kind string) (uint64, error)
}

// Store runs transactions.
type Store interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

type txKey struct{}

type txHandle struct {
	owner any
	tx    Tx
}

func withTx(ctx context.Context, owner any, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, txHandle{owner: owner, tx: tx})
}

// joined returns the transaction opened by owner higher up the call chain, if any.
func joined(ctx context.Context, owner any) (Tx, bool) {
	h, ok := ctx.Value(txKey{}).(txHandle)
	if !ok || h.owner != owner {
		return nil, false
	}
	return h.tx, true
}

// List decodes every document of kind.
func List[T any](tx Tx, kind string) ([]T, error) {
	var out []T
	err := tx.Scan(kind, func(id string, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", kind, id, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// SeqID formats a sequence number as a document id whose lexical order matches numeric order.
func SeqID(seq uint64) string { return fmt.Sprintf("%020d", seq) }

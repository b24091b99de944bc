// Package journal is the append-only, hash-chained record of every balance
// movement made by the engines.
//
// Entries are written in the same store transaction as the state change they
// describe, so the chain never references a movement that was rolled back.
// Each entry hashes its predecessor; Verify detects any edit or gap.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/store"
)

// Genesis is the previous hash of the first entry.
const Genesis = "genesis"

const (
	kindEntry = "journal"
	kindHead  = "journal_head"
	headID    = "head"
)

// Entry is an immutable, hash-chained journal record.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	Type        string         `json:"type"`
	Actor       string         `json:"actor,omitempty"`
	Data        map[string]any `json:"data"`
	PrevHash    string         `json:"prev_hash"`
	ContentHash string         `json:"content_hash"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Head identifies the latest entry.
type Head struct {
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
}

// Journal appends entries to a store.
type Journal struct {
	st    store.Store
	clock func() time.Time
}

// New creates a journal backed by st.
func New(st store.Store) *Journal {
	return &Journal{st: st, clock: time.Now}
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

// Append records an entry. data must encode to a JSON object.
// When ctx carries an open store transaction the entry joins it.
func (j *Journal) Append(ctx context.Context, entryType, actor string, data any) (Entry, error) {
	fields, err := toMap(data)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: %w", err)
	}

	var entry Entry
	err = j.st.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		head := Head{Hash: Genesis}
		if _, err := tx.Get(kindHead, headID, &head); err != nil {
			return err
		}

		entry = Entry{
			Sequence:  head.Sequence + 1,
			Type:      entryType,
			Actor:     actor,
			Data:      fields,
			PrevHash:  head.Hash,
			Timestamp: j.clock().UTC(),
		}
		hash, err := ComputeHash(entry)
		if err != nil {
			return err
		}
		entry.ContentHash = hash

		if err := tx.Put(kindEntry, store.SeqID(entry.Sequence), entry); err != nil {
			return err
		}
		return tx.Put(kindHead, headID, Head{Sequence: entry.Sequence, Hash: hash})
	})
	if err != nil {
		return Entry{}, fmt.Errorf("journal: append %s: %w", entryType, err)
	}
	return entry, nil
}

// Head returns the latest entry reference.
func (j *Journal) Head(ctx context.Context) (Head, error) {
	head := Head{Hash: Genesis}
	err := j.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Get(kindHead, headID, &head)
		return err
	})
	return head, err
}

// Entries returns up to limit entries with Sequence > after, oldest first.
// A limit of zero returns everything.
func (j *Journal) Entries(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	var out []Entry
	err := j.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := store.List[Entry](tx, kindEntry)
		if err != nil {
			return err
		}
		for _, e := range all {
			if e.Sequence <= after {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Verify checks the integrity of the stored chain against its head.
func (j *Journal) Verify(ctx context.Context) error {
	entries, err := j.Entries(ctx, 0, 0)
	if err != nil {
		return err
	}
	head, err := j.Head(ctx)
	if err != nil {
		return err
	}
	return VerifyChain(entries, head)
}

// ErrBroken is wrapped by every chain verification failure.
var ErrBroken = errors.New("journal: chain broken")

// VerifyChain checks that entries form a contiguous chain from genesis ending at head.
func VerifyChain(entries []Entry, head Head) error {
	prev := Genesis
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: expected sequence %d, got %d", ErrBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w at entry %d: expected prev %s, got %s", ErrBroken, e.Sequence, prev, e.PrevHash)
		}
		computed, err := ComputeHash(e)
		if err != nil {
			return fmt.Errorf("%w at entry %d: %v", ErrBroken, e.Sequence, err)
		}
		if computed != e.ContentHash {
			return fmt.Errorf("%w: hash mismatch at entry %d", ErrBroken, e.Sequence)
		}
		prev = e.ContentHash
	}
	if head.Sequence != uint64(len(entries)) || head.Hash != prev {
		return fmt.Errorf("%w: head %d/%s does not match last entry", ErrBroken, head.Sequence, head.Hash)
	}
	return nil
}

// ComputeHash returns the content hash of e over its canonical JSON form.
func ComputeHash(e Entry) (string, error) {
	hashInput := struct {
		Seq      uint64         `json:"seq"`
		Type     string         `json:"type"`
		Actor    string         `json:"actor"`
		Data     map[string]any `json:"data"`
		PrevHash string         `json:"prev"`
		At       int64          `json:"at"`
	}{e.Sequence, e.Type, e.Actor, e.Data, e.PrevHash, e.Timestamp.UnixNano()}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// toMap normalizes data to the decoded JSON form so hashing is stable across reloads.
func toMap(data any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("data must be a JSON object: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

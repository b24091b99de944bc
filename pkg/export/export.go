package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
)

// Result describes a written snapshot.
type Result struct {
	Ref      string `json:"ref"`
	Sequence uint64 `json:"sequence"`
	Head     string `json:"head"`
	Entries  int    `json:"entries"`
}

// Export snapshots the journal, verifies it and writes it to st.
func Export(ctx context.Context, j *journal.Journal, st Store, now time.Time) (Result, error) {
	snap, err := Build(ctx, j, now)
	if err != nil {
		return Result{}, err
	}
	if err := Verify(snap); err != nil {
		return Result{}, fmt.Errorf("export: refusing to write unverifiable snapshot: %w", err)
	}
	data, err := snap.Encode()
	if err != nil {
		return Result{}, fmt.Errorf("export: encode: %w", err)
	}
	ref, err := st.Put(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("export: store: %w", err)
	}

	slog.Default().With("component", "export").InfoContext(ctx, "journal exported",
		"ref", ref, "sequence", snap.Head.Sequence, "entries", len(snap.Entries))
	return Result{Ref: ref, Sequence: snap.Head.Sequence, Head: snap.Head.Hash, Entries: len(snap.Entries)}, nil
}

// Load fetches a snapshot by reference, checks its content address and verifies it.
func Load(ctx context.Context, st Store, ref string) (Snapshot, error) {
	data, err := st.Get(ctx, ref)
	if err != nil {
		return Snapshot{}, err
	}
	if got := Ref(data); got != ref {
		return Snapshot{}, fmt.Errorf("export: content address mismatch: stored %s, computed %s", ref, got)
	}
	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, Verify(snap)
}

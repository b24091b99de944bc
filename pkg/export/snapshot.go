// Package export writes verifiable snapshots of the audit journal to
// content-addressed storage (filesystem, S3 or GCS) and checks them back.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/journal"
)

// FormatVersion is the snapshot layout written by this build.
const FormatVersion = "1.0.0"

// supportedFormats is the range of snapshot layouts Verify accepts.
const supportedFormats = "^1.0.0"

const pageSize = 500

// Snapshot is a complete copy of the journal up to Head.
type Snapshot struct {
	FormatVersion string          `json:"format_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	Head          journal.Head    `json:"head"`
	Entries       []journal.Entry `json:"entries"`
}

// Build reads the whole journal into a snapshot. The head is read first and
// entries past it are ignored, so concurrent appends do not tear the chain.
func Build(ctx context.Context, j *journal.Journal, now time.Time) (Snapshot, error) {
	head, err := j.Head(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export: read head: %w", err)
	}
	snap := Snapshot{
		FormatVersion: FormatVersion,
		ExportedAt:    now.UTC(),
		Head:          head,
		Entries:       make([]journal.Entry, 0, head.Sequence),
	}

	var after uint64
	for after < head.Sequence {
		page, err := j.Entries(ctx, after, pageSize)
		if err != nil {
			return Snapshot{}, fmt.Errorf("export: read entries after %d: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if e.Sequence > head.Sequence {
				break
			}
			snap.Entries = append(snap.Entries, e)
		}
		after = page[len(page)-1].Sequence
	}
	return snap, nil
}

// Encode renders the snapshot as indented JSON.
func (s Snapshot) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Decode parses a snapshot.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("export: decode snapshot: %w", err)
	}
	return s, nil
}

// Verify checks that the snapshot layout is supported and that its entries
// form an unbroken hash chain ending at its head.
func Verify(s Snapshot) error {
	if err := checkFormat(s.FormatVersion); err != nil {
		return err
	}
	if err := journal.VerifyChain(s.Entries, s.Head); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

func checkFormat(v string) error {
	constraint, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return fmt.Errorf("export: invalid format constraint: %w", err)
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("export: invalid snapshot format version %q: %w", v, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("export: snapshot format %s is not supported (want %s)", v, supportedFormats)
	}
	return nil
}

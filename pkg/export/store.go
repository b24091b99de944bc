package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when no snapshot exists under a reference.
var ErrNotFound = errors.New("export: snapshot not found")

// Store is content-addressed storage for encoded snapshots.
type Store interface {
	// Put persists data and returns its reference, "sha256:<hex>".
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether a reference is stored.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Ref computes the content reference of data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// parseRef validates a reference and returns its hex digest.
func parseRef(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, "sha256:")
	if !ok {
		return "", fmt.Errorf("invalid snapshot reference: %s", ref)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("invalid snapshot reference hex: %s", ref)
	}
	return raw, nil
}

// objectName is the key under which a digest is stored by every backend.
func objectName(prefix, digest string) string {
	return prefix + digest + ".json"
}

// FileStore is a filesystem-backed Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: snapshots are meant to be shared with auditors
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure export dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(data)
	path := filepath.Join(s.baseDir, objectName("", strings.TrimPrefix(ref, "sha256:")))
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmpPath := path + ".tmp"
	//nolint:gosec // G306: snapshots are meant to be shared with auditors
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, objectName("", digest)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return data, err
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, objectName("", digest)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

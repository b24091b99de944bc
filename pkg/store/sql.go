package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Dialect selects driver specific behaviour of SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store on database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
	logger  *slog.Logger
	clock   func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "store", "dialect", string(dialect)),
		clock:   time.Now,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (kind, id)
	)`,
	`CREATE TABLE IF NOT EXISTS sequences (
		kind TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
}

// Init creates the schema if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range schema {
		err := retryOp(defaultRetryConfig, func() error {
			_, err := s.db.ExecContext(ctx, stmt)
			return err
		})
		if err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := joined(ctx, s); ok {
		return fn(ctx, tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, false, fn)
}

// View runs fn read-only. Readers share the lock; they wait only for an
// in-flight Update to finish.
func (s *SQLStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := joined(ctx, s); ok {
		return fn(ctx, tx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run(ctx, true, fn)
}

func (s *SQLStore) run(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx Tx) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly}
	}

	var sqlTx *sql.Tx
	err := retryOp(defaultRetryConfig, func() error {
		var err error
		sqlTx, err = s.db.BeginTx(ctx, opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}

	tx := &sqlTxn{ctx: ctx, tx: sqlTx, dialect: s.dialect, readOnly: readOnly, now: s.clock}
	if err := fn(withTx(ctx, s, tx), tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		// Side effects issued inside fn cannot be recalled at this point.
		s.logger.Error("commit failed after successful transaction body", "error", err)
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTxn struct {
	ctx      context.Context
	tx       *sql.Tx
	dialect  Dialect
	readOnly bool
	now      func() time.Time
}

func (t *sqlTxn) Get(kind, id string, v any) (bool, error) {
	var body string
	err := t.tx.QueryRowContext(t.ctx,
		t.q("SELECT body FROM documents WHERE kind = ? AND id = ?"), kind, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return true, nil
}

func (t *sqlTxn) Put(kind, id string, v any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	query := `
		INSERT INTO documents (kind, id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := t.tx.ExecContext(t.ctx, t.q(query), kind, id, string(raw), t.now().UTC()); err != nil {
		return fmt.Errorf("put %s/%s: %w", kind, id, err)
	}
	return nil
}

func (t *sqlTxn) Scan(kind string, fn func(id string, raw []byte) error) error {
	rows, err := t.tx.QueryContext(t.ctx,
		t.q("SELECT id, body FROM documents WHERE kind = ? ORDER BY id"), kind)
	if err != nil {
		return fmt.Errorf("scan %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	type doc struct {
		id   string
		body string
	}
	var docs []doc
	for rows.Next() {
		var d doc
		if err := rows.Scan(&d.id, &d.body); err != nil {
			return fmt.Errorf("scan %s: %w", kind, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", kind, err)
	}
	// Rows are drained before fn runs so fn may issue its own queries on the tx.
	for _, d := range docs {
		if err := fn(d.id, []byte(d.body)); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTxn) NextSeq(kind string) (uint64, error) {
	if t.readOnly {
		return 0, ErrReadOnly
	}
	query := `
		INSERT INTO sequences (kind, value) VALUES (?, 1)
		ON CONFLICT (kind) DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`
	var v int64
	if err := t.tx.QueryRowContext(t.ctx, t.q(query), kind).Scan(&v); err != nil {
		return 0, fmt.Errorf("next seq %s: %w", kind, err)
	}
	return uint64(v), nil
}

// q rewrites ? placeholders to $n for Postgres.
func (t *sqlTxn) q(query string) string {
	return rebind(t.dialect, query)
}

func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

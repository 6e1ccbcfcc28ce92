// Package store is the SQLite primary store for entities. Every mutation
// is announced to listeners as a lifecycle event, which is how the sync
// engine learns about writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/router"
)

// EventPrefix namespaces the lifecycle events the store emits.
const EventPrefix = "store"

// Lifecycle event names emitted by the store.
const (
	EventPersisted = EventPrefix + router.SuffixPersisted
	EventUpdated   = EventPrefix + router.SuffixUpdated
	EventDeleted   = EventPrefix + router.SuffixDeleted
)

// maxBatchIDs bounds the number of ids bound to one IN clause.
const maxBatchIDs = 500

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Listener receives lifecycle events after the mutation committed.
type Listener func(ctx context.Context, name string, payload any)

// Store persists entities as JSON rows keyed by (kind, key).
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	registry  *mapping.Registry
	listeners []Listener
	closed    bool
}

// Open opens or creates the store at path. An empty path creates an
// in-memory store. Entities are decoded with the registry's constructors.
func Open(path string, registry *mapping.Registry) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to create store directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to open store", err)
	}

	// Single connection: it keeps an in-memory database alive and
	// serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite, so set pragmas here.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to set pragma", err)
		}
	}

	s := &Store{db: db, path: path, registry: registry}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to initialize schema", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS entities (
		kind       TEXT NOT NULL,
		key        TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (kind, key)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// OnEvent registers a listener. Listeners run synchronously, in
// registration order, on the goroutine that made the mutation.
func (s *Store) OnEvent(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) emit(ctx context.Context, name string, m mapping.Model) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	slog.Debug("store_event", slog.String("event", name), slog.String("kind", m.Kind()), slog.String("key", m.Key()))
	for _, l := range listeners {
		l(ctx, name, m)
	}
}

// Save inserts or replaces m, then emits EventPersisted for a new entity
// or EventUpdated for an existing one.
func (s *Store) Save(ctx context.Context, m mapping.Model) error {
	body, err := json.Marshal(m)
	if err != nil {
		return serrors.New(serrors.ErrCodeStoreFailed, "failed to encode entity", err).
			WithDetail("kind", m.Kind()).WithDetail("key", m.Key())
	}

	existed, err := s.upsert(ctx, m.Kind(), m.Key(), body)
	if err != nil {
		return err
	}

	name := EventPersisted
	if existed {
		name = EventUpdated
	}
	s.emit(ctx, name, m)
	return nil
}

func (s *Store) upsert(ctx context.Context, kind, key string, body []byte) (existed bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, serrors.InternalError("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, serrors.New(serrors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE kind = ? AND key = ?`, kind, key).Scan(&n); err != nil {
		return false, serrors.New(serrors.ErrCodeStoreFailed, "failed to look up entity", err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (kind, key, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		kind, key, string(body), now, now); err != nil {
		return false, serrors.New(serrors.ErrCodeStoreFailed, "failed to save entity", err)
	}
	if err := tx.Commit(); err != nil {
		return false, serrors.New(serrors.ErrCodeStoreFailed, "failed to commit", err)
	}
	return n > 0, nil
}

// Remove deletes the entity and emits EventDeleted with its last state.
// A missing entity returns ErrNotFound.
func (s *Store) Remove(ctx context.Context, kind, key string) (mapping.Model, error) {
	m, err := s.Get(ctx, kind, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, serrors.InternalError("store is closed", nil)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND key = ?`, kind, key)
	s.mu.RUnlock()
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to delete entity", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	s.emit(ctx, EventDeleted, m)
	return m, nil
}

// Get loads one entity.
func (s *Store) Get(ctx context.Context, kind, key string) (mapping.Model, error) {
	models, err := s.LoadByIDs(ctx, kind, []string{key})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
	}
	return models[0], nil
}

// LoadByIDs returns the entities of kind whose keys are in ids. Missing
// keys are skipped; the order is unspecified.
func (s *Store) LoadByIDs(ctx context.Context, kind string, ids []string) ([]mapping.Model, error) {
	out := make([]mapping.Model, 0, len(ids))
	for start := 0; start < len(ids); start += maxBatchIDs {
		batch := ids[start:min(start+maxBatchIDs, len(ids))]

		args := make([]any, 0, len(batch)+1)
		args = append(args, kind)
		for _, id := range batch {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		models, err := s.query(ctx, kind,
			`SELECT key, body FROM entities WHERE kind = ? AND key IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, models...)
	}
	return out, nil
}

// All returns every entity of kind, ordered by key.
func (s *Store) All(ctx context.Context, kind string) ([]mapping.Model, error) {
	return s.query(ctx, kind, `SELECT key, body FROM entities WHERE kind = ? ORDER BY key`, kind)
}

func (s *Store) query(ctx context.Context, kind, q string, args ...any) ([]mapping.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, serrors.InternalError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to query entities", err)
	}
	defer rows.Close()

	var out []mapping.Model
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to scan entity", err)
		}
		m, err := s.registry.New(kind)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), m); err != nil {
			return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to decode entity", err).
				WithDetail("kind", kind).WithDetail("key", key)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to read entities", err)
	}
	return out, nil
}

// Keys returns the keys of every entity of kind, sorted.
func (s *Store) Keys(ctx context.Context, kind string) ([]string, error) {
	return s.strings(ctx, `SELECT key FROM entities WHERE kind = ? ORDER BY key`, kind)
}

// Kinds returns the distinct kinds stored, sorted.
func (s *Store) Kinds(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT kind FROM entities ORDER BY kind`)
}

func (s *Store) strings(ctx context.Context, q string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, serrors.InternalError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to query store", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, serrors.New(serrors.ErrCodeStoreFailed, "failed to scan row", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Count returns the number of entities of kind.
func (s *Store) Count(ctx context.Context, kind string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, serrors.InternalError("store is closed", nil)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE kind = ?`, kind).Scan(&n); err != nil {
		return 0, serrors.New(serrors.ErrCodeStoreFailed, "failed to count entities", err)
	}
	return n, nil
}

// Path returns the database path, empty for an in-memory store.
func (s *Store) Path() string { return s.path }

// DB exposes the connection for tables kept alongside the entities, such
// as query telemetry. It must not be used after Close.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

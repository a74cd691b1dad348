package checkpoint

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/todosync/pkg/tasks"
)

var ErrNotFound = errors.New("checkpoint not found")

// Store keeps one automerge document per principal. Every checkpoint is a
// commit on that document, so the document doubles as the list's history.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS checkpoints (
		principal text not null primary key,
		version integer not null,
		content text not null,
		updated_at text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the latest checkpointed snapshot for principal.
func (s *Store) Load(ctx context.Context, principal string) (tasks.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadDoc(ctx, principal)
	if errors.Is(err, ErrNotFound) {
		return tasks.Snapshot{}, false, nil
	} else if err != nil {
		return tasks.Snapshot{}, false, err
	}
	snap, _, err := ReadSnapshot(doc)
	if err != nil {
		return tasks.Snapshot{}, false, err
	}
	return snap, true, nil
}

// History returns the whole checkpoint document for principal.
func (s *Store) History(ctx context.Context, principal string) (*automerge.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadDoc(ctx, principal)
}

// Save commits snap as a new checkpoint of principal's document.
func (s *Store) Save(ctx context.Context, principal string, snap tasks.Snapshot, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDoc(ctx, principal)
	if errors.Is(err, ErrNotFound) {
		doc = automerge.New()
	} else if err != nil {
		return err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := doc.Path("snapshot").Set(string(raw)); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	if err := doc.Path("version").Set(int64(version)); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	if _, err := doc.Commit(fmt.Sprintf("checkpoint %d", version), automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	content := base64.StdEncoding.EncodeToString(doc.Save())
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints(principal, version, content, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(principal) DO UPDATE SET
	version=excluded.version,
	content=excluded.content,
	updated_at=excluded.updated_at`,
		principal, int64(version), content, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	slog.Debug("checkpointed", "principal", principal, "version", version, "heads", doc.Heads())
	return nil
}

// Principals lists every principal with at least one checkpoint.
func (s *Store) Principals(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT principal FROM checkpoints ORDER BY principal`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadDoc(ctx context.Context, principal string) (*automerge.Doc, error) {
	var content string
	if err := s.db.QueryRowContext(ctx,
		`SELECT content FROM checkpoints WHERE principal = ?`, principal,
	).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return doc, nil
}

// ReadSnapshot decodes the snapshot and version held by a checkpoint document
// or by a fork of it at an earlier change.
func ReadSnapshot(doc *automerge.Doc) (tasks.Snapshot, uint64, error) {
	value, err := doc.Path("snapshot").Get()
	if err != nil {
		return tasks.Snapshot{}, 0, fmt.Errorf("failed to read snapshot: %w", err)
	}
	raw, ok := value.Interface().(string)
	if !ok {
		return tasks.Snapshot{}, 0, fmt.Errorf("%w: document holds no snapshot", ErrNotFound)
	}
	var snap tasks.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return tasks.Snapshot{}, 0, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return tasks.Snapshot{}, 0, fmt.Errorf("checkpoint is corrupt: %w", err)
	}
	var version uint64
	if v, err := doc.Path("version").Get(); err == nil {
		if n, ok := v.Interface().(int64); ok && n > 0 {
			version = uint64(n)
		}
	}
	return snap, version, nil
}

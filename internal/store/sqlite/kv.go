// Package sqlite stores card registry keys in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // driver

	"github.com/gosuda/appexplorer/internal/domain"
)

// KV is a workspace-scoped key/value table in SQLite.
type KV struct {
	conn      *sql.DB
	workspace string
}

// New opens (or creates) the database at path and migrates it.
func New(ctx context.Context, path, workspace string) (*KV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite.New: create directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: open: %w", err)
	}
	// SQLite has a single writer.
	conn.SetMaxOpenConns(1)

	kv := &KV{conn: conn, workspace: workspace}
	if err := kv.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite.New: migrate: %w", err)
	}
	return kv, nil
}

func (kv *KV) migrate(ctx context.Context) error {
	_, err := kv.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		workspace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (workspace, key)
	)`)
	return err
}

func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := kv.conn.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE workspace = ? AND key = ?`,
		kv.workspace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite.KV.Get(%q): %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.KV.Get(%q): %w", key, err)
	}
	return value, nil
}

func (kv *KV) Put(ctx context.Context, key string, value []byte) error {
	_, err := kv.conn.ExecContext(ctx,
		`INSERT INTO kv (workspace, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (workspace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		kv.workspace, key, value,
	)
	if err != nil {
		return fmt.Errorf("sqlite.KV.Put(%q): %w", key, err)
	}
	return nil
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	_, err := kv.conn.ExecContext(ctx,
		`DELETE FROM kv WHERE workspace = ? AND key = ?`,
		kv.workspace, key,
	)
	if err != nil {
		return fmt.Errorf("sqlite.KV.Delete(%q): %w", key, err)
	}
	return nil
}

func (kv *KV) Close() error {
	if err := kv.conn.Close(); err != nil {
		return fmt.Errorf("sqlite.KV.Close: %w", err)
	}
	return nil
}

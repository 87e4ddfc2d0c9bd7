// Package postgres stores card registry keys in a shared PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/appexplorer/internal/domain"
)

type Store struct {
	pool      *pgxpool.Pool
	workspace string
}

func New(ctx context.Context, dsn string, maxConns int32, workspace string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	s := &Store{pool: pool, workspace: workspace}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS appexplorer_kv (
			workspace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (workspace, key)
		)`)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.pool.QueryRow(ctx,
		`SELECT value FROM appexplorer_kv WHERE workspace = $1 AND key = $2`,
		s.workspace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres.Store.Get(%q): %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.Get(%q): %w", key, err)
	}

	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO appexplorer_kv (workspace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (workspace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		s.workspace, key, value,
	)
	if err != nil {
		return fmt.Errorf("postgres.Store.Put(%q): %w", key, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM appexplorer_kv WHERE workspace = $1 AND key = $2`,
		s.workspace, key,
	)
	if err != nil {
		return fmt.Errorf("postgres.Store.Delete(%q): %w", key, err)
	}

	return nil
}

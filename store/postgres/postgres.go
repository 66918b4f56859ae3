// Package postgres is the durable override.Store backing namespaces
// and overrides via pgx/pgxpool.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nodequota/ratelimit/override"
)

// Store implements override.Store against a Postgres schema of two
// tables: namespaces (workspace_id, name) unique among non-deleted
// rows, and overrides (namespace_id, pattern) unique among non-deleted
// rows.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn (a postgres:// URL) and verifies
// connectivity with a short-lived ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// Migrate creates the schema if it does not already exist. Intended for
// local development and integration tests; production deployments are
// expected to run migrations out of band.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS namespaces (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at   TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS namespaces_workspace_name_live
	ON namespaces (workspace_id, name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS overrides (
	id            TEXT PRIMARY KEY,
	namespace_id  TEXT NOT NULL REFERENCES namespaces(id),
	pattern       TEXT NOT NULL,
	limit_count   BIGINT NOT NULL,
	duration_ms   BIGINT NOT NULL,
	async_mode    BOOLEAN NOT NULL DEFAULT false,
	sharding      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at    TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS overrides_namespace_pattern_live
	ON overrides (namespace_id, pattern) WHERE deleted_at IS NULL;
`

func (s *Store) GetNamespace(ctx context.Context, workspaceID, name string) (override.Namespace, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, name, created_at, deleted_at
		FROM namespaces
		WHERE workspace_id = $1 AND name = $2 AND deleted_at IS NULL`,
		workspaceID, name)

	var ns override.Namespace
	if err := row.Scan(&ns.ID, &ns.WorkspaceID, &ns.Name, &ns.CreatedAt, &ns.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return override.Namespace{}, override.ErrNotFound
		}
		return override.Namespace{}, err
	}
	return ns, nil
}

// CreateNamespace is duplicate-key-safe: ON CONFLICT DO NOTHING followed
// by a re-read means two concurrent callers racing for the same
// (workspace_id, name) both observe the winner's row rather than one of
// them erroring.
func (s *Store) CreateNamespace(ctx context.Context, workspaceID, name string) (override.Namespace, error) {
	id := workspaceID + "/" + name
	_, err := s.pool.Exec(ctx, `
		INSERT INTO namespaces (id, workspace_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, name) WHERE deleted_at IS NULL DO NOTHING`,
		id, workspaceID, name)
	if err != nil {
		return override.Namespace{}, err
	}
	return s.GetNamespace(ctx, workspaceID, name)
}

func (s *Store) SetOverride(ctx context.Context, namespaceID, pattern string, limit, durationMs int64, asyncMode bool, sharding string) (override.Override, error) {
	id := namespaceID + "/" + pattern
	_, err := s.pool.Exec(ctx, `
		INSERT INTO overrides (id, namespace_id, pattern, limit_count, duration_ms, async_mode, sharding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (namespace_id, pattern) WHERE deleted_at IS NULL DO UPDATE SET
			limit_count = EXCLUDED.limit_count,
			duration_ms = EXCLUDED.duration_ms,
			async_mode  = EXCLUDED.async_mode,
			sharding    = EXCLUDED.sharding,
			updated_at  = now()`,
		id, namespaceID, pattern, limit, durationMs, asyncMode, sharding)
	if err != nil {
		return override.Override{}, err
	}
	return s.GetOverride(ctx, namespaceID, pattern)
}

func (s *Store) GetOverride(ctx context.Context, namespaceID, pattern string) (override.Override, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, namespace_id, pattern, limit_count, duration_ms, async_mode, sharding, created_at, updated_at, deleted_at
		FROM overrides
		WHERE namespace_id = $1 AND pattern = $2 AND deleted_at IS NULL`,
		namespaceID, pattern)
	return scanOverride(row)
}

func (s *Store) ListOverrides(ctx context.Context, namespaceID, cursor string, pageSize int) (override.Page, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, namespace_id, pattern, limit_count, duration_ms, async_mode, sharding, created_at, updated_at, deleted_at
		FROM overrides
		WHERE namespace_id = $1 AND deleted_at IS NULL AND pattern > $2
		ORDER BY pattern
		LIMIT $3`,
		namespaceID, cursor, pageSize+1)
	if err != nil {
		return override.Page{}, err
	}
	defer rows.Close()

	var page override.Page
	for rows.Next() {
		o, err := scanOverrideRows(rows)
		if err != nil {
			return override.Page{}, err
		}
		page.Overrides = append(page.Overrides, o)
	}
	if err := rows.Err(); err != nil {
		return override.Page{}, err
	}

	if len(page.Overrides) > pageSize {
		page.NextCursor = page.Overrides[pageSize-1].Pattern
		page.Overrides = page.Overrides[:pageSize]
	}
	return page, nil
}

func (s *Store) DeleteOverride(ctx context.Context, namespaceID, pattern string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE overrides SET deleted_at = now()
		WHERE namespace_id = $1 AND pattern = $2 AND deleted_at IS NULL`,
		namespaceID, pattern)
	return err
}

func (s *Store) ListAllOverrides(ctx context.Context, namespaceID string) ([]override.Override, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, namespace_id, pattern, limit_count, duration_ms, async_mode, sharding, created_at, updated_at, deleted_at
		FROM overrides
		WHERE namespace_id = $1 AND deleted_at IS NULL`,
		namespaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []override.Override
	for rows.Next() {
		o, err := scanOverrideRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOverride(row pgx.Row) (override.Override, error) {
	var o override.Override
	if err := row.Scan(&o.ID, &o.NamespaceID, &o.Pattern, &o.Limit, &o.DurationMs, &o.AsyncMode, &o.Sharding, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return override.Override{}, override.ErrNotFound
		}
		return override.Override{}, err
	}
	return o, nil
}

func scanOverrideRows(rows pgx.Rows) (override.Override, error) {
	var o override.Override
	err := rows.Scan(&o.ID, &o.NamespaceID, &o.Pattern, &o.Limit, &o.DurationMs, &o.AsyncMode, &o.Sharding, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	return o, err
}

var _ override.Store = (*Store)(nil)

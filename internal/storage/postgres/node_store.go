// Package postgres provides the Postgres-backed node repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Config controls the Postgres connection pool used for node rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// NodeStore persists crawl nodes into a single Postgres table.
type NodeStore struct {
	pool  pool
	table string
	ids   store.IDGenerator
	clock store.Clock
}

var _ store.NodeRepository = (*NodeStore)(nil)

// NewNodeStore connects to Postgres and verifies the server is reachable.
func NewNodeStore(ctx context.Context, cfg Config, ids store.IDGenerator, clock store.Clock) (*NodeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewNodeStoreWithPool(p, cfg.Table, ids, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewNodeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewNodeStoreWithPool(p pool, table string, ids store.IDGenerator, clock store.Clock) (*NodeStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if table == "" {
		table = "crawl_nodes"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &NodeStore{pool: p, table: table, ids: ids, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *NodeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the node table and its parent index.
func (s *NodeStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY,
	url VARCHAR(2048) NOT NULL UNIQUE,
	parent_id UUID REFERENCES %[1]s(id) ON DELETE SET NULL,
	breadcrumb TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	crawled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_parent_idx ON %[1]s (parent_id)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertNode implements store.NodeRepository.
func (s *NodeStore) UpsertNode(ctx context.Context, in store.NodeInput, updateIfExists bool) (uuid.UUID, error) {
	in, err := store.Normalize(in)
	if err != nil {
		return uuid.Nil, err
	}
	now := s.clock.Now()

	if updateIfExists {
		id, found, err := s.updateExisting(ctx, in, now)
		if err != nil {
			return uuid.Nil, err
		}
		if found {
			return id, nil
		}
	}

	id, err := s.ids.NewNodeID()
	if err != nil {
		return uuid.Nil, err
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (id, url, parent_id, breadcrumb, title, status_code, crawled_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, s.table)
	_, err = s.pool.Exec(ctx, insert, id, in.URL, in.ParentID, in.Breadcrumb, in.Title, in.StatusCode, now, now)
	if err == nil {
		return id, nil
	}
	if !isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("insert node: %w", err)
	}

	// Another worker inserted the same URL first; its row and parent win.
	existing, found, uerr := s.updateExisting(ctx, in, now)
	if uerr != nil {
		return uuid.Nil, uerr
	}
	if !found {
		return uuid.Nil, fmt.Errorf("insert node: %w", err)
	}
	return existing, nil
}

func (s *NodeStore) updateExisting(ctx context.Context, in store.NodeInput, now time.Time) (uuid.UUID, bool, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET status_code = $2, title = $3, breadcrumb = $4, updated_at = $5
WHERE id = (SELECT id FROM %[1]s WHERE url = $1 ORDER BY crawled_at, id LIMIT 1)
RETURNING id`, s.table)
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, in.URL, in.StatusCode, in.Title, in.Breadcrumb, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("update node: %w", err)
	}
	return id, true, nil
}

// GetByURL implements store.NodeRepository.
func (s *NodeStore) GetByURL(ctx context.Context, url string) (store.Node, error) {
	query := fmt.Sprintf(`
SELECT id, url, parent_id, breadcrumb, title, status_code, crawled_at, updated_at
FROM %s WHERE url = $1 ORDER BY crawled_at, id LIMIT 1`, s.table)
	var node store.Node
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&node.ID,
		&node.URL,
		&node.ParentID,
		&node.Breadcrumb,
		&node.Title,
		&node.StatusCode,
		&node.CrawledAt,
		&node.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Node{}, store.ErrNotFound
	}
	if err != nil {
		return store.Node{}, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

// URLsForDomain implements store.NodeRepository.
func (s *NodeStore) URLsForDomain(ctx context.Context, domain string) ([]string, error) {
	query := fmt.Sprintf(`SELECT url FROM %s WHERE url LIKE $1`, s.table)
	rows, err := s.pool.Query(ctx, query, "%"+domain+"%")
	if err != nil {
		return nil, fmt.Errorf("query domain urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan domain url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain urls: %w", err)
	}
	return store.FilterDomain(urls, domain), nil
}

// DedupeURLs implements store.NodeRepository. Children of removed rows are
// re-pointed at the kept row before the extras are deleted, all in one transaction.
func (s *NodeStore) DedupeURLs(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin dedupe: %w", err)
	}

	repoint := fmt.Sprintf(`
WITH ranked AS (
	SELECT id, first_value(id) OVER (PARTITION BY url ORDER BY crawled_at, id) AS keeper
	FROM %[1]s
), extras AS (
	SELECT id, keeper FROM ranked WHERE id <> keeper
)
UPDATE %[1]s c SET parent_id = e.keeper
FROM extras e
WHERE c.parent_id = e.id AND c.id <> e.keeper`, s.table)
	if _, err := tx.Exec(ctx, repoint); err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("repoint duplicate children: %w", err)
	}

	remove := fmt.Sprintf(`
DELETE FROM %[1]s WHERE id IN (
	SELECT id FROM (
		SELECT id, row_number() OVER (PARTITION BY url ORDER BY crawled_at, id) AS rn
		FROM %[1]s
	) ranked WHERE rn > 1
)`, s.table)
	tag, err := tx.Exec(ctx, remove)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("delete duplicate nodes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit dedupe: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping verifies connectivity; used by the status server readiness probe.
func (s *NodeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

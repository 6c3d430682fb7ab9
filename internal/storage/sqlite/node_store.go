// Package sqlite provides an embedded, CGO-free node repository for single-host runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NodeStore persists crawl nodes in a SQLite file. Timestamps are stored as
// Unix nanoseconds so ordering by crawled_at is exact.
type NodeStore struct {
	db    *sql.DB
	table string
	ids   store.IDGenerator
	clock store.Clock
}

var _ store.NodeRepository = (*NodeStore)(nil)

// Open opens or creates the database file at path.
func Open(ctx context.Context, path, table string, ids store.IDGenerator, clock store.Clock) (*NodeStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db.dsn is required for sqlite")
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
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &NodeStore{db: db, table: table, ids: ids, clock: clock}, nil
}

// Close releases the database handle.
func (s *NodeStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates the node table and its parent index.
func (s *NodeStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	parent_id TEXT REFERENCES %[1]s(id) ON DELETE SET NULL,
	breadcrumb TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	crawled_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_parent_idx ON %[1]s (parent_id)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
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
	now := s.clock.Now().UnixNano()

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
	var parent any
	if in.ParentID != nil {
		parent = in.ParentID.String()
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (id, url, parent_id, breadcrumb, title, status_code, crawled_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, insert, id.String(), in.URL, parent, in.Breadcrumb, in.Title, in.StatusCode, now, now)
	if err == nil {
		return id, nil
	}
	if !isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("insert node: %w", err)
	}

	existing, found, uerr := s.updateExisting(ctx, in, now)
	if uerr != nil {
		return uuid.Nil, uerr
	}
	if !found {
		return uuid.Nil, fmt.Errorf("insert node: %w", err)
	}
	return existing, nil
}

func (s *NodeStore) updateExisting(ctx context.Context, in store.NodeInput, now int64) (uuid.UUID, bool, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET status_code = ?, title = ?, breadcrumb = ?, updated_at = ?
WHERE id = (SELECT id FROM %[1]s WHERE url = ? ORDER BY crawled_at, id LIMIT 1)
RETURNING id`, s.table)
	var raw string
	err := s.db.QueryRowContext(ctx, query, in.StatusCode, in.Title, in.Breadcrumb, now, in.URL).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("update node: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse node id: %w", err)
	}
	return id, true, nil
}

// GetByURL implements store.NodeRepository.
func (s *NodeStore) GetByURL(ctx context.Context, url string) (store.Node, error) {
	query := fmt.Sprintf(`
SELECT id, url, parent_id, breadcrumb, title, status_code, crawled_at, updated_at
FROM %s WHERE url = ? ORDER BY crawled_at, id LIMIT 1`, s.table)
	var (
		node                 store.Node
		id                   string
		parent               sql.NullString
		crawledAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, url).Scan(
		&id, &node.URL, &parent, &node.Breadcrumb, &node.Title, &node.StatusCode, &crawledAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Node{}, store.ErrNotFound
	}
	if err != nil {
		return store.Node{}, fmt.Errorf("get node: %w", err)
	}
	if node.ID, err = uuid.Parse(id); err != nil {
		return store.Node{}, fmt.Errorf("parse node id: %w", err)
	}
	if parent.Valid {
		p, err := uuid.Parse(parent.String)
		if err != nil {
			return store.Node{}, fmt.Errorf("parse parent id: %w", err)
		}
		node.ParentID = &p
	}
	node.CrawledAt = time.Unix(0, crawledAt).UTC()
	node.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return node, nil
}

// URLsForDomain implements store.NodeRepository.
func (s *NodeStore) URLsForDomain(ctx context.Context, domain string) ([]string, error) {
	query := fmt.Sprintf(`SELECT url FROM %s WHERE instr(url, ?) > 0`, s.table)
	rows, err := s.db.QueryContext(ctx, query, domain)
	if err != nil {
		return nil, fmt.Errorf("query domain urls: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// DedupeURLs implements store.NodeRepository.
func (s *NodeStore) DedupeURLs(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin dedupe: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	repoint := fmt.Sprintf(`
WITH ranked AS (
	SELECT id, first_value(id) OVER (PARTITION BY url ORDER BY crawled_at, id) AS keeper
	FROM %[1]s
), extras AS (
	SELECT id, keeper FROM ranked WHERE id <> keeper
)
UPDATE %[1]s SET parent_id = (SELECT keeper FROM extras WHERE extras.id = %[1]s.parent_id)
WHERE parent_id IN (SELECT id FROM extras)`, s.table)
	if _, err := tx.ExecContext(ctx, repoint); err != nil {
		return 0, fmt.Errorf("repoint duplicate children: %w", err)
	}

	remove := fmt.Sprintf(`
DELETE FROM %[1]s WHERE id IN (
	SELECT id FROM (
		SELECT id, row_number() OVER (PARTITION BY url ORDER BY crawled_at, id) AS rn
		FROM %[1]s
	) WHERE rn > 1
)`, s.table)
	res, err := tx.ExecContext(ctx, remove)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate nodes: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count removed nodes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit dedupe: %w", err)
	}
	return int(removed), nil
}

// Ping verifies the database file is usable.
func (s *NodeStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	switch sqErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Package docstore provides the SQLite-backed relational side of the
// context pipeline: the domain summaries that form the core context, the
// global and tenant document catalogues used to resolve reasoning trees,
// and the chunk-vector table that serves as the similarity-search fallback.
package docstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// StoredChunk is one embedded content chunk as persisted in the relational
// fallback table. TenantID is nil for shared and core-context chunks.
type StoredChunk struct {
	// ID is the chunk's stable identifier, shared with the vector index.
	ID string
	// TenantID scopes the chunk to one tenant; nil means not tenant-owned.
	TenantID *string
	// Shared marks a chunk visible to every tenant.
	Shared bool
	// SourceType classifies the chunk origin ("document", "core_context").
	SourceType string
	// Heading is the optional section heading the chunk was taken from.
	Heading string
	// Content is the chunk text.
	Content string
	// TokenCount is the chunk's estimated token footprint.
	TokenCount int
	// LinkedDocumentID points at the source document, when one exists.
	LinkedDocumentID string
	// Embedding is the chunk's vector.
	Embedding []float32
}

// Store is the SQLite-backed document store. It is safe for concurrent use.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS domain_summaries (
    key        TEXT    PRIMARY KEY,
    content    TEXT    NOT NULL,
    active     INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL DEFAULT 0  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS global_documents (
    id      TEXT PRIMARY KEY,
    title   TEXT NOT NULL DEFAULT '',
    tree_id TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS tenant_documents (
    id        TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    title     TEXT NOT NULL DEFAULT '',
    tree_id   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tenant_documents_tenant
    ON tenant_documents (tenant_id);
CREATE TABLE IF NOT EXISTS chunk_vectors (
    id                 TEXT    PRIMARY KEY,
    tenant_id          TEXT,
    shared             INTEGER NOT NULL DEFAULT 0,
    source_type        TEXT    NOT NULL DEFAULT 'document',
    heading            TEXT    NOT NULL DEFAULT '',
    content            TEXT    NOT NULL,
    token_count        INTEGER NOT NULL DEFAULT 0,
    linked_document_id TEXT    NOT NULL DEFAULT '',
    embedding          BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunk_vectors_tenant
    ON chunk_vectors (tenant_id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

// CoreContext returns the content of every active domain summary, ordered
// by key and concatenated with blank lines. An empty table yields "".
func (s *Store) CoreContext(ctx context.Context) (string, error) {
	const q = `SELECT content FROM domain_summaries WHERE active = 1 ORDER BY key`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return "", fmt.Errorf("docstore: core context: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", fmt.Errorf("docstore: core context scan: %w", err)
		}
		parts = append(parts, content)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("docstore: core context rows: %w", err)
	}
	return strings.Join(parts, "\n\n"), nil
}

// UpsertSummary stores or replaces a domain summary row.
func (s *Store) UpsertSummary(ctx context.Context, key, content string, active bool) error {
	const q = `
INSERT INTO domain_summaries (key, content, active, updated_at)
VALUES (?, ?, ?, unixepoch())
ON CONFLICT (key) DO UPDATE SET content = excluded.content,
                                active = excluded.active,
                                updated_at = excluded.updated_at`
	activeInt := 0
	if active {
		activeInt = 1
	}
	if _, err := s.db.ExecContext(ctx, q, key, content, activeInt); err != nil {
		return fmt.Errorf("docstore: upsert summary: %w", err)
	}
	return nil
}

// PutGlobalDocument registers a document in the global catalogue.
func (s *Store) PutGlobalDocument(ctx context.Context, id, title, treeID string) error {
	const q = `
INSERT INTO global_documents (id, title, tree_id) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET title = excluded.title, tree_id = excluded.tree_id`
	if _, err := s.db.ExecContext(ctx, q, id, title, treeID); err != nil {
		return fmt.Errorf("docstore: put global document: %w", err)
	}
	return nil
}

// PutTenantDocument registers a document in a tenant's catalogue.
func (s *Store) PutTenantDocument(ctx context.Context, id, tenantID, title, treeID string) error {
	const q = `
INSERT INTO tenant_documents (id, tenant_id, title, tree_id) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET tenant_id = excluded.tenant_id,
                               title = excluded.title,
                               tree_id = excluded.tree_id`
	if _, err := s.db.ExecContext(ctx, q, id, tenantID, title, treeID); err != nil {
		return fmt.Errorf("docstore: put tenant document: %w", err)
	}
	return nil
}

// TreeIDs resolves document ids to reasoning tree identifiers, checking the
// global catalogue first and the tenant catalogue second. Documents without
// a tree are skipped and duplicate trees are collapsed; input order is
// preserved for the survivors.
func (s *Store) TreeIDs(ctx context.Context, docIDs []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)

	for _, id := range docIDs {
		treeID, err := s.lookupTreeID(ctx, id)
		if err != nil {
			return nil, err
		}
		if treeID == "" || seen[treeID] {
			continue
		}
		seen[treeID] = true
		out = append(out, treeID)
	}
	return out, nil
}

// lookupTreeID returns the tree id for one document, or "" when the
// document is unknown or has no tree.
func (s *Store) lookupTreeID(ctx context.Context, docID string) (string, error) {
	var treeID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tree_id FROM global_documents WHERE id = ?`, docID).Scan(&treeID)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("docstore: global tree lookup: %w", err)
	}
	if treeID != "" {
		return treeID, nil
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT tree_id FROM tenant_documents WHERE id = ?`, docID).Scan(&treeID)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("docstore: tenant tree lookup: %w", err)
	}
	return treeID, nil
}

// UpsertChunk stores or replaces a chunk vector row.
func (s *Store) UpsertChunk(ctx context.Context, c StoredChunk) error {
	const q = `
INSERT INTO chunk_vectors
    (id, tenant_id, shared, source_type, heading, content, token_count, linked_document_id, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    tenant_id = excluded.tenant_id,
    shared = excluded.shared,
    source_type = excluded.source_type,
    heading = excluded.heading,
    content = excluded.content,
    token_count = excluded.token_count,
    linked_document_id = excluded.linked_document_id,
    embedding = excluded.embedding`

	var tenant sql.NullString
	if c.TenantID != nil {
		tenant = sql.NullString{String: *c.TenantID, Valid: true}
	}
	sharedInt := 0
	if c.Shared {
		sharedInt = 1
	}
	_, err := s.db.ExecContext(ctx, q,
		c.ID, tenant, sharedInt, c.SourceType, c.Heading, c.Content,
		c.TokenCount, c.LinkedDocumentID, encodeVector(c.Embedding))
	if err != nil {
		return fmt.Errorf("docstore: upsert chunk: %w", err)
	}
	return nil
}

// ChunksFor returns the chunk vectors visible to the given tenant: shared
// and core-context chunks always, tenant-owned chunks only when tenantID is
// non-nil.
func (s *Store) ChunksFor(ctx context.Context, tenantID *string) ([]StoredChunk, error) {
	q := `
SELECT id, tenant_id, shared, source_type, heading, content, token_count, linked_document_id, embedding
FROM   chunk_vectors
WHERE  shared = 1 OR source_type = 'core_context'`
	args := []any{}
	if tenantID != nil {
		q += ` OR tenant_id = ?`
		args = append(args, *tenantID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: chunks for tenant: %w", err)
	}
	defer rows.Close()

	var out []StoredChunk
	for rows.Next() {
		var (
			c      StoredChunk
			tenant sql.NullString
			shared int
			blob   []byte
		)
		if err := rows.Scan(&c.ID, &tenant, &shared, &c.SourceType, &c.Heading,
			&c.Content, &c.TokenCount, &c.LinkedDocumentID, &blob); err != nil {
			return nil, fmt.Errorf("docstore: chunk scan: %w", err)
		}
		if tenant.Valid {
			t := tenant.String
			c.TenantID = &t
		}
		c.Shared = shared == 1
		c.Embedding = decodeVector(blob)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: chunk rows: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("docstore: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	return nil
}

// encodeVector packs a float32 vector into little-endian bytes for BLOB storage.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a BLOB written by encodeVector.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

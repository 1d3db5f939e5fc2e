// Package sidecar provides the reference SidecarClient implementation:
// a sqlite-backed episodic-memory and knowledge-entry store fronted by
// an in-process TTL cache. The teacher's go.mod already pulls in
// ncruces/go-sqlite3, golang-migrate/migrate/v4, and patrickmn/go-cache
// for its own (out-of-pack) persistence layer; this package is the
// concrete home SPEC_FULL gives those three dependencies, built fresh
// against the standard database/sql + migrate driver pattern rather
// than adapted from a specific teacher file, since the teacher module
// that used them was not included in the retrieval pack.
package sidecar

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/patrickmn/go-cache"

	"github.com/taskswarm/orchestrator/internal/domain"
	"github.com/taskswarm/orchestrator/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client is the SidecarClient collaborator interface from spec §6:
// store/search for episodic memory and knowledge entries, each with a
// bounded timeout budget enforced by the caller via ctx.
type Client interface {
	StoreKnowledge(ctx context.Context, workerID, content string, category domain.KnowledgeCategory, tags map[string]string) error
	SearchKnowledge(ctx context.Context, workerID, query string, category domain.KnowledgeCategory, topK int) ([]domain.KnowledgeEntry, error)
	StoreMemory(ctx context.Context, workerID, content, title string, tags map[string]string) error
	SearchMemory(ctx context.Context, workerID, query string, topK int) ([]domain.MemoryHit, error)
	CommitMemory(ctx context.Context, workerID string) error
}

// SQLiteClient is the reference Client backed by a single sqlite file,
// with a short-TTL in-process cache fronting repeated knowledge
// searches; memory searches are not cached.
type SQLiteClient struct {
	db    *sql.DB
	cache *cache.Cache
}

// Open opens (creating and migrating if necessary) the sidecar
// database at path.
func Open(path string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sidecar db: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sidecar db: %w", err)
	}
	return &SQLiteClient{
		db:    db,
		cache: cache.New(30*time.Second, time.Minute),
	}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close releases the underlying database handle.
func (c *SQLiteClient) Close() error {
	return c.db.Close()
}

// StoreKnowledge inserts a knowledge entry for workerID. A failed
// store is the caller's concern to log and drop per spec §4.4's
// graceful-degradation contract; this method returns the error rather
// than swallowing it, leaving that policy to KnowledgeStore.
func (c *SQLiteClient) StoreKnowledge(ctx context.Context, workerID, content string, category domain.KnowledgeCategory, tags map[string]string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO knowledge_entries (worker_id, content, category, tags, stored_at) VALUES (?, ?, ?, ?, ?)`,
		workerID, content, string(category), encodeTags(tags), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store knowledge: %w", err)
	}
	c.cache.Flush()
	return nil
}

// SearchKnowledge performs a naive substring match over stored
// content, ranking by recency. This is intentionally simple: semantic
// ranking is the sidecar's internal indexing pipeline, explicitly out
// of core scope per spec §1.
func (c *SQLiteClient) SearchKnowledge(ctx context.Context, workerID, query string, category domain.KnowledgeCategory, topK int) ([]domain.KnowledgeEntry, error) {
	cacheKey := fmt.Sprintf("k:%s:%s:%s:%d", workerID, query, category, topK)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]domain.KnowledgeEntry), nil
	}

	q := `SELECT content, category, tags, stored_at FROM knowledge_entries
	      WHERE worker_id = ? AND content LIKE ?`
	args := []any{workerID, "%" + query + "%"}
	if category != "" {
		q += ` AND category = ?`
		args = append(args, string(category))
	}
	q += ` ORDER BY stored_at DESC LIMIT ?`
	args = append(args, topK)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var out []domain.KnowledgeEntry
	rank := 0
	for rows.Next() {
		var content, cat, tagBlob string
		var storedAt time.Time
		if err := rows.Scan(&content, &cat, &tagBlob, &storedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		rank++
		out = append(out, domain.KnowledgeEntry{
			Content:   content,
			Category:  domain.KnowledgeCategory(cat),
			Relevance: relevanceFor(rank, topK),
			Tags:      decodeTags(tagBlob),
			StoredAt:  storedAt,
		})
	}

	c.cache.Set(cacheKey, out, cache.DefaultExpiration)
	return out, nil
}

// StoreMemory inserts an episodic memory row, staged for the next
// commit.
func (c *SQLiteClient) StoreMemory(ctx context.Context, workerID, content, title string, tags map[string]string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO memory_entries (worker_id, content, title, tags, stored_at, committed) VALUES (?, ?, ?, ?, ?, 0)`,
		workerID, content, title, encodeTags(tags), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	return nil
}

// SearchMemory returns the top-k most recent episodic entries
// (committed or not) matching query for workerID.
func (c *SQLiteClient) SearchMemory(ctx context.Context, workerID, query string, topK int) ([]domain.MemoryHit, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT content, title, tags, stored_at FROM memory_entries
		 WHERE worker_id = ? AND content LIKE ? ORDER BY stored_at DESC LIMIT ?`,
		workerID, "%"+query+"%", topK)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryHit
	for rows.Next() {
		var content, title, tagBlob string
		var storedAt time.Time
		if err := rows.Scan(&content, &title, &tagBlob, &storedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, domain.MemoryHit{
			Content:  content,
			Title:    title,
			Tags:     decodeTags(tagBlob),
			StoredAt: storedAt,
		})
	}
	return out, nil
}

// CommitMemory marks every pending episodic row for workerID as
// committed. MemoryStore debounces calls to this so rapid successive
// stores coalesce into a single commit.
func (c *SQLiteClient) CommitMemory(ctx context.Context, workerID string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE memory_entries SET committed = 1 WHERE worker_id = ? AND committed = 0`, workerID)
	if err != nil {
		return fmt.Errorf("commit memory: %w", err)
	}
	log.Debug(log.CatMemory, "memory committed", "worker_id", workerID)
	return nil
}

func relevanceFor(rank, topK int) float64 {
	if topK <= 0 {
		topK = 1
	}
	score := 1.0 - float64(rank-1)/float64(topK+1)
	if score < 0 {
		return 0
	}
	return score
}

func encodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	out := ""
	for k, v := range tags {
		out += k + "=" + v + ";"
	}
	return out
}

func decodeTags(blob string) map[string]string {
	tags := make(map[string]string)
	if blob == "" {
		return tags
	}
	cur := ""
	for _, r := range blob {
		if r == ';' {
			if eq := indexByte(cur, '='); eq >= 0 {
				tags[cur[:eq]] = cur[eq+1:]
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	return tags
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

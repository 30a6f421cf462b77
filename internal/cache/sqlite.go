package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

const createResultTable = `
CREATE TABLE IF NOT EXISTS gateway_results (
	cache_key   TEXT    NOT NULL PRIMARY KEY,
	text        TEXT    NOT NULL,
	token_count INTEGER NOT NULL,
	model       TEXT    NOT NULL,
	stored_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gateway_results_stored_at ON gateway_results (stored_at);
`

// SQLiteCache persists results in a SQLite file so they survive restarts.
// stored_at is kept as Unix nanoseconds so the age check and the sweep share
// one clock with the rest of the gateway.
type SQLiteCache struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteCache opens (or creates) the database at path. Use ":memory:" for
// a throwaway cache.
func NewSQLiteCache(path string, opts Options) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createResultTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: migrate sqlite: %w", err)
	}

	return &SQLiteCache{db: db, opts: opts.withDefaults()}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (llm.CachedResult, bool) {
	var (
		res      llm.GenerationResult
		storedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT text, token_count, model, stored_at FROM gateway_results WHERE cache_key = ?`, key,
	).Scan(&res.Text, &res.TokenCount, &res.Model, &storedAt)
	if err != nil {
		return llm.CachedResult{}, false
	}

	at := time.Unix(0, storedAt)
	if expired(at, c.opts.Now(), c.opts.TTL) {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM gateway_results WHERE cache_key = ?`, key)
		return llm.CachedResult{}, false
	}
	return llm.CachedResult{Value: res, StoredAt: at}, true
}

func (c *SQLiteCache) Put(ctx context.Context, key string, value llm.GenerationResult) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO gateway_results (cache_key, text, token_count, model, stored_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, value.Text, value.TokenCount, value.Model, c.opts.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite put: %w", err)
	}

	if c.opts.MaxEntries > 0 {
		if err := c.evictOverCap(ctx); err != nil {
			return err
		}
	}
	return nil
}

// evictOverCap deletes the oldest rows until at most MaxEntries remain.
func (c *SQLiteCache) evictOverCap(ctx context.Context) error {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gateway_results`).Scan(&n); err != nil {
		return fmt.Errorf("cache: sqlite count: %w", err)
	}
	over := n - c.opts.MaxEntries
	if over <= 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM gateway_results WHERE cache_key IN (
			SELECT cache_key FROM gateway_results ORDER BY stored_at ASC LIMIT ?
		)`, over,
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite evict: %w", err)
	}
	return nil
}

func (c *SQLiteCache) SweepExpired(ctx context.Context) int {
	cutoff := c.opts.Now().Add(-c.opts.TTL).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM gateway_results WHERE stored_at < ?`, cutoff)
	if err != nil {
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

// Len returns the number of stored rows, or 0 on error.
func (c *SQLiteCache) Len() int {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM gateway_results`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close releases the database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

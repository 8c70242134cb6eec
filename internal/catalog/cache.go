package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmgilman/go/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skiff-browser/exthost/internal/shared/faults"
)

// cacheSchema mirrors the registry layout for a much smaller record:
// one opaque script per remote id. Listing order is rowid order so
// enumeration stays stable across restarts.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS snippets (
	key         TEXT PRIMARY KEY,
	remote_id   INTEGER NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	script      TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	downloads   INTEGER NOT NULL DEFAULT 0,
	fetched_at  INTEGER NOT NULL
);
`

// CachedSnippet is a locally cached snippet. Script is the opaque
// payload; it is omitted from listings.
type CachedSnippet struct {
	Key         string    `json:"key"`
	RemoteID    int64     `json:"remote_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Script      string    `json:"script,omitempty"`
	Enabled     bool      `json:"enabled"`
	Downloads   int64     `json:"downloads"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Cache is the durable snippet store.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (and if needed creates) the snippet cache database.
func OpenCache(path string) (*Cache, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to open snippet cache")
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to create snippet cache schema")
	}
	return &Cache{db: db}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put inserts or refreshes a snippet. A re-fetch updates the payload
// and metadata but keeps the user's enabled choice.
func (c *Cache) Put(ctx context.Context, snip *CachedSnippet) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO snippets (key, remote_id, name, description, script, enabled, downloads, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			script = excluded.script,
			downloads = excluded.downloads,
			fetched_at = excluded.fetched_at`,
		snip.Key, snip.RemoteID, snip.Name, snip.Description, snip.Script,
		boolInt(snip.Enabled), snip.Downloads, snip.FetchedAt.Unix())
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to store snippet")
	}
	return nil
}

// Get loads one cached snippet, script included.
func (c *Cache) Get(ctx context.Context, key string) (*CachedSnippet, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT key, remote_id, name, description, script, enabled, downloads, fetched_at
		 FROM snippets WHERE key = ?`, key)

	var (
		snip      CachedSnippet
		enabled   int
		fetchedAt int64
	)
	err := row.Scan(&snip.Key, &snip.RemoteID, &snip.Name, &snip.Description,
		&snip.Script, &enabled, &snip.Downloads, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, errors.WithContext(
			errors.New(faults.UnknownSnippet, "snippet is not cached"),
			"snippet_key", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to scan snippet record")
	}
	snip.Enabled = enabled != 0
	snip.FetchedAt = time.Unix(fetchedAt, 0).UTC()
	return &snip, nil
}

// List returns every cached snippet in fetch order, without scripts.
func (c *Cache) List(ctx context.Context) ([]*CachedSnippet, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, remote_id, name, description, enabled, downloads, fetched_at
		 FROM snippets ORDER BY rowid ASC`)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to query snippets")
	}
	defer rows.Close()

	out := []*CachedSnippet{}
	for rows.Next() {
		var (
			snip      CachedSnippet
			enabled   int
			fetchedAt int64
		)
		if err := rows.Scan(&snip.Key, &snip.RemoteID, &snip.Name, &snip.Description,
			&enabled, &snip.Downloads, &fetchedAt); err != nil {
			return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to scan snippet record")
		}
		snip.Enabled = enabled != 0
		snip.FetchedAt = time.Unix(fetchedAt, 0).UTC()
		out = append(out, &snip)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to iterate snippets")
	}
	return out, nil
}

// SetEnabled flips the enabled flag. Unknown keys are an error, never a
// silent no-op.
func (c *Cache) SetEnabled(ctx context.Context, key string, enabled bool) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE snippets SET enabled = ? WHERE key = ?`, boolInt(enabled), key)
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to update snippet record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to confirm snippet update")
	}
	if n == 0 {
		return errors.WithContext(
			errors.New(faults.UnknownSnippet, "snippet is not cached"),
			"snippet_key", key)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

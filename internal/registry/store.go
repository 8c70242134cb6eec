package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jmgilman/go/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

// schema is the durable registry layout. Listing order is rowid order,
// which is insertion order, so enumeration stays stable across restarts
// regardless of clock resolution.
const schema = `
CREATE TABLE IF NOT EXISTS extensions (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	version      TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	generation   INTEGER NOT NULL,
	manifest     TEXT NOT NULL,
	install_dir  TEXT NOT NULL,
	enabled      INTEGER NOT NULL DEFAULT 1,
	installed_at INTEGER NOT NULL
);
`

// Store is the row-oriented persistence layer for installed extensions.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed creates) the registry database.
func OpenStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to open registry database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to create registry schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists a new extension record in a transaction. The write is
// all-or-nothing; a failure leaves no partial row behind.
func (s *Store) Insert(ctx context.Context, ext *types.InstalledExtension) error {
	manifestJSON, err := sonic.Marshal(ext.Manifest)
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to encode manifest")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to begin registry transaction")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO extensions (id, name, version, description, generation, manifest, install_dir, enabled, installed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ext.ID, ext.Name, ext.Version, ext.Description, int(ext.Generation),
		string(manifestJSON), ext.InstallDir, boolInt(ext.Enabled), ext.InstalledAt.Unix())
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, faults.FilesystemFailure, "failed to insert extension record")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to commit extension record")
	}
	return nil
}

// Get loads one extension record.
func (s *Store) Get(ctx context.Context, id string) (*types.InstalledExtension, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, description, generation, manifest, install_dir, enabled, installed_at
		 FROM extensions WHERE id = ?`, id)
	ext, err := scanExtension(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.WithContext(
			errors.New(faults.UnknownExtension, "extension is not registered"),
			"extension_id", id)
	}
	return ext, err
}

// List returns every record in installation order.
func (s *Store) List(ctx context.Context) ([]*types.InstalledExtension, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, description, generation, manifest, install_dir, enabled, installed_at
		 FROM extensions ORDER BY rowid ASC`)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to query extensions")
	}
	defer rows.Close()

	out := []*types.InstalledExtension{}
	for rows.Next() {
		ext, err := scanExtension(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, ext)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to iterate extensions")
	}
	return out, nil
}

// SetEnabled flips the enabled flag. Unknown ids are an error, never a
// silent no-op.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extensions SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to update extension record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to confirm extension update")
	}
	if n == 0 {
		return errors.WithContext(
			errors.New(faults.UnknownExtension, "extension is not registered"),
			"extension_id", id)
	}
	return nil
}

// Delete removes one record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extensions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to delete extension record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to confirm extension delete")
	}
	if n == 0 {
		return errors.WithContext(
			errors.New(faults.UnknownExtension, "extension is not registered"),
			"extension_id", id)
	}
	return nil
}

// Stats returns registry counts.
func (s *Store) Stats(ctx context.Context) (types.RegistryStats, error) {
	var stats types.RegistryStats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(enabled), 0) FROM extensions`)
	if err := row.Scan(&stats.Total, &stats.Enabled); err != nil {
		return stats, errors.Wrap(err, faults.FilesystemFailure, "failed to count extensions")
	}
	stats.Disabled = stats.Total - stats.Enabled
	return stats, nil
}

func scanExtension(scan func(dest ...interface{}) error) (*types.InstalledExtension, error) {
	var (
		ext          types.InstalledExtension
		generation   int
		manifestJSON string
		enabled      int
		installedAt  int64
	)
	err := scan(&ext.ID, &ext.Name, &ext.Version, &ext.Description, &generation,
		&manifestJSON, &ext.InstallDir, &enabled, &installedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to scan extension record")
	}

	ext.Generation = types.Generation(generation)
	ext.Enabled = enabled != 0
	ext.InstalledAt = time.Unix(installedAt, 0).UTC()

	var man types.ExtensionManifest
	if err := sonic.Unmarshal([]byte(manifestJSON), &man); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, faults.RegistryInconsistent, "stored manifest is unreadable"),
			"extension_id", ext.ID)
	}
	ext.Manifest = &man
	return &ext, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

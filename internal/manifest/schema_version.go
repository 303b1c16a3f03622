package manifest

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	merrors "github.com/meridianidx/meridian/internal/errors"
)

// SchemaVersion is the manifest layout written by this binary.
const SchemaVersion = 2

// migrations[v] upgrades a manifest from version v to v+1.
var migrations = map[int64][]string{
	1: {`ALTER TABLE builds ADD COLUMN source_rows INTEGER NOT NULL DEFAULT 0`},
}

// checkSchemaVersion stamps a new manifest with SchemaVersion, upgrades an
// older one in place and refuses to open one written by a newer layout.
func checkSchemaVersion(db *sql.DB) error {
	var current sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	switch {
	case !current.Valid:
		if _, err := db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			SchemaVersion, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case current.Int64 > SchemaVersion:
		return merrors.NewManifestError(merrors.CodeCorruptionDetected,
			fmt.Sprintf("manifest: schema version %d is newer than supported version %d", current.Int64, SchemaVersion), nil)
	}
	for v := current.Int64; current.Valid && v < SchemaVersion; v++ {
		if err := migrate(db, v); err != nil {
			return err
		}
	}
	return nil
}

func migrate(db *sql.DB, from int64) error {
	stmts, ok := migrations[from]
	if !ok {
		return fmt.Errorf("no migration from schema version %d", from)
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate schema from version %d: %w", from, err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		from+1, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	log.Printf("manifest: migrated schema version=%d", from+1)
	return nil
}

// Version returns the schema version recorded in the manifest.
func (c *SQLiteCatalog) Version() (int, error) {
	var v int
	if err := c.readDB.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("manifest: failed to read schema version: %w", err)
	}
	return v, nil
}

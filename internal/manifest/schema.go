// Package manifest provides the catalog of published membership builds.
package manifest

// The manifest catalog (manifest.db) is the source of truth for which
// artifacts are visible to readers. An artifact is active while its
// superseded_by column is NULL.

// CreateArtifactsTableSQL creates the artifacts table. Each build publishes
// one daily and one intervals artifact per universe.
const CreateArtifactsTableSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id TEXT PRIMARY KEY,
    build_id TEXT NOT NULL,
    universe TEXT NOT NULL,
    kind TEXT NOT NULL,
    object_path TEXT NOT NULL,
    meta_path TEXT NOT NULL,
    etag TEXT NOT NULL DEFAULT '',
    row_count INTEGER NOT NULL,
    entity_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    min_date TEXT,
    max_date TEXT,
    checksum TEXT NOT NULL,
    entity_bloom BLOB,
    created_at INTEGER NOT NULL,
    superseded_by TEXT,
    superseded_at INTEGER
)`

var CreateArtifactsIndexesSQL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_active ON artifacts(universe, kind)
		WHERE superseded_by IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_build ON artifacts(build_id)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_superseded ON artifacts(superseded_at)
		WHERE superseded_by IS NOT NULL`,
}

// CreateBuildsTableSQL creates the build history table. seq orders builds
// of a universe; the row with the highest seq is the current build.
// source_rows is how many source rows the build consumed, so an update can
// resume at the next row of an append-only source.
const CreateBuildsTableSQL = `
CREATE TABLE IF NOT EXISTS builds (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    build_id TEXT NOT NULL UNIQUE,
    universe TEXT NOT NULL,
    mode TEXT NOT NULL,
    parent_build_id TEXT,
    watermark TEXT,
    source_rows INTEGER NOT NULL DEFAULT 0,
    daily_checksum TEXT NOT NULL,
    intervals_checksum TEXT NOT NULL,
    summary_json TEXT NOT NULL,
    anomalies BLOB,
    created_at INTEGER NOT NULL
)`

var CreateBuildsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_builds_universe ON builds(universe, seq)`,
}

// CreatePublishIntentsTableSQL creates the publish intents table. An intent
// is written before any object is uploaded and removed in the same
// transaction that makes the build visible.
const CreatePublishIntentsTableSQL = `
CREATE TABLE IF NOT EXISTS publish_intents (
    build_id TEXT PRIMARY KEY,
    universe TEXT NOT NULL,
    object_paths TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateSchemaVersionTableSQL records the manifest layout version.
const CreateSchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`

// AllSchemaSQL returns all schema statements in execution order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateArtifactsTableSQL,
		CreateBuildsTableSQL,
		CreatePublishIntentsTableSQL,
		CreateSchemaVersionTableSQL,
	}
	stmts = append(stmts, CreateArtifactsIndexesSQL...)
	stmts = append(stmts, CreateBuildsIndexesSQL...)
	return stmts
}

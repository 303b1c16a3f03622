package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianidx/meridian/internal/bloom"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/partition"
	"github.com/meridianidx/meridian/pkg/types"
)

// ErrBuildNotFound is returned when a universe has no published build.
var ErrBuildNotFound = errors.New("manifest: build not found")

// Catalog tracks published builds and the artifacts they made visible.
type Catalog interface {
	CatalogReader

	// WritePublishIntent records the objects a build is about to upload
	// (phase 1 of the publish).
	WritePublishIntent(ctx context.Context, intent *PublishIntent) error

	// CommitPublish registers the build's artifacts, supersedes the
	// universe's previous artifacts and deletes the intent in one
	// transaction (phase 2 of the publish).
	CommitPublish(ctx context.Context, build *BuildRecord, artifacts []*ArtifactRecord) error

	// DeletePublishIntent removes an intent without publishing.
	DeletePublishIntent(ctx context.Context, buildID string) error

	// FindPublishIntents returns all pending intents, oldest first.
	FindPublishIntents(ctx context.Context) ([]*PublishIntent, error)

	// FindSuperseded returns superseded artifacts older than ttl.
	FindSuperseded(ctx context.Context, ttl time.Duration) ([]*ArtifactRecord, error)

	// DeleteArtifacts removes artifact records by ID.
	DeleteArtifacts(ctx context.Context, artifactIDs []string) error

	// AllArtifacts returns every tracked artifact, active or superseded.
	AllArtifacts(ctx context.Context) ([]*ArtifactRecord, error)

	// Close closes the catalog database connections.
	Close() error
}

// ArtifactRecord is one published artifact in the manifest.
type ArtifactRecord struct {
	ArtifactID   string
	BuildID      string
	Universe     string
	Kind         partition.ArtifactKind
	ObjectPath   string
	MetaPath     string
	ETag         string
	RowCount     int64
	EntityCount  int
	SizeBytes    int64
	MinDate      types.Date
	MaxDate      types.Date
	Checksum     string
	EntityBloom  *bloom.Encoded
	CreatedAt    time.Time
	SupersededBy *string
	SupersededAt *time.Time
}

// ArtifactID returns the manifest ID of a build's artifact of one kind.
func ArtifactID(buildID string, kind partition.ArtifactKind) string {
	return buildID + "/" + string(kind)
}

// NewArtifactRecord describes a staged artifact uploaded to objectPath.
func NewArtifactRecord(info *partition.ArtifactInfo, objectPath, metaPath, etag string, filter *bloom.Encoded) *ArtifactRecord {
	return &ArtifactRecord{
		ArtifactID:  ArtifactID(info.BuildID, info.Kind),
		BuildID:     info.BuildID,
		Universe:    info.Universe,
		Kind:        info.Kind,
		ObjectPath:  objectPath,
		MetaPath:    metaPath,
		ETag:        etag,
		RowCount:    info.RowCount,
		EntityCount: info.EntityCount,
		SizeBytes:   info.SizeBytes,
		MinDate:     info.MinDate,
		MaxDate:     info.MaxDate,
		Checksum:    info.Checksum,
		EntityBloom: filter,
		CreatedAt:   info.CreatedAt,
	}
}

// MayContain reports whether the artifact can hold rows for entityID.
func (a *ArtifactRecord) MayContain(entityID string) bool {
	if a.EntityBloom == nil {
		return true
	}
	f, err := bloom.Decode(a.EntityBloom)
	if err != nil {
		return true
	}
	return f.MayContain(entityID)
}

// BuildRecord is one entry of a universe's build history.
type BuildRecord struct {
	BuildID string
	// ParentBuildID is the build that was current when this one started.
	// CommitPublish rejects the build if another build committed since.
	ParentBuildID string
	Universe      string
	Mode          types.BuildMode
	Watermark     types.Date
	// SourceRows is the number of source rows consumed, malformed ones included.
	SourceRows        int
	DailyChecksum     string
	IntervalsChecksum string
	Summary           types.BuildSummary
	Anomalies         []types.Anomaly
	CreatedAt         time.Time
}

// PublishIntent is an in-progress publish.
type PublishIntent struct {
	BuildID     string
	Universe    string
	ObjectPaths []string
	CreatedAt   time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

var _ Catalog = (*SQLiteCatalog)(nil)

// NewCatalog opens or creates the manifest at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{db: db, dbPath: dbPath}

	// Schema must exist before the read-only pool can open the file.
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	if _, err := readDB.Exec("PRAGMA read_uncommitted = true"); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to set read_uncommitted pragma: %w", err)
	}
	catalog.readDB = readDB

	return catalog, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return checkSchemaVersion(c.db)
}

// WritePublishIntent records a publish intent.
func (c *SQLiteCatalog) WritePublishIntent(ctx context.Context, intent *PublishIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pathsJSON, err := json.Marshal(intent.ObjectPaths)
	if err != nil {
		return fmt.Errorf("manifest: failed to marshal object paths: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO publish_intents (build_id, universe, object_paths, created_at)
		 VALUES (?, ?, ?, ?)`,
		intent.BuildID, intent.Universe, string(pathsJSON), intent.CreatedAt.Unix())
	if err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed, "manifest: failed to write publish intent", err)
	}
	return nil
}

// CommitPublish makes a build visible. Readers see either the previous
// artifacts or the new ones, never a mix.
func (c *SQLiteCatalog) CommitPublish(ctx context.Context, build *BuildRecord, artifacts []*ArtifactRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed, "manifest: failed to begin transaction", err)
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM publish_intents WHERE build_id = ?", build.BuildID).Scan(&pending); err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed, "manifest: failed to read publish intent", err)
	}
	if pending == 0 {
		return merrors.NewManifestError(merrors.CodeSwapFailed,
			fmt.Sprintf("manifest: no publish intent for build %s", build.BuildID), nil)
	}

	current, err := latestBuildID(ctx, tx, build.Universe)
	if err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed, "manifest: failed to read current build", err)
	}
	if current != build.ParentBuildID {
		return merrors.NewManifestError(merrors.CodeWriteConflict,
			fmt.Sprintf("manifest: universe %s moved from build %q to %q during build %s",
				build.Universe, build.ParentBuildID, current, build.BuildID), nil)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		"UPDATE artifacts SET superseded_by = ?, superseded_at = ? WHERE universe = ? AND superseded_by IS NULL",
		build.BuildID, now.Unix(), build.Universe); err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed, "manifest: failed to supersede artifacts", err)
	}

	for _, a := range artifacts {
		if a.Universe != build.Universe || a.BuildID != build.BuildID {
			return merrors.NewManifestError(merrors.CodeSwapFailed,
				fmt.Sprintf("manifest: artifact %s does not belong to build %s", a.ArtifactID, build.BuildID), nil)
		}
		if err := insertArtifactTx(ctx, tx, a); err != nil {
			return merrors.NewManifestError(merrors.CodeSwapFailed,
				fmt.Sprintf("manifest: failed to register artifact %s", a.ArtifactID), err)
		}
	}

	if err := insertBuildTx(ctx, tx, build); err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed,
			fmt.Sprintf("manifest: failed to record build %s", build.BuildID), err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM publish_intents WHERE build_id = ?", build.BuildID); err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed, "manifest: failed to delete publish intent", err)
	}

	if err := tx.Commit(); err != nil {
		return merrors.NewManifestError(merrors.CodeSwapFailed, "manifest: failed to commit publish", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func latestBuildID(ctx context.Context, q queryer, universe string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		"SELECT build_id FROM builds WHERE universe = ? ORDER BY seq DESC LIMIT 1", universe).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

func insertArtifactTx(ctx context.Context, tx *sql.Tx, a *ArtifactRecord) error {
	var bloomJSON []byte
	if a.EntityBloom != nil {
		var err error
		if bloomJSON, err = json.Marshal(a.EntityBloom); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (
			artifact_id, build_id, universe, kind, object_path, meta_path, etag,
			row_count, entity_count, size_bytes, min_date, max_date, checksum,
			entity_bloom, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.BuildID, a.Universe, string(a.Kind), a.ObjectPath, a.MetaPath, a.ETag,
		a.RowCount, a.EntityCount, a.SizeBytes, nullDate(a.MinDate), nullDate(a.MaxDate), a.Checksum,
		bloomJSON, a.CreatedAt.Unix())
	return err
}

func insertBuildTx(ctx context.Context, tx *sql.Tx, b *BuildRecord) error {
	summaryJSON, err := json.Marshal(b.Summary)
	if err != nil {
		return err
	}
	var anomalies []byte
	if len(b.Anomalies) > 0 {
		raw, err := json.Marshal(b.Anomalies)
		if err != nil {
			return err
		}
		anomalies = snappy.Encode(nil, raw)
	}
	var parent interface{}
	if b.ParentBuildID != "" {
		parent = b.ParentBuildID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO builds (
			build_id, universe, mode, parent_build_id, watermark, source_rows,
			daily_checksum, intervals_checksum, summary_json, anomalies, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BuildID, b.Universe, string(b.Mode), parent, nullDate(b.Watermark), b.SourceRows,
		b.DailyChecksum, b.IntervalsChecksum, string(summaryJSON), anomalies, b.CreatedAt.Unix())
	return err
}

func nullDate(d types.Date) interface{} {
	if d == types.NoDate {
		return nil
	}
	return d.String()
}

func scanDate(s sql.NullString) (types.Date, error) {
	if !s.Valid || s.String == "" {
		return types.NoDate, nil
	}
	return types.ParseDate(s.String)
}

// DeletePublishIntent removes an intent.
func (c *SQLiteCatalog) DeletePublishIntent(ctx context.Context, buildID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM publish_intents WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("manifest: failed to delete publish intent: %w", err)
	}
	return nil
}

// FindPublishIntents returns all pending intents.
func (c *SQLiteCatalog) FindPublishIntents(ctx context.Context) ([]*PublishIntent, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT build_id, universe, object_paths, created_at FROM publish_intents ORDER BY created_at, build_id")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query publish intents: %w", err)
	}
	defer rows.Close()

	var intents []*PublishIntent
	for rows.Next() {
		var intent PublishIntent
		var pathsJSON string
		var createdAt int64
		if err := rows.Scan(&intent.BuildID, &intent.Universe, &pathsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan publish intent: %w", err)
		}
		if err := json.Unmarshal([]byte(pathsJSON), &intent.ObjectPaths); err != nil {
			return nil, fmt.Errorf("manifest: failed to unmarshal object paths: %w", err)
		}
		intent.CreatedAt = time.Unix(createdAt, 0)
		intents = append(intents, &intent)
	}
	return intents, rows.Err()
}

const artifactColumns = `artifact_id, build_id, universe, kind, object_path, meta_path, etag,
	row_count, entity_count, size_bytes, min_date, max_date, checksum, entity_bloom,
	created_at, superseded_by, superseded_at`

// ActiveArtifacts returns the universe's current artifacts ordered by kind.
func (c *SQLiteCatalog) ActiveArtifacts(ctx context.Context, universe string) ([]*ArtifactRecord, error) {
	return c.queryArtifacts(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE universe = ? AND superseded_by IS NULL ORDER BY kind",
		universe)
}

// ActiveArtifact returns the universe's current artifact of one kind.
func (c *SQLiteCatalog) ActiveArtifact(ctx context.Context, universe string, kind partition.ArtifactKind) (*ArtifactRecord, error) {
	records, err := c.queryArtifacts(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE universe = ? AND kind = ? AND superseded_by IS NULL",
		universe, string(kind))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no active %s artifact for universe %s", ErrBuildNotFound, kind, universe)
	}
	return records[0], nil
}

// FindSuperseded returns artifacts superseded more than ttl ago.
func (c *SQLiteCatalog) FindSuperseded(ctx context.Context, ttl time.Duration) ([]*ArtifactRecord, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	return c.queryArtifacts(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE superseded_by IS NOT NULL AND superseded_at <= ? ORDER BY superseded_at, artifact_id",
		cutoff)
}

// AllArtifacts returns every artifact record.
func (c *SQLiteCatalog) AllArtifacts(ctx context.Context) ([]*ArtifactRecord, error) {
	return c.queryArtifacts(ctx, "SELECT "+artifactColumns+" FROM artifacts ORDER BY artifact_id")
}

func (c *SQLiteCatalog) queryArtifacts(ctx context.Context, query string, args ...interface{}) ([]*ArtifactRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var records []*ArtifactRecord
	for rows.Next() {
		var (
			a                ArtifactRecord
			kind             string
			minDate, maxDate sql.NullString
			bloomJSON        []byte
			createdAt        int64
			supersededBy     sql.NullString
			supersededAtUnix sql.NullInt64
		)
		if err := rows.Scan(&a.ArtifactID, &a.BuildID, &a.Universe, &kind, &a.ObjectPath, &a.MetaPath, &a.ETag,
			&a.RowCount, &a.EntityCount, &a.SizeBytes, &minDate, &maxDate, &a.Checksum, &bloomJSON,
			&createdAt, &supersededBy, &supersededAtUnix); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan artifact: %w", err)
		}
		a.Kind = partition.ArtifactKind(kind)
		if a.MinDate, err = scanDate(minDate); err != nil {
			return nil, fmt.Errorf("manifest: bad min_date on %s: %w", a.ArtifactID, err)
		}
		if a.MaxDate, err = scanDate(maxDate); err != nil {
			return nil, fmt.Errorf("manifest: bad max_date on %s: %w", a.ArtifactID, err)
		}
		if len(bloomJSON) > 0 {
			var enc bloom.Encoded
			if err := json.Unmarshal(bloomJSON, &enc); err != nil {
				log.Printf("manifest: [WARN] ignoring unreadable entity bloom artifact=%s: %v", a.ArtifactID, err)
			} else {
				a.EntityBloom = &enc
			}
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		if supersededBy.Valid {
			s := supersededBy.String
			a.SupersededBy = &s
		}
		if supersededAtUnix.Valid {
			t := time.Unix(supersededAtUnix.Int64, 0)
			a.SupersededAt = &t
		}
		records = append(records, &a)
	}
	return records, rows.Err()
}

// DeleteArtifacts removes artifact records. Active artifacts are never
// deleted.
func (c *SQLiteCatalog) DeleteArtifacts(ctx context.Context, artifactIDs []string) error {
	if len(artifactIDs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	placeholders := strings.Repeat("?,", len(artifactIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(artifactIDs))
	for i, id := range artifactIDs {
		args[i] = id
	}

	_, err := c.db.ExecContext(ctx,
		"DELETE FROM artifacts WHERE superseded_by IS NOT NULL AND artifact_id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("manifest: failed to delete artifacts: %w", err)
	}
	return nil
}

const buildColumns = `build_id, COALESCE(parent_build_id, ''), universe, mode, watermark, source_rows,
	daily_checksum, intervals_checksum, summary_json, created_at`

// LatestBuild returns the universe's current build.
func (c *SQLiteCatalog) LatestBuild(ctx context.Context, universe string) (*BuildRecord, error) {
	builds, err := c.queryBuilds(ctx,
		"SELECT "+buildColumns+" FROM builds WHERE universe = ? ORDER BY seq DESC LIMIT 1", universe)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("%w: universe %s", ErrBuildNotFound, universe)
	}
	return builds[0], nil
}

// GetBuild returns one build by ID.
func (c *SQLiteCatalog) GetBuild(ctx context.Context, buildID string) (*BuildRecord, error) {
	builds, err := c.queryBuilds(ctx, "SELECT "+buildColumns+" FROM builds WHERE build_id = ?", buildID)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	return builds[0], nil
}

// ListBuilds returns up to limit builds of a universe, newest first. A
// limit <= 0 returns all of them.
func (c *SQLiteCatalog) ListBuilds(ctx context.Context, universe string, limit int) ([]*BuildRecord, error) {
	query := "SELECT " + buildColumns + " FROM builds WHERE universe = ? ORDER BY seq DESC"
	args := []interface{}{universe}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return c.queryBuilds(ctx, query, args...)
}

// Universes returns every universe with at least one build.
func (c *SQLiteCatalog) Universes(ctx context.Context) ([]string, error) {
	rows, err := c.readDB.QueryContext(ctx, "SELECT DISTINCT universe FROM builds ORDER BY universe")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query universes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan universe: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c *SQLiteCatalog) queryBuilds(ctx context.Context, query string, args ...interface{}) ([]*BuildRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query builds: %w", err)
	}
	defer rows.Close()

	var builds []*BuildRecord
	for rows.Next() {
		var (
			b           BuildRecord
			mode        string
			watermark   sql.NullString
			summaryJSON string
			createdAt   int64
		)
		if err := rows.Scan(&b.BuildID, &b.ParentBuildID, &b.Universe, &mode, &watermark, &b.SourceRows,
			&b.DailyChecksum, &b.IntervalsChecksum, &summaryJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan build: %w", err)
		}
		b.Mode = types.BuildMode(mode)
		if b.Watermark, err = scanDate(watermark); err != nil {
			return nil, fmt.Errorf("manifest: bad watermark on build %s: %w", b.BuildID, err)
		}
		if err := json.Unmarshal([]byte(summaryJSON), &b.Summary); err != nil {
			return nil, fmt.Errorf("manifest: failed to unmarshal summary of build %s: %w", b.BuildID, err)
		}
		b.CreatedAt = time.Unix(createdAt, 0)
		builds = append(builds, &b)
	}
	return builds, rows.Err()
}

// BuildAnomalies returns the anomalies recorded for a build.
func (c *SQLiteCatalog) BuildAnomalies(ctx context.Context, buildID string) ([]types.Anomaly, error) {
	var compressed []byte
	err := c.readDB.QueryRowContext(ctx, "SELECT anomalies FROM builds WHERE build_id = ?", buildID).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read anomalies: %w", err)
	}
	if len(compressed) == 0 {
		return nil, nil
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, merrors.NewManifestError(merrors.CodeCorruptionDetected,
			fmt.Sprintf("manifest: anomalies of build %s are not valid snappy", buildID), err)
	}
	var anomalies []types.Anomaly
	if err := json.Unmarshal(raw, &anomalies); err != nil {
		return nil, merrors.NewManifestError(merrors.CodeCorruptionDetected,
			fmt.Sprintf("manifest: anomalies of build %s are not valid JSON", buildID), err)
	}
	return anomalies, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Package partition writes and reads the per-universe SQLite artifacts that
// hold the daily membership table and the interval table.
package partition

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/meridianidx/meridian/pkg/types"
)

// ArtifactKind names one of the two published tables.
type ArtifactKind string

const (
	KindDaily     ArtifactKind = "daily"
	KindIntervals ArtifactKind = "intervals"
)

// ArtifactInfo describes one artifact written to the staging directory.
type ArtifactInfo struct {
	Kind         ArtifactKind
	Universe     string
	BuildID      string
	SQLitePath   string
	MetadataPath string
	RowCount     int64
	EntityCount  int
	SizeBytes    int64
	MinDate      types.Date
	MaxDate      types.Date
	Checksum     string
	CreatedAt    time.Time
}

// FileName returns the object name of the artifact, e.g. "daily.sqlite".
func (a *ArtifactInfo) FileName() string {
	return string(a.Kind) + ".sqlite"
}

const (
	createDailySQL = `
		CREATE TABLE daily_membership (
			universe TEXT NOT NULL,
			date TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			PRIMARY KEY (universe, date, entity_id)
		) WITHOUT ROWID`
	createIntervalsSQL = `
		CREATE TABLE membership_intervals (
			universe TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT,
			PRIMARY KEY (universe, entity_id, start_date)
		) WITHOUT ROWID`
	createBuildInfoSQL = `
		CREATE TABLE _meridian_build (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		) WITHOUT ROWID`
)

// Writer creates immutable artifact files under a staging directory.
type Writer struct {
	outputDir string
}

// NewWriter creates a writer that places files in outputDir.
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: outputDir}
}

// WriteDaily writes the daily membership table for one build.
func (w *Writer) WriteDaily(ctx context.Context, universe, buildID string, rows []types.DailyMembershipRecord) (*ArtifactInfo, error) {
	stats := NewStatsTracker()
	info, err := w.write(ctx, KindDaily, universe, buildID, createDailySQL,
		[]string{"CREATE INDEX idx_daily_entity ON daily_membership(entity_id, date)"},
		"INSERT INTO daily_membership (universe, date, entity_id) VALUES (?, ?, ?)",
		len(rows), func(stmt *sql.Stmt, i int) error {
			r := rows[i]
			if r.Universe != universe {
				return fmt.Errorf("row %d belongs to universe %q", i, r.Universe)
			}
			stats.Observe(r.EntityID, r.Date, r.Date)
			_, err := stmt.ExecContext(ctx, universe, r.Date.String(), r.EntityID)
			return err
		}, ChecksumDaily(rows))
	if err != nil {
		return nil, err
	}
	return info, w.finish(info, stats)
}

// WriteIntervals writes the interval table for one build. Open intervals are
// stored with a NULL end_date.
func (w *Writer) WriteIntervals(ctx context.Context, universe, buildID string, intervals []types.MembershipInterval) (*ArtifactInfo, error) {
	stats := NewStatsTracker()
	info, err := w.write(ctx, KindIntervals, universe, buildID, createIntervalsSQL,
		[]string{"CREATE INDEX idx_intervals_start ON membership_intervals(start_date, end_date)"},
		"INSERT INTO membership_intervals (universe, entity_id, start_date, end_date) VALUES (?, ?, ?, ?)",
		len(intervals), func(stmt *sql.Stmt, i int) error {
			iv := intervals[i]
			if iv.Universe != universe {
				return fmt.Errorf("interval %s belongs to universe %q", iv, iv.Universe)
			}
			stats.Observe(iv.EntityID, iv.StartDate, iv.EndDate)
			var end interface{}
			if !iv.IsOpen() {
				end = iv.EndDate.String()
			}
			_, err := stmt.ExecContext(ctx, universe, iv.EntityID, iv.StartDate.String(), end)
			return err
		}, ChecksumIntervals(intervals))
	if err != nil {
		return nil, err
	}
	return info, w.finish(info, stats)
}

func (w *Writer) write(
	ctx context.Context,
	kind ArtifactKind,
	universe, buildID, createSQL string,
	indexes []string,
	insertSQL string,
	n int,
	insert func(*sql.Stmt, int) error,
	checksum string,
) (*ArtifactInfo, error) {
	dir := filepath.Join(w.outputDir, universe, buildID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("partition: failed to create output directory: %w", err)
	}
	sqlitePath := filepath.Clean(filepath.Join(dir, string(kind)+".sqlite"))
	if err := os.Remove(sqlitePath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("partition: failed to clear stale artifact: %w", err)
	}

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create SQLite database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	// WAL while loading, DELETE once the file is sealed.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode: %w", err)
	}
	for _, ddl := range append([]string{createSQL, createBuildInfoSQL}, indexes...) {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("partition: failed to create %s schema: %w", kind, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("partition: failed to prepare insert statement: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := insert(stmt, i); err != nil {
			stmt.Close()
			tx.Rollback()
			return nil, fmt.Errorf("partition: failed to insert %s row: %w", kind, err)
		}
	}
	stmt.Close()

	createdAt := time.Now().UTC()
	buildInfo := map[string]string{
		"build_id":   buildID,
		"universe":   universe,
		"kind":       string(kind),
		"checksum":   checksum,
		"created_at": createdAt.Format(time.RFC3339),
	}
	for k, v := range buildInfo {
		if _, err := tx.ExecContext(ctx, "INSERT INTO _meridian_build (key, value) VALUES (?, ?)", k, v); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("partition: failed to write build info: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("partition: failed to commit %s rows: %w", kind, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("partition: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode to DELETE: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("partition: failed to close database: %w", err)
	}

	fileInfo, err := os.Stat(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to stat SQLite file: %w", err)
	}

	return &ArtifactInfo{
		Kind:       kind,
		Universe:   universe,
		BuildID:    buildID,
		SQLitePath: sqlitePath,
		SizeBytes:  fileInfo.Size(),
		Checksum:   checksum,
		CreatedAt:  createdAt,
	}, nil
}

// finish copies stats into info and writes the sidecar next to the file.
func (w *Writer) finish(info *ArtifactInfo, stats *StatsTracker) error {
	info.RowCount = stats.RowCount()
	info.EntityCount = stats.EntityCount()
	info.MinDate, info.MaxDate = stats.DateRange()

	sidecar := NewSidecar(info, stats.EntityFilter(DefaultBloomFPR))
	info.MetadataPath = SidecarPath(info.SQLitePath)
	return sidecar.WriteToFile(info.MetadataPath)
}

// Package query answers point-in-time membership questions from the active
// published artifacts of a universe.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/observability"
	"github.com/meridianidx/meridian/internal/partition"
	"github.com/meridianidx/meridian/internal/storage"
	"github.com/meridianidx/meridian/pkg/types"
)

// ErrUnknownUniverse is returned for a universe without a published build.
var ErrUnknownUniverse = errors.New("query: universe has no published build")

// Reader reads the artifacts the manifest currently marks active. Every call
// resolves the active artifact afresh, so a concurrent publish is observed
// either entirely or not at all.
type Reader struct {
	catalog manifest.CatalogReader
	cache   *storage.ObjectCache
	metrics *observability.Metrics
}

// NewReader creates a reader. metrics may be nil.
func NewReader(catalog manifest.CatalogReader, cache *storage.ObjectCache, metrics *observability.Metrics) *Reader {
	return &Reader{catalog: catalog, cache: cache, metrics: metrics}
}

// Snapshot is the membership of a universe on one date.
type Snapshot struct {
	Universe string     `json:"universe"`
	Date     types.Date `json:"date"`
	BuildID  string     `json:"build_id"`
	Members  []string   `json:"members"`
}

// History is every interval of one entity in a universe.
type History struct {
	Universe  string                     `json:"universe"`
	EntityID  string                     `json:"entity_id"`
	BuildID   string                     `json:"build_id"`
	Intervals []types.MembershipInterval `json:"intervals"`
}

// MembersAsOf returns the entities whose intervals contain date. Dates that
// are not trading days are answered from the intervals as well, so a weekend
// returns the members of the surrounding trading days.
func (r *Reader) MembersAsOf(ctx context.Context, universe string, date types.Date) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordQuery("members", time.Since(start), err) }()

	art, path, err := r.fetch(ctx, universe, partition.KindIntervals)
	if err != nil {
		return nil, err
	}
	intervals, err := partition.IntervalsCovering(ctx, path, date)
	if err != nil {
		return nil, err
	}

	snap = &Snapshot{Universe: universe, Date: date, BuildID: art.BuildID, Members: make([]string, 0, len(intervals))}
	for _, iv := range intervals {
		snap.Members = append(snap.Members, iv.EntityID)
	}
	return snap, nil
}

// DailySnapshot returns the members recorded in the daily table for date.
// It is empty for dates that are not trading days.
func (r *Reader) DailySnapshot(ctx context.Context, universe string, date types.Date) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordQuery("daily", time.Since(start), err) }()

	art, err := r.active(ctx, universe, partition.KindDaily)
	if err != nil {
		return nil, err
	}
	snap = &Snapshot{Universe: universe, Date: date, BuildID: art.BuildID, Members: []string{}}
	if art.RowCount == 0 || date < art.MinDate || date > art.MaxDate {
		return snap, nil
	}

	path, err := r.download(ctx, art)
	if err != nil {
		return nil, err
	}
	rows, err := partition.MembersOn(ctx, path, date)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		snap.Members = append(snap.Members, row.EntityID)
	}
	return snap, nil
}

// EntityHistory returns an entity's intervals ordered by start date. The
// artifact's bloom filter answers for entities that were never members
// without fetching the artifact.
func (r *Reader) EntityHistory(ctx context.Context, universe, entityID string) (h *History, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordQuery("history", time.Since(start), err) }()

	art, err := r.active(ctx, universe, partition.KindIntervals)
	if err != nil {
		return nil, err
	}
	h = &History{Universe: universe, EntityID: entityID, BuildID: art.BuildID, Intervals: []types.MembershipInterval{}}
	if !art.MayContain(entityID) {
		return h, nil
	}

	path, err := r.download(ctx, art)
	if err != nil {
		return nil, err
	}
	intervals, err := partition.EntityIntervals(ctx, path, entityID)
	if err != nil {
		return nil, err
	}
	h.Intervals = append(h.Intervals, intervals...)
	return h, nil
}

// Builds returns the universe's build history, newest first.
func (r *Reader) Builds(ctx context.Context, universe string, limit int) (builds []*manifest.BuildRecord, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordQuery("builds", time.Since(start), err) }()

	builds, err = r.catalog.ListBuilds(ctx, universe, limit)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUniverse, universe)
	}
	return builds, nil
}

func (r *Reader) active(ctx context.Context, universe string, kind partition.ArtifactKind) (*manifest.ArtifactRecord, error) {
	art, err := r.catalog.ActiveArtifact(ctx, universe, kind)
	if errors.Is(err, manifest.ErrBuildNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUniverse, universe)
	}
	return art, err
}

func (r *Reader) fetch(ctx context.Context, universe string, kind partition.ArtifactKind) (*manifest.ArtifactRecord, string, error) {
	art, err := r.active(ctx, universe, kind)
	if err != nil {
		return nil, "", err
	}
	path, err := r.download(ctx, art)
	if err != nil {
		return nil, "", err
	}
	return art, path, nil
}

func (r *Reader) download(ctx context.Context, art *manifest.ArtifactRecord) (string, error) {
	path, err := r.cache.Get(ctx, art.ObjectPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", merrors.NewStorageError(merrors.CodeObjectNotFound,
			fmt.Sprintf("query: active artifact %s is missing from storage", art.ObjectPath), err)
	}
	if err != nil {
		return "", merrors.NewStorageError(merrors.CodeDownloadFailed,
			fmt.Sprintf("query: failed to fetch %s", art.ObjectPath), err)
	}
	return path, nil
}

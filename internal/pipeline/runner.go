// Package pipeline runs full rebuilds and incremental updates of a universe's
// membership artifacts: load, build, expand, validate, publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/meridianidx/meridian/internal/calendar"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/events"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/membership"
	"github.com/meridianidx/meridian/internal/observability"
	"github.com/meridianidx/meridian/internal/partition"
	"github.com/meridianidx/meridian/internal/publish"
	"github.com/meridianidx/meridian/internal/storage"
	"github.com/meridianidx/meridian/pkg/types"
)

const (
	// DefaultAnomalyTolerance is the largest accepted share of anomalous events.
	DefaultAnomalyTolerance = 0.05
	// maxLoggedAnomalies caps per-anomaly log lines for one build.
	maxLoggedAnomalies = 20
)

// Options tune a Runner.
type Options struct {
	// AnomalyTolerance is the largest accepted anomalies/events ratio.
	// A negative value disables the check.
	AnomalyTolerance float64
	SameDayOrder     events.SameDayOrder
	// WorkDir holds per-build staging directories.
	WorkDir string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		AnomalyTolerance: DefaultAnomalyTolerance,
		SameDayOrder:     events.RemoveFirst,
		WorkDir:          filepath.Join(os.TempDir(), "meridian-staging"),
	}
}

// Runner executes builds. One Runner may serve many universes, but builds of
// the same universe must not run concurrently; the manifest rejects the
// loser with WRITE_CONFLICT.
type Runner struct {
	source    events.Source
	calendar  calendar.TradingCalendar
	catalog   manifest.Catalog
	publisher *publish.Publisher
	cache     *storage.ObjectCache
	metrics   *observability.Metrics
	opts      Options
}

// NewRunner wires a Runner. cache is used by Update to fetch the prior
// intervals artifact; metrics may be nil.
func NewRunner(
	source events.Source,
	cal calendar.TradingCalendar,
	catalog manifest.Catalog,
	publisher *publish.Publisher,
	cache *storage.ObjectCache,
	metrics *observability.Metrics,
	opts Options,
) *Runner {
	if opts.SameDayOrder == "" {
		opts.SameDayOrder = events.RemoveFirst
	}
	if opts.WorkDir == "" {
		opts.WorkDir = DefaultOptions().WorkDir
	}
	return &Runner{
		source:    source,
		calendar:  cal,
		catalog:   catalog,
		publisher: publisher,
		cache:     cache,
		metrics:   metrics,
		opts:      opts,
	}
}

// Rebuild discards persisted state and replays the universe's full event
// history from minDate (types.NoDate for all of it). On any error nothing is
// published and the previous build stays visible.
func (r *Runner) Rebuild(ctx context.Context, universe string, minDate types.Date) (summary *types.BuildSummary, err error) {
	start := time.Now()
	var anomalies []types.Anomaly
	defer func() {
		r.metrics.RecordBuild(universe, types.ModeRebuild, time.Since(start), summary, anomalies, err)
	}()

	log.Printf("pipeline: rebuild started universe=%s min_date=%s", universe, minDate)

	in, err := r.loadEvents(ctx, universe, minDate, 0)
	if err != nil {
		return nil, err
	}

	parent, err := r.currentBuildID(ctx, universe)
	if err != nil {
		return nil, err
	}

	res, err := membership.BuildIntervals(universe, in.all, r.calendar)
	if err != nil {
		return nil, err
	}
	anomalies = append(in.malformed, res.Anomalies...)
	if err := r.checkTolerance(universe, len(in.all)+len(in.malformed), anomalies); err != nil {
		return nil, err
	}

	summary, err = r.finish(ctx, universe, types.ModeRebuild, parent, minDate, in.rows, res, anomalies)
	return summary, err
}

// Update replays the source rows appended since the latest build on top of
// its published intervals. It returns NO_PRIOR_STATE when the universe has
// never been built. When there are no new rows nothing is published and the
// current build's summary is returned with a zero EventCount.
//
// New events dated on the latest build's watermark would have been ordered
// among that day's events by a rebuild, so in that case the full history is
// replayed instead of merged.
func (r *Runner) Update(ctx context.Context, universe string) (summary *types.BuildSummary, err error) {
	start := time.Now()
	var anomalies []types.Anomaly
	defer func() {
		r.metrics.RecordBuild(universe, types.ModeUpdate, time.Since(start), summary, anomalies, err)
	}()

	latest, err := r.catalog.LatestBuild(ctx, universe)
	if errors.Is(err, manifest.ErrBuildNotFound) {
		return nil, merrors.NewInputError(merrors.CodeNoPriorState,
			fmt.Sprintf("pipeline: universe %s has no published build, run a rebuild first", universe), err)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("pipeline: update started universe=%s parent=%s watermark=%s source_rows=%d",
		universe, latest.BuildID, latest.Watermark, latest.SourceRows)

	if latest.SourceRows == 0 && latest.Watermark != types.NoDate {
		return nil, merrors.NewInputError(merrors.CodeNoPriorState,
			fmt.Sprintf("pipeline: build %s does not record its source position, run a rebuild first", latest.BuildID), nil)
	}

	minDate := latest.Summary.MinDate
	in, err := r.loadEvents(ctx, universe, minDate, latest.SourceRows)
	if err != nil {
		return nil, err
	}

	if len(in.fresh) == 0 && len(in.freshMalformed) == 0 {
		log.Printf("pipeline: no new events universe=%s build=%s", universe, latest.BuildID)
		unchanged := latest.Summary
		unchanged.Mode = types.ModeUpdate
		unchanged.EventCount = 0
		unchanged.AnomalyCount = 0
		return &unchanged, nil
	}

	replay := false
	for _, e := range in.fresh {
		if e.Date < latest.Watermark {
			return nil, merrors.NewInputError(merrors.CodeOutOfOrder,
				fmt.Sprintf("pipeline: new event %s is dated before watermark %s", e, latest.Watermark), nil).
				WithDetails(map[string]interface{}{"entity_id": e.EntityID, "date": e.Date.String()})
		}
		if e.Date == latest.Watermark {
			replay = true
		}
	}

	var res *membership.Result
	if replay {
		log.Printf("pipeline: [WARN] new events dated on watermark %s, replaying full history universe=%s",
			latest.Watermark, universe)
		res, err = membership.BuildIntervals(universe, in.all, r.calendar)
		if err != nil {
			return nil, err
		}
		anomalies = append(in.malformed, res.Anomalies...)
		err = r.checkTolerance(universe, len(in.all)+len(in.malformed), anomalies)
	} else {
		prior, perr := r.loadPrior(ctx, universe, latest)
		if perr != nil {
			return nil, perr
		}
		res, err = membership.Merge(prior, in.fresh, r.calendar)
		if err != nil {
			return nil, err
		}
		anomalies = append(in.freshMalformed, res.Anomalies...)
		err = r.checkTolerance(universe, res.EventCount+len(in.freshMalformed), anomalies)
	}
	if err != nil {
		return nil, err
	}

	summary, err = r.finish(ctx, universe, types.ModeUpdate, latest.BuildID, minDate, in.rows, res, anomalies)
	return summary, err
}

// loaded is a universe's normalized event stream. fresh and freshMalformed
// cover only the rows at or after the position loadEvents was given.
type loaded struct {
	all            []types.MembershipEvent
	malformed      []types.Anomaly
	fresh          []types.MembershipEvent
	freshMalformed []types.Anomaly
	rows           int
}

// loadEvents reads, normalizes, order-checks and sorts the universe's events,
// dropping those dated before minDate. Rows before from were consumed by an
// earlier build; the source must still contain them.
func (r *Runner) loadEvents(ctx context.Context, universe string, minDate types.Date, from int) (*loaded, error) {
	rows, err := r.source.Load(ctx, universe)
	if err != nil {
		return nil, err
	}
	if from > len(rows) {
		return nil, merrors.NewInputError(merrors.CodeSourceUnavailable,
			fmt.Sprintf("pipeline: source of %s has %d rows but %d were already built, run a rebuild",
				universe, len(rows), from), nil)
	}

	in := &loaded{rows: len(rows)}
	in.all, in.malformed = events.Normalize(rows)
	if err := events.CheckOrder(in.all); err != nil {
		return nil, err
	}
	in.all, in.malformed = r.prepare(in.all, in.malformed, minDate)

	if from == 0 {
		in.fresh, in.freshMalformed = in.all, in.malformed
		return in, nil
	}
	fresh, freshMalformed := events.Normalize(rows[from:])
	in.fresh, in.freshMalformed = r.prepare(fresh, freshMalformed, minDate)
	return in, nil
}

func (r *Runner) prepare(evs []types.MembershipEvent, malformed []types.Anomaly, minDate types.Date) ([]types.MembershipEvent, []types.Anomaly) {
	events.Sort(evs, r.opts.SameDayOrder)
	if minDate == types.NoDate {
		return evs, malformed
	}
	evs = events.After(evs, minDate.AddDays(-1))
	kept := malformed[:0]
	for _, a := range malformed {
		if a.Date == types.NoDate || a.Date >= minDate {
			kept = append(kept, a)
		}
	}
	return evs, kept
}

func (r *Runner) currentBuildID(ctx context.Context, universe string) (string, error) {
	latest, err := r.catalog.LatestBuild(ctx, universe)
	if errors.Is(err, manifest.ErrBuildNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return latest.BuildID, nil
}

// loadPrior fetches the active intervals artifact and checks it against the
// manifest before it seeds the merge.
func (r *Runner) loadPrior(ctx context.Context, universe string, latest *manifest.BuildRecord) (membership.Prior, error) {
	art, err := r.catalog.ActiveArtifact(ctx, universe, partition.KindIntervals)
	if err != nil {
		return membership.Prior{}, merrors.NewManifestError(merrors.CodeCorruptionDetected,
			fmt.Sprintf("pipeline: build %s has no active intervals artifact", latest.BuildID), err)
	}
	localPath, err := r.cache.Get(ctx, art.ObjectPath)
	if err != nil {
		return membership.Prior{}, merrors.NewStorageError(merrors.CodeDownloadFailed,
			fmt.Sprintf("pipeline: failed to fetch %s", art.ObjectPath), err)
	}
	if err := partition.VerifyArtifact(ctx, localPath, &partition.Sidecar{
		BuildID:  art.BuildID,
		Universe: art.Universe,
		Kind:     art.Kind,
		RowCount: art.RowCount,
		Checksum: art.Checksum,
	}); err != nil {
		return membership.Prior{}, err
	}

	intervals, err := partition.ReadIntervals(ctx, localPath)
	if err != nil {
		return membership.Prior{}, err
	}
	return membership.Prior{Universe: universe, Intervals: intervals, Watermark: latest.Watermark}, nil
}

func (r *Runner) checkTolerance(universe string, total int, anomalies []types.Anomaly) error {
	logAnomalies(universe, anomalies)
	if r.opts.AnomalyTolerance < 0 || total == 0 {
		return nil
	}
	ratio := float64(len(anomalies)) / float64(total)
	if ratio > r.opts.AnomalyTolerance {
		return merrors.NewInputError(merrors.CodeAnomalyToleranceExceeded,
			fmt.Sprintf("pipeline: %d anomalies in %d events (%.2f%%) exceeds tolerance %.2f%%",
				len(anomalies), total, ratio*100, r.opts.AnomalyTolerance*100), nil).
			WithDetails(map[string]interface{}{"universe": universe, "anomalies": len(anomalies), "events": total})
	}
	return nil
}

func logAnomalies(universe string, anomalies []types.Anomaly) {
	for i, a := range anomalies {
		if i == maxLoggedAnomalies {
			log.Printf("pipeline: [WARN] %d more anomalies not shown universe=%s", len(anomalies)-i, universe)
			break
		}
		log.Printf("pipeline: [WARN] anomaly universe=%s %s", universe, a)
	}
}

// finish expands and validates the result, then stages and publishes it.
func (r *Runner) finish(
	ctx context.Context,
	universe string,
	mode types.BuildMode,
	parent string,
	minDate types.Date,
	sourceRows int,
	res *membership.Result,
	anomalies []types.Anomaly,
) (*types.BuildSummary, error) {
	daily := membership.Expand(res.Intervals, r.calendar)
	if err := membership.Validate(res.Intervals, daily, r.calendar); err != nil {
		log.Printf("pipeline: [WARN] validation failed universe=%s, nothing published: %v", universe, err)
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, merrors.NewInternalError("pipeline: failed to generate build id", err)
	}
	buildID := id.String()

	stagingDir := filepath.Join(r.opts.WorkDir, buildID)
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			log.Printf("pipeline: [WARN] failed to remove staging dir %s: %v", stagingDir, err)
		}
	}()
	writer := partition.NewWriter(stagingDir)

	dailyInfo, err := writer.WriteDaily(ctx, universe, buildID, daily)
	if err != nil {
		return nil, merrors.NewStorageError(merrors.CodeUploadFailed, "pipeline: failed to stage daily artifact", err)
	}
	intervalsInfo, err := writer.WriteIntervals(ctx, universe, buildID, res.Intervals)
	if err != nil {
		return nil, merrors.NewStorageError(merrors.CodeUploadFailed, "pipeline: failed to stage intervals artifact", err)
	}

	first, last := membership.DateRange(daily)
	summary := &types.BuildSummary{
		BuildID:        buildID,
		Universe:       universe,
		Mode:           mode,
		FirstDate:      first,
		LastDate:       last,
		UniqueEntities: membership.UniqueEntities(res.Intervals),
		IntervalCount:  len(res.Intervals),
		DailyRowCount:  len(daily),
		AnomalyCount:   len(anomalies),
		EventCount:     res.EventCount,
		Watermark:      res.Watermark,
		SourceRows:     sourceRows,
		MinDate:        minDate,
	}

	err = r.publisher.Publish(ctx, &publish.Request{
		Build: &manifest.BuildRecord{
			BuildID:           buildID,
			ParentBuildID:     parent,
			Universe:          universe,
			Mode:              mode,
			Watermark:         res.Watermark,
			SourceRows:        sourceRows,
			DailyChecksum:     dailyInfo.Checksum,
			IntervalsChecksum: intervalsInfo.Checksum,
			Summary:           *summary,
			Anomalies:         anomalies,
			CreatedAt:         time.Now(),
		},
		Daily:     dailyInfo,
		Intervals: intervalsInfo,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("pipeline: build published build=%s %s", buildID, summary)
	return summary, nil
}

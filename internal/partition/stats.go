package partition

import (
	"github.com/meridianidx/meridian/internal/bloom"
	"github.com/meridianidx/meridian/pkg/types"
)

// StatsTracker collects date bounds and distinct entities while an artifact
// is written.
type StatsTracker struct {
	rowCount int64
	minDate  types.Date
	maxDate  types.Date
	entities map[string]struct{}
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		minDate:  types.NoDate,
		maxDate:  types.NoDate,
		entities: make(map[string]struct{}),
	}
}

// Observe records one row spanning [start, end]. Daily rows pass the same
// date twice. An open end is not counted as a max date.
func (s *StatsTracker) Observe(entityID string, start, end types.Date) {
	s.rowCount++
	s.entities[entityID] = struct{}{}

	if s.minDate == types.NoDate || start < s.minDate {
		s.minDate = start
	}
	if end.IsOpen() {
		end = start
	}
	if s.maxDate == types.NoDate || end > s.maxDate {
		s.maxDate = end
	}
}

// RowCount returns the rows observed.
func (s *StatsTracker) RowCount() int64 { return s.rowCount }

// EntityCount returns the distinct entities observed.
func (s *StatsTracker) EntityCount() int { return len(s.entities) }

// DateRange returns the min and max dates observed, NoDate when empty.
func (s *StatsTracker) DateRange() (types.Date, types.Date) { return s.minDate, s.maxDate }

// EntityFilter builds a bloom filter over the observed entities.
func (s *StatsTracker) EntityFilter(fpr float64) *bloom.EntityFilter {
	f := bloom.ForEntities(len(s.entities), fpr)
	for id := range s.entities {
		f.Add(id)
	}
	return f
}

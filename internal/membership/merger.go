package membership

import (
	"fmt"

	"github.com/meridianidx/meridian/internal/calendar"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

// Prior is the persisted state an incremental update starts from.
type Prior struct {
	Universe  string
	Intervals []types.MembershipInterval
	// Watermark is the latest event date the prior build incorporated.
	Watermark types.Date
}

// SeedState rebuilds a BuildState from persisted intervals. Closed intervals
// are carried as-is; an entity whose latest interval is open becomes MEMBER.
func SeedState(prior Prior) (*BuildState, error) {
	intervals := make([]types.MembershipInterval, len(prior.Intervals))
	copy(intervals, prior.Intervals)
	SortIntervals(intervals)

	if err := ValidateIntervals(intervals); err != nil {
		return nil, err
	}

	state := NewBuildState(prior.Universe)
	state.watermark = prior.Watermark
	for _, iv := range intervals {
		if iv.Universe != "" && iv.Universe != prior.Universe {
			return nil, merrors.NewManifestError(merrors.CodeCorruptionDetected,
				fmt.Sprintf("membership: prior interval %s belongs to universe %q, not %q", iv, iv.Universe, prior.Universe), nil)
		}
		iv.Universe = prior.Universe
		if iv.IsOpen() {
			state.entities[iv.EntityID] = &entityState{status: Member, start: iv.StartDate}
			continue
		}
		if _, ok := state.entities[iv.EntityID]; !ok {
			state.entities[iv.EntityID] = &entityState{status: NotMember}
		}
		state.closed = append(state.closed, iv)
	}
	return state, nil
}

// Merge replays the events dated after the prior watermark on top of the
// prior state. Events on or before the watermark are treated as already
// applied, so merging the same batch twice yields the same result.
func Merge(prior Prior, events []types.MembershipEvent, cal calendar.TradingCalendar) (*Result, error) {
	state, err := SeedState(prior)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, e := range events {
		if e.Date <= prior.Watermark {
			continue
		}
		if err := state.Apply(e, cal); err != nil {
			return nil, err
		}
		applied++
	}

	res := state.Finalize()
	res.EventCount = applied
	return res, nil
}

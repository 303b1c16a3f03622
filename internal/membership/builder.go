// Package membership turns an ordered stream of add/remove events into
// membership intervals and their daily expansion, and validates that the two
// agree.
package membership

import (
	"fmt"
	"sort"

	"github.com/meridianidx/meridian/internal/calendar"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

// Status is the per-entity state of the interval state machine.
type Status uint8

const (
	NotMember Status = iota
	Member
)

func (s Status) String() string {
	if s == Member {
		return "MEMBER"
	}
	return "NOT_MEMBER"
}

type entityState struct {
	status Status
	// start is the first day of the open interval while status is Member.
	start types.Date
}

// BuildState holds the state machine of every entity seen by one build.
// It is owned by a single build and is not safe for concurrent use.
type BuildState struct {
	universe  string
	entities  map[string]*entityState
	closed    []types.MembershipInterval
	anomalies []types.Anomaly
	applied   int
	watermark types.Date
}

// Result is the finalized output of a BuildState.
type Result struct {
	Universe  string
	Intervals []types.MembershipInterval
	Anomalies []types.Anomaly
	// EventCount is the number of events applied, anomalous ones included.
	EventCount int
	// Watermark is the latest event date applied or inherited from prior state.
	Watermark types.Date
}

// NewBuildState creates an empty state with every entity NOT_MEMBER.
func NewBuildState(universe string) *BuildState {
	return &BuildState{
		universe:  universe,
		entities:  make(map[string]*entityState),
		watermark: types.NoDate,
	}
}

// Status returns the current status of an entity.
func (s *BuildState) Status(entityID string) Status {
	if st, ok := s.entities[entityID]; ok {
		return st.status
	}
	return NotMember
}

// Anomalies returns the anomalies recorded so far.
func (s *BuildState) Anomalies() []types.Anomaly {
	return s.anomalies
}

// Apply feeds one event through the entity's state machine. Anomalous events
// are recorded and leave the state unchanged. An error is returned only when
// the event lies outside the calendar.
func (s *BuildState) Apply(e types.MembershipEvent, cal calendar.TradingCalendar) error {
	if !cal.Covers(e.Date) {
		return merrors.NewInputError(merrors.CodeCalendarGap,
			fmt.Sprintf("membership: event %s outside calendar %s..%s", e, cal.First(), cal.LastKnownDate()), nil).
			WithDetails(map[string]interface{}{"entity_id": e.EntityID, "date": e.Date.String()})
	}

	st, ok := s.entities[e.EntityID]
	if !ok {
		st = &entityState{status: NotMember}
		s.entities[e.EntityID] = st
	}

	s.applied++
	if e.Date > s.watermark {
		s.watermark = e.Date
	}

	switch e.Action {
	case types.ActionAdd:
		if st.status == Member {
			s.record(types.AnomalyDuplicateAdd, e,
				fmt.Sprintf("already a member since %s", st.start))
			return nil
		}
		start := e.Date
		if !cal.IsTradingDay(start) {
			next, err := cal.Next(start)
			if err != nil {
				return err
			}
			start = next
		}
		st.status = Member
		st.start = start

	case types.ActionRemove:
		if st.status != Member {
			s.record(types.AnomalyOrphanRemove, e, "not a member")
			return nil
		}
		st.status = NotMember
		end, err := cal.Previous(e.Date)
		if err != nil || end < st.start {
			s.record(types.AnomalyEmptyInterval, e,
				fmt.Sprintf("interval opened %s closes before any trading day", st.start))
			return nil
		}
		s.closed = append(s.closed, types.MembershipInterval{
			EntityID:  e.EntityID,
			Universe:  s.universe,
			StartDate: st.start,
			EndDate:   end,
		})

	default:
		return merrors.NewInputError(merrors.CodeMalformedEvent,
			fmt.Sprintf("membership: event %s has unknown action", e), nil)
	}
	return nil
}

func (s *BuildState) record(kind types.AnomalyKind, e types.MembershipEvent, msg string) {
	s.anomalies = append(s.anomalies, types.Anomaly{
		Kind:     kind,
		Date:     e.Date,
		EntityID: e.EntityID,
		Action:   e.Action,
		Seq:      e.Seq,
		Message:  msg,
	})
}

// Finalize returns the closed intervals plus an open interval for every entity
// still MEMBER, sorted by entity then start date. The state is not modified.
func (s *BuildState) Finalize() *Result {
	intervals := make([]types.MembershipInterval, 0, len(s.closed)+len(s.entities))
	intervals = append(intervals, s.closed...)
	for id, st := range s.entities {
		if st.status == Member {
			intervals = append(intervals, types.MembershipInterval{
				EntityID:  id,
				Universe:  s.universe,
				StartDate: st.start,
				EndDate:   types.OpenEnd,
			})
		}
	}
	SortIntervals(intervals)

	anomalies := make([]types.Anomaly, len(s.anomalies))
	copy(anomalies, s.anomalies)

	return &Result{
		Universe:   s.universe,
		Intervals:  intervals,
		Anomalies:  anomalies,
		EventCount: s.applied,
		Watermark:  s.watermark,
	}
}

// BuildIntervals runs a fresh state machine over events, which must already be
// in processing order.
func BuildIntervals(universe string, events []types.MembershipEvent, cal calendar.TradingCalendar) (*Result, error) {
	state := NewBuildState(universe)
	for _, e := range events {
		if err := state.Apply(e, cal); err != nil {
			return nil, err
		}
	}
	return state.Finalize(), nil
}

// SortIntervals orders intervals by entity id, then start date.
func SortIntervals(intervals []types.MembershipInterval) {
	sort.Slice(intervals, func(i, j int) bool {
		a, b := intervals[i], intervals[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.StartDate < b.StartDate
	})
}

// UniqueEntities counts the distinct entities across intervals.
func UniqueEntities(intervals []types.MembershipInterval) int {
	seen := make(map[string]struct{}, len(intervals))
	for _, iv := range intervals {
		seen[iv.EntityID] = struct{}{}
	}
	return len(seen)
}

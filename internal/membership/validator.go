package membership

import (
	"fmt"
	"sort"

	"github.com/meridianidx/meridian/internal/calendar"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

// ValidateIntervals checks that every closed interval has start <= end and
// that each entity's intervals are sorted and non-overlapping. An open
// interval may only be the last one of its entity.
func ValidateIntervals(intervals []types.MembershipInterval) error {
	last := make(map[string]types.MembershipInterval, len(intervals))

	for _, iv := range intervals {
		if !iv.IsOpen() && iv.StartDate > iv.EndDate {
			return merrors.NewConsistencyError(merrors.CodeInvertedInterval, iv.EntityID, iv.StartDate.String(),
				fmt.Sprintf("membership: interval %s starts after it ends", iv))
		}

		prev, seen := last[iv.EntityID]
		if seen {
			switch {
			case iv.StartDate <= prev.StartDate:
				return merrors.NewConsistencyError(merrors.CodeOverlap, iv.EntityID, iv.StartDate.String(),
					fmt.Sprintf("membership: interval %s is out of order after %s", iv, prev))
			case iv.StartDate <= prev.EndDate:
				return merrors.NewConsistencyError(merrors.CodeOverlap, iv.EntityID, iv.StartDate.String(),
					fmt.Sprintf("membership: interval %s overlaps %s", iv, prev))
			}
		}
		last[iv.EntityID] = iv
	}
	return nil
}

// ValidateDaily checks that no (date, entity) pair appears twice.
func ValidateDaily(rows []types.DailyMembershipRecord) error {
	type key struct {
		date   types.Date
		entity string
	}
	seen := make(map[key]struct{}, len(rows))
	for _, r := range rows {
		k := key{r.Date, r.EntityID}
		if _, dup := seen[k]; dup {
			return merrors.NewConsistencyError(merrors.CodeDuplicateDailyRow, r.EntityID, r.Date.String(),
				fmt.Sprintf("membership: duplicate daily row for %s on %s", r.EntityID, r.Date))
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Validate runs the interval and daily checks and then verifies that every
// entity has exactly as many daily rows as trading days spanned by its
// intervals. The first violation found is returned.
func Validate(intervals []types.MembershipInterval, rows []types.DailyMembershipRecord, cal calendar.TradingCalendar) error {
	if err := ValidateIntervals(intervals); err != nil {
		return err
	}
	if err := ValidateDaily(rows); err != nil {
		return err
	}

	last := cal.LastKnownDate()
	expected := make(map[string]int)
	for _, iv := range intervals {
		expected[iv.EntityID] += cal.CountTradingDays(iv.StartDate, iv.EffectiveEnd(last))
	}
	actual := make(map[string]int)
	for _, r := range rows {
		actual[r.EntityID]++
	}

	ids := make([]string, 0, len(expected)+len(actual))
	for id := range expected {
		ids = append(ids, id)
	}
	for id := range actual {
		if _, ok := expected[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if expected[id] != actual[id] {
			return merrors.NewConsistencyError(merrors.CodeRowCountMismatch, id, "",
				fmt.Sprintf("membership: entity %s has %d daily rows, intervals span %d trading days",
					id, actual[id], expected[id]))
		}
	}
	return nil
}

package membership

import (
	"sort"

	"github.com/meridianidx/meridian/internal/calendar"
	"github.com/meridianidx/meridian/pkg/types"
)

// Expand produces one daily row per trading date covered by each interval.
// Open intervals run to the calendar's last known date. Rows are sorted by
// date, then entity id.
func Expand(intervals []types.MembershipInterval, cal calendar.TradingCalendar) []types.DailyMembershipRecord {
	last := cal.LastKnownDate()

	total := 0
	for _, iv := range intervals {
		total += cal.CountTradingDays(iv.StartDate, iv.EffectiveEnd(last))
	}

	rows := make([]types.DailyMembershipRecord, 0, total)
	for _, iv := range intervals {
		for _, d := range cal.TradingDays(iv.StartDate, iv.EffectiveEnd(last)) {
			rows = append(rows, types.DailyMembershipRecord{
				Date:     d,
				EntityID: iv.EntityID,
				Universe: iv.Universe,
			})
		}
	}

	SortDaily(rows)
	return rows
}

// SortDaily orders daily rows by date, then entity id.
func SortDaily(rows []types.DailyMembershipRecord) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].EntityID < rows[j].EntityID
	})
}

// DateRange returns the first and last dates present in rows, or NoDate twice
// when rows is empty. rows must be sorted by date.
func DateRange(rows []types.DailyMembershipRecord) (types.Date, types.Date) {
	if len(rows) == 0 {
		return types.NoDate, types.NoDate
	}
	return rows[0].Date, rows[len(rows)-1].Date
}

// Package calendar provides the trading calendar consumed by the membership builder.
package calendar

import (
	"fmt"
	"sort"
	"time"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

// TradingCalendar is the ordered set of valid trading dates.
type TradingCalendar interface {
	// IsTradingDay reports whether d is a trading date.
	IsTradingDay(d types.Date) bool

	// Previous returns the last trading date strictly before d.
	Previous(d types.Date) (types.Date, error)

	// Next returns the first trading date strictly after d.
	Next(d types.Date) (types.Date, error)

	// First returns the earliest known trading date.
	First() types.Date

	// LastKnownDate returns the latest known trading date.
	LastKnownDate() types.Date

	// TradingDays returns the trading dates in [start, end], ascending.
	TradingDays(start, end types.Date) []types.Date

	// CountTradingDays returns len(TradingDays(start, end)) without allocating.
	CountTradingDays(start, end types.Date) int

	// Covers reports whether d lies within [First, LastKnownDate].
	Covers(d types.Date) bool
}

// Calendar is a TradingCalendar backed by a sorted slice of dates.
type Calendar struct {
	dates []types.Date
}

var _ TradingCalendar = (*Calendar)(nil)

// New creates a calendar from dates in any order. Duplicates are dropped.
func New(dates []types.Date) (*Calendar, error) {
	if len(dates) == 0 {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable, "calendar: no trading dates", nil)
	}

	sorted := make([]types.Date, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	uniq := sorted[:1]
	for _, d := range sorted[1:] {
		if d != uniq[len(uniq)-1] {
			uniq = append(uniq, d)
		}
	}

	return &Calendar{dates: uniq}, nil
}

// Weekdays builds a Monday–Friday calendar over [start, end] minus holidays.
func Weekdays(start, end types.Date, holidays []types.Date) (*Calendar, error) {
	if end < start {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable,
			fmt.Sprintf("calendar: end %s before start %s", end, start), nil)
	}

	closed := make(map[types.Date]struct{}, len(holidays))
	for _, h := range holidays {
		closed[h] = struct{}{}
	}

	var dates []types.Date
	for d := start; d <= end; d = d.AddDays(1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		if _, ok := closed[d]; ok {
			continue
		}
		dates = append(dates, d)
	}

	return New(dates)
}

// IsTradingDay reports whether d is a trading date.
func (c *Calendar) IsTradingDay(d types.Date) bool {
	i := c.search(d)
	return i < len(c.dates) && c.dates[i] == d
}

// Previous returns the last trading date strictly before d.
func (c *Calendar) Previous(d types.Date) (types.Date, error) {
	i := c.search(d)
	if i == 0 {
		return types.NoDate, merrors.NewInputError(merrors.CodeCalendarGap,
			fmt.Sprintf("calendar: no trading day before %s (calendar starts %s)", d, c.First()), nil)
	}
	return c.dates[i-1], nil
}

// Next returns the first trading date strictly after d.
func (c *Calendar) Next(d types.Date) (types.Date, error) {
	i := c.search(d)
	if i < len(c.dates) && c.dates[i] == d {
		i++
	}
	if i >= len(c.dates) {
		return types.NoDate, merrors.NewInputError(merrors.CodeCalendarGap,
			fmt.Sprintf("calendar: no trading day after %s (calendar ends %s)", d, c.LastKnownDate()), nil)
	}
	return c.dates[i], nil
}

// First returns the earliest known trading date.
func (c *Calendar) First() types.Date {
	return c.dates[0]
}

// LastKnownDate returns the latest known trading date.
func (c *Calendar) LastKnownDate() types.Date {
	return c.dates[len(c.dates)-1]
}

// TradingDays returns the trading dates in [start, end], ascending.
func (c *Calendar) TradingDays(start, end types.Date) []types.Date {
	lo, hi := c.bounds(start, end)
	if lo >= hi {
		return nil
	}
	out := make([]types.Date, hi-lo)
	copy(out, c.dates[lo:hi])
	return out
}

// CountTradingDays returns the number of trading dates in [start, end].
func (c *Calendar) CountTradingDays(start, end types.Date) int {
	lo, hi := c.bounds(start, end)
	if lo >= hi {
		return 0
	}
	return hi - lo
}

// Len returns the number of trading dates.
func (c *Calendar) Len() int {
	return len(c.dates)
}

// Covers reports whether d lies within [First, LastKnownDate].
func (c *Calendar) Covers(d types.Date) bool {
	return d >= c.First() && d <= c.LastKnownDate()
}

// search returns the index of the first date >= d.
func (c *Calendar) search(d types.Date) int {
	return sort.Search(len(c.dates), func(i int) bool { return c.dates[i] >= d })
}

func (c *Calendar) bounds(start, end types.Date) (int, int) {
	lo := c.search(start)
	hi := sort.Search(len(c.dates), func(i int) bool { return c.dates[i] > end })
	return lo, hi
}

package events

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

// SameDayOrder decides which action is applied first when an entity has both
// an add and a remove on one date.
type SameDayOrder string

const (
	// RemoveFirst applies removes before adds on the same date.
	RemoveFirst SameDayOrder = "remove_first"
	// AddFirst applies adds before removes on the same date.
	AddFirst SameDayOrder = "add_first"
)

// ParseSameDayOrder parses a configured order. Empty means RemoveFirst.
func ParseSameDayOrder(s string) (SameDayOrder, error) {
	switch SameDayOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", RemoveFirst:
		return RemoveFirst, nil
	case AddFirst:
		return AddFirst, nil
	default:
		return "", fmt.Errorf("events: unknown same-day order %q", s)
	}
}

var rowValidate = validator.New()

// Normalize validates rows and expands each into one event per entity. Rows
// that fail validation are returned as malformed_row anomalies instead of
// aborting; the caller enforces the anomaly tolerance. Event Seq numbers follow
// source order.
func Normalize(rows []Row) ([]types.MembershipEvent, []types.Anomaly) {
	events := make([]types.MembershipEvent, 0, len(rows))
	var anomalies []types.Anomaly

	for _, row := range rows {
		row.Action = strings.ToLower(strings.TrimSpace(row.Action))
		row.Date = strings.TrimSpace(row.Date)

		if err := rowValidate.Struct(row); err != nil {
			anomalies = append(anomalies, malformed(row, err.Error()))
			continue
		}
		date, err := types.ParseDate(row.Date)
		if err != nil {
			anomalies = append(anomalies, malformed(row, err.Error()))
			continue
		}
		action, err := types.ParseAction(row.Action)
		if err != nil {
			anomalies = append(anomalies, malformed(row, err.Error()))
			continue
		}

		for _, id := range row.EntityIDs {
			events = append(events, types.MembershipEvent{
				Date:     date,
				EntityID: strings.TrimSpace(id),
				Action:   action,
				Seq:      len(events),
			})
		}
	}

	return events, anomalies
}

func malformed(row Row, msg string) types.Anomaly {
	date, err := types.ParseDate(row.Date)
	if err != nil {
		date = types.NoDate
	}
	return types.Anomaly{
		Kind:     types.AnomalyMalformedRow,
		Date:     date,
		EntityID: strings.Join(row.EntityIDs, ";"),
		Seq:      row.Line,
		Message:  fmt.Sprintf("line %d: %s", row.Line, msg),
	}
}

// CheckOrder verifies that events, in source order, have non-decreasing dates.
func CheckOrder(events []types.MembershipEvent) error {
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if cur.Date < prev.Date {
			return merrors.NewInputError(merrors.CodeOutOfOrder,
				fmt.Sprintf("events: %s dated %s follows an event dated %s", cur.EntityID, cur.Date, prev.Date), nil).
				WithDetails(map[string]interface{}{"entity_id": cur.EntityID, "date": cur.Date.String()})
		}
	}
	return nil
}

// Sort orders events by date, then action according to order, then entity id.
// The sort is stable so repeated identical events keep their source order.
func Sort(events []types.MembershipEvent, order SameDayOrder) {
	rank := func(a types.Action) int {
		if order == AddFirst {
			if a == types.ActionAdd {
				return 0
			}
			return 1
		}
		if a == types.ActionRemove {
			return 0
		}
		return 1
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if ra, rb := rank(a.Action), rank(b.Action); ra != rb {
			return ra < rb
		}
		return a.EntityID < b.EntityID
	})
}

// After returns the events dated strictly after watermark, preserving order.
func After(events []types.MembershipEvent, watermark types.Date) []types.MembershipEvent {
	out := make([]types.MembershipEvent, 0, len(events))
	for _, e := range events {
		if e.Date > watermark {
			out = append(out, e)
		}
	}
	return out
}

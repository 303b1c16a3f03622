package membership

import (
	"testing"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

func TestValidateIntervals(t *testing.T) {
	tests := []struct {
		name      string
		intervals []types.MembershipInterval
		wantCode  string
	}{
		{
			name: "disjoint",
			intervals: []types.MembershipInterval{
				{EntityID: "A", StartDate: d("2020-01-02"), EndDate: d("2020-01-10")},
				{EntityID: "A", StartDate: d("2020-01-13"), EndDate: types.OpenEnd},
				{EntityID: "B", StartDate: d("2020-01-02"), EndDate: types.OpenEnd},
			},
		},
		{
			name: "inverted",
			intervals: []types.MembershipInterval{
				{EntityID: "A", StartDate: d("2020-01-10"), EndDate: d("2020-01-02")},
			},
			wantCode: merrors.CodeInvertedInterval,
		},
		{
			name: "overlap",
			intervals: []types.MembershipInterval{
				{EntityID: "A", StartDate: d("2020-01-02"), EndDate: d("2020-01-10")},
				{EntityID: "A", StartDate: d("2020-01-10"), EndDate: d("2020-01-20")},
			},
			wantCode: merrors.CodeOverlap,
		},
		{
			name: "out of order",
			intervals: []types.MembershipInterval{
				{EntityID: "A", StartDate: d("2020-02-03"), EndDate: d("2020-02-10")},
				{EntityID: "A", StartDate: d("2020-01-02"), EndDate: d("2020-01-10")},
			},
			wantCode: merrors.CodeOverlap,
		},
		{
			name: "open interval not last",
			intervals: []types.MembershipInterval{
				{EntityID: "A", StartDate: d("2020-01-02"), EndDate: types.OpenEnd},
				{EntityID: "A", StartDate: d("2020-03-02"), EndDate: d("2020-03-10")},
			},
			wantCode: merrors.CodeOverlap,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateIntervals(tc.intervals)
			if tc.wantCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if merrors.GetCode(err) != tc.wantCode {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
			if !merrors.IsConsistency(err) {
				t.Errorf("expected consistency category, got %s", merrors.GetCategory(err))
			}
		})
	}
}

func TestValidateDaily_Duplicate(t *testing.T) {
	rows := []types.DailyMembershipRecord{
		{Date: d("2020-01-02"), EntityID: "A"},
		{Date: d("2020-01-02"), EntityID: "B"},
		{Date: d("2020-01-02"), EntityID: "A"},
	}
	err := ValidateDaily(rows)
	if merrors.GetCode(err) != merrors.CodeDuplicateDailyRow {
		t.Fatalf("expected DUPLICATE_DAILY_ROW, got %v", err)
	}
	var me *merrors.MeridianError
	if e, ok := err.(*merrors.MeridianError); ok {
		me = e
	}
	if me == nil || me.Details["entity_id"] != "A" || me.Details["date"] != "2020-01-02" {
		t.Errorf("diagnostic should name entity and date, got %+v", me)
	}
}

func TestValidate_RowCountMismatch(t *testing.T) {
	cal := testCalendar(t)
	intervals := []types.MembershipInterval{
		{EntityID: "A", Universe: "SPX", StartDate: d("2020-01-06"), EndDate: d("2020-01-10")},
	}
	rows := Expand(intervals, cal)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if err := Validate(intervals, rows, cal); err != nil {
		t.Fatalf("consistent tables rejected: %v", err)
	}

	if err := Validate(intervals, rows[:4], cal); merrors.GetCode(err) != merrors.CodeRowCountMismatch {
		t.Errorf("missing row: expected ROW_COUNT_MISMATCH, got %v", err)
	}

	stray := append(append([]types.DailyMembershipRecord{}, rows...),
		types.DailyMembershipRecord{Date: d("2020-01-06"), EntityID: "Z", Universe: "SPX"})
	if err := Validate(intervals, stray, cal); merrors.GetCode(err) != merrors.CodeRowCountMismatch {
		t.Errorf("stray entity: expected ROW_COUNT_MISMATCH, got %v", err)
	}
}

func TestExpand_OpenIntervalRunsToLastKnownDate(t *testing.T) {
	cal := testCalendar(t)
	rows := Expand([]types.MembershipInterval{
		{EntityID: "A", Universe: "SPX", StartDate: d("2021-03-29"), EndDate: types.OpenEnd},
		{EntityID: "B", Universe: "SPX", StartDate: d("2021-03-30"), EndDate: types.OpenEnd},
	}, cal)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	first, last := DateRange(rows)
	if first != d("2021-03-29") || last != d("2021-03-31") {
		t.Errorf("date range %s..%s", first, last)
	}
	// Sorted by date then entity.
	if rows[1].EntityID != "A" || rows[2].EntityID != "B" || rows[1].Date != rows[2].Date {
		t.Errorf("rows not in canonical order: %v", rows)
	}
}

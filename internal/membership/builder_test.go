package membership

import (
	"testing"

	"github.com/meridianidx/meridian/internal/calendar"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

func d(s string) types.Date { return types.MustParseDate(s) }

func add(date, id string) types.MembershipEvent {
	return types.MembershipEvent{Date: d(date), EntityID: id, Action: types.ActionAdd}
}

func remove(date, id string) types.MembershipEvent {
	return types.MembershipEvent{Date: d(date), EntityID: id, Action: types.ActionRemove}
}

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.Weekdays(d("2019-12-02"), d("2021-03-31"), nil)
	if err != nil {
		t.Fatalf("failed to build calendar: %v", err)
	}
	return cal
}

func TestBuildIntervals_ReAdditionScenario(t *testing.T) {
	cal := testCalendar(t)
	events := []types.MembershipEvent{
		add("2020-01-02", "X"),
		remove("2020-06-15", "X"),
		add("2021-01-04", "X"),
	}

	res, err := BuildIntervals("SPX", events, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("unexpected anomalies: %v", res.Anomalies)
	}

	want := []types.MembershipInterval{
		{EntityID: "X", Universe: "SPX", StartDate: d("2020-01-02"), EndDate: d("2020-06-12")},
		{EntityID: "X", Universe: "SPX", StartDate: d("2021-01-04"), EndDate: types.OpenEnd},
	}
	if len(res.Intervals) != len(want) {
		t.Fatalf("got %d intervals, want %d: %v", len(res.Intervals), len(want), res.Intervals)
	}
	for i := range want {
		if res.Intervals[i] != want[i] {
			t.Errorf("interval %d = %v, want %v", i, res.Intervals[i], want[i])
		}
	}
	if res.EventCount != 3 || res.Watermark != d("2021-01-04") {
		t.Errorf("event count %d watermark %s", res.EventCount, res.Watermark)
	}

	rows := Expand(res.Intervals, cal)
	wantRows := cal.CountTradingDays(d("2020-01-02"), d("2020-06-12")) +
		cal.CountTradingDays(d("2021-01-04"), d("2021-03-31"))
	if len(rows) != wantRows {
		t.Errorf("got %d daily rows, want %d", len(rows), wantRows)
	}
	for _, r := range rows {
		if r.Date > d("2020-06-12") && r.Date < d("2021-01-04") {
			t.Fatalf("X should not be a member on %s", r.Date)
		}
	}
	if err := Validate(res.Intervals, rows, cal); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestBuildIntervals_OrphanRemove(t *testing.T) {
	cal := testCalendar(t)
	base := []types.MembershipEvent{add("2020-01-02", "A")}
	withOrphan := []types.MembershipEvent{add("2020-01-02", "A"), remove("2020-02-03", "B")}

	clean, err := BuildIntervals("SPX", base, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}
	res, err := BuildIntervals("SPX", withOrphan, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}

	if len(res.Anomalies) != 1 {
		t.Fatalf("expected exactly one anomaly, got %v", res.Anomalies)
	}
	if a := res.Anomalies[0]; a.Kind != types.AnomalyOrphanRemove || a.EntityID != "B" || a.Date != d("2020-02-03") {
		t.Errorf("unexpected anomaly %v", a)
	}
	if len(res.Intervals) != len(clean.Intervals) || res.Intervals[0] != clean.Intervals[0] {
		t.Errorf("orphan remove changed intervals: %v vs %v", res.Intervals, clean.Intervals)
	}
}

func TestBuildIntervals_DuplicateAdd(t *testing.T) {
	cal := testCalendar(t)
	res, err := BuildIntervals("SPX", []types.MembershipEvent{
		add("2020-01-02", "A"),
		add("2020-03-02", "A"),
	}, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Kind != types.AnomalyDuplicateAdd {
		t.Fatalf("expected one duplicate_add anomaly, got %v", res.Anomalies)
	}
	if len(res.Intervals) != 1 || res.Intervals[0].StartDate != d("2020-01-02") {
		t.Errorf("duplicate add must not move the start: %v", res.Intervals)
	}
}

func TestBuildIntervals_NonTradingDates(t *testing.T) {
	cal := testCalendar(t)
	// Saturday add opens Monday; Sunday remove closes Friday.
	res, err := BuildIntervals("SPX", []types.MembershipEvent{
		add("2020-01-04", "A"),
		remove("2020-01-12", "A"),
	}, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}
	if len(res.Intervals) != 1 {
		t.Fatalf("expected one interval, got %v", res.Intervals)
	}
	iv := res.Intervals[0]
	if iv.StartDate != d("2020-01-06") || iv.EndDate != d("2020-01-10") {
		t.Errorf("got %v, want A[2020-01-06..2020-01-10]", iv)
	}
}

func TestBuildIntervals_EmptyInterval(t *testing.T) {
	cal := testCalendar(t)
	res, err := BuildIntervals("SPX", []types.MembershipEvent{
		add("2020-01-06", "A"),
		remove("2020-01-06", "A"),
	}, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}
	if len(res.Intervals) != 0 {
		t.Errorf("same-day add then remove must not produce an interval: %v", res.Intervals)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Kind != types.AnomalyEmptyInterval {
		t.Errorf("expected empty_interval anomaly, got %v", res.Anomalies)
	}
}

func TestBuildIntervals_SameDayRemoveThenAdd(t *testing.T) {
	cal := testCalendar(t)
	res, err := BuildIntervals("SPX", []types.MembershipEvent{
		add("2020-01-02", "A"),
		remove("2020-02-03", "A"),
		add("2020-02-03", "A"),
	}, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}
	if len(res.Intervals) != 2 {
		t.Fatalf("expected two intervals, got %v", res.Intervals)
	}
	if res.Intervals[0].EndDate != d("2020-01-31") || res.Intervals[1].StartDate != d("2020-02-03") {
		t.Errorf("unexpected split: %v", res.Intervals)
	}
	if err := ValidateIntervals(res.Intervals); err != nil {
		t.Errorf("re-addition should not overlap: %v", err)
	}
}

func TestBuildIntervals_CalendarGap(t *testing.T) {
	cal := testCalendar(t)
	_, err := BuildIntervals("SPX", []types.MembershipEvent{add("2021-06-01", "A")}, cal)
	if merrors.GetCode(err) != merrors.CodeCalendarGap {
		t.Fatalf("expected CALENDAR_GAP, got %v", err)
	}
	if !merrors.IsInput(err) {
		t.Errorf("calendar gap should be an input error")
	}
}

func TestBuildState_Status(t *testing.T) {
	cal := testCalendar(t)
	state := NewBuildState("SPX")
	if state.Status("A") != NotMember {
		t.Error("unknown entity should be NOT_MEMBER")
	}
	if err := state.Apply(add("2020-01-02", "A"), cal); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if state.Status("A") != Member {
		t.Errorf("expected MEMBER, got %s", state.Status("A"))
	}

	first := state.Finalize()
	second := state.Finalize()
	if len(first.Intervals) != 1 || len(second.Intervals) != 1 {
		t.Error("Finalize must not mutate the state")
	}
}

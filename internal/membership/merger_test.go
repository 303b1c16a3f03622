package membership

import (
	"reflect"
	"testing"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

func TestSeedState_OpenIntervalBecomesMember(t *testing.T) {
	state, err := SeedState(Prior{
		Universe: "SPX",
		Intervals: []types.MembershipInterval{
			{EntityID: "X", Universe: "SPX", StartDate: d("2021-01-04"), EndDate: types.OpenEnd},
			{EntityID: "X", Universe: "SPX", StartDate: d("2020-01-02"), EndDate: d("2020-06-12")},
			{EntityID: "Y", Universe: "SPX", StartDate: d("2020-01-02"), EndDate: d("2020-03-02")},
		},
		Watermark: d("2021-01-04"),
	})
	if err != nil {
		t.Fatalf("SeedState failed: %v", err)
	}
	if state.Status("X") != Member {
		t.Errorf("X should be MEMBER")
	}
	if state.Status("Y") != NotMember {
		t.Errorf("Y should be NOT_MEMBER")
	}
	if res := state.Finalize(); len(res.Intervals) != 3 {
		t.Errorf("seeded state should round-trip 3 intervals, got %v", res.Intervals)
	}
}

func TestSeedState_RejectsOverlappingPrior(t *testing.T) {
	_, err := SeedState(Prior{
		Universe: "SPX",
		Intervals: []types.MembershipInterval{
			{EntityID: "X", StartDate: d("2020-01-02"), EndDate: types.OpenEnd},
			{EntityID: "X", StartDate: d("2020-03-02"), EndDate: types.OpenEnd},
		},
	})
	if merrors.GetCode(err) != merrors.CodeOverlap {
		t.Errorf("expected OVERLAP, got %v", err)
	}
}

func TestMerge_AppliesOnlyNewEvents(t *testing.T) {
	cal := testCalendar(t)
	history := []types.MembershipEvent{
		add("2020-01-02", "X"),
		remove("2020-06-15", "X"),
	}
	base, err := BuildIntervals("SPX", history, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}

	all := append(append([]types.MembershipEvent{}, history...), add("2021-01-04", "X"))
	prior := Prior{Universe: "SPX", Intervals: base.Intervals, Watermark: base.Watermark}

	merged, err := Merge(prior, all, cal)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged.EventCount != 1 {
		t.Errorf("only the new event should be applied, got %d", merged.EventCount)
	}
	if len(merged.Anomalies) != 0 {
		t.Errorf("replayed history must not produce anomalies: %v", merged.Anomalies)
	}

	full, err := BuildIntervals("SPX", all, cal)
	if err != nil {
		t.Fatalf("BuildIntervals failed: %v", err)
	}
	if !reflect.DeepEqual(merged.Intervals, full.Intervals) {
		t.Errorf("merge %v differs from rebuild %v", merged.Intervals, full.Intervals)
	}

	again, err := Merge(Prior{Universe: "SPX", Intervals: merged.Intervals, Watermark: merged.Watermark}, all, cal)
	if err != nil {
		t.Fatalf("second Merge failed: %v", err)
	}
	if again.EventCount != 0 || !reflect.DeepEqual(again.Intervals, merged.Intervals) {
		t.Errorf("second merge of the same batch changed state: %v", again.Intervals)
	}
	if again.Watermark != merged.Watermark {
		t.Errorf("watermark moved from %s to %s", merged.Watermark, again.Watermark)
	}
}

func TestMerge_ClosesSeededOpenInterval(t *testing.T) {
	cal := testCalendar(t)
	prior := Prior{
		Universe: "SPX",
		Intervals: []types.MembershipInterval{
			{EntityID: "X", Universe: "SPX", StartDate: d("2021-01-04"), EndDate: types.OpenEnd},
		},
		Watermark: d("2021-01-04"),
	}
	res, err := Merge(prior, []types.MembershipEvent{remove("2021-02-01", "X")}, cal)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	want := types.MembershipInterval{EntityID: "X", Universe: "SPX", StartDate: d("2021-01-04"), EndDate: d("2021-01-29")}
	if len(res.Intervals) != 1 || res.Intervals[0] != want {
		t.Errorf("got %v, want %v", res.Intervals, want)
	}
}

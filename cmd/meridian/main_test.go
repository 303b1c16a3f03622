package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/query"
	"github.com/meridianidx/meridian/pkg/types"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{merrors.NewConsistencyError(merrors.CodeOverlap, "X", "2020-01-02", "overlap"), exitConsistency},
		{merrors.NewInputError(merrors.CodeOutOfOrder, "late", nil), exitInput},
		{merrors.NewStorageError(merrors.CodeUploadFailed, "upload", nil), exitStorage},
		{merrors.NewManifestError(merrors.CodeWriteConflict, "conflict", nil), exitStorage},
		{fmt.Errorf("SPX: %w", merrors.NewInputError(merrors.CodeCalendarGap, "gap", nil)), exitInput},
		{errors.Join(errors.New("other"), merrors.NewConsistencyError(merrors.CodeOverlap, "X", "", "x")), exitConsistency},
		{&reconcileIssuesError{report: &manifest.ReconciliationReport{}}, exitStorage},
		{errors.New("boom"), exitOther},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_RebuildThenQuery(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "spx.csv")
	csv := "date,entity_ids,action\n" +
		"2020-01-02,X,add\n" +
		"2020-06-15,X,remove\n" +
		"2021-01-04,X,add\n"
	if err := os.WriteFile(eventsPath, []byte(csv), 0644); err != nil {
		t.Fatalf("failed to write events: %v", err)
	}
	cfgPath := filepath.Join(dir, "meridian.yaml")
	cfg := fmt.Sprintf(`
data_dir: %s
calendar:
  weekdays:
    start: "2019-12-02"
    end: "2021-03-31"
universes:
  - name: SPX
    events_path: %s
`, filepath.Join(dir, "data"), eventsPath)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	out, err := execute(t, "rebuild", "--config", cfgPath, "SPX")
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	var summary types.BuildSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("rebuild output is not a summary: %v\n%s", err, out)
	}
	if summary.IntervalCount != 2 || summary.UniqueEntities != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	out, err = execute(t, "members", "--config", cfgPath, "--date", "2020-06-12", "SPX")
	if err != nil {
		t.Fatalf("members failed: %v", err)
	}
	var snap query.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("members output: %v\n%s", err, out)
	}
	if len(snap.Members) != 1 || snap.Members[0] != "X" {
		t.Errorf("members on 2020-06-12 = %v", snap.Members)
	}

	out, err = execute(t, "history", "--config", cfgPath, "SPX", "X")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var hist query.History
	if err := json.Unmarshal([]byte(out), &hist); err != nil {
		t.Fatalf("history output: %v\n%s", err, out)
	}
	if len(hist.Intervals) != 2 || !hist.Intervals[1].IsOpen() {
		t.Errorf("unexpected history %+v", hist.Intervals)
	}

	if _, err := execute(t, "reconcile", "--config", cfgPath); err != nil {
		t.Errorf("reconcile after a clean build should pass: %v", err)
	}

	_, err = execute(t, "rebuild", "--config", cfgPath, "NDX")
	if err == nil || exitCode(err) != exitOther {
		t.Errorf("unconfigured universe should fail with a generic error, got %v", err)
	}
}

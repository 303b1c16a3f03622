package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/observability"
	"github.com/meridianidx/meridian/internal/partition"
	"github.com/meridianidx/meridian/internal/publish"
	"github.com/meridianidx/meridian/internal/query"
	"github.com/meridianidx/meridian/internal/storage"
	"github.com/meridianidx/meridian/pkg/types"
)

type testServer struct {
	catalog *manifest.SQLiteCatalog
	server  *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	d := types.MustParseDate

	catalog, err := manifest.NewCatalog(filepath.Join(dir, "manifest.db"))
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	store, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	intervals := []types.MembershipInterval{
		{EntityID: "X", Universe: "SPX", StartDate: d("2020-01-02"), EndDate: d("2020-01-03")},
		{EntityID: "Y", Universe: "SPX", StartDate: d("2020-01-03"), EndDate: types.OpenEnd},
	}
	daily := []types.DailyMembershipRecord{
		{Date: d("2020-01-02"), EntityID: "X", Universe: "SPX"},
		{Date: d("2020-01-03"), EntityID: "X", Universe: "SPX"},
		{Date: d("2020-01-03"), EntityID: "Y", Universe: "SPX"},
	}
	w := partition.NewWriter(filepath.Join(dir, "staging"))
	di, err := w.WriteDaily(ctx, "SPX", "b1", daily)
	if err != nil {
		t.Fatalf("WriteDaily failed: %v", err)
	}
	ii, err := w.WriteIntervals(ctx, "SPX", "b1", intervals)
	if err != nil {
		t.Fatalf("WriteIntervals failed: %v", err)
	}
	err = publish.NewPublisher(catalog, store, nil).Publish(ctx, &publish.Request{
		Build: &manifest.BuildRecord{
			BuildID: "b1", Universe: "SPX", Mode: types.ModeRebuild, Watermark: d("2020-01-03"),
			DailyChecksum: di.Checksum, IntervalsChecksum: ii.Checksum, CreatedAt: time.Now(),
			Summary: types.BuildSummary{BuildID: "b1", Universe: "SPX", IntervalCount: 2, DailyRowCount: 3},
		},
		Daily:     di,
		Intervals: ii,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	cache := storage.NewObjectCache(store, filepath.Join(dir, "cache"), 2)
	handler := NewQueryHandler(query.NewReader(catalog, cache, metrics), catalog, reg)

	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	return &testServer{catalog: catalog, server: srv}
}

func (ts *testServer) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Errorf("GET %s: missing X-Request-ID", path)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: failed to decode body: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestQueryHandler_Members(t *testing.T) {
	ts := newTestServer(t)

	var snap query.Snapshot
	if code := ts.get(t, "/v1/universes/SPX/members?date=2020-01-03", &snap); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if snap.BuildID != "b1" || len(snap.Members) != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	// Saturday: answered from the intervals, absent from the daily table.
	if code := ts.get(t, "/v1/universes/SPX/members?date=2020-01-04", &snap); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(snap.Members) != 1 || snap.Members[0] != "Y" {
		t.Errorf("weekend members = %v", snap.Members)
	}
	if code := ts.get(t, "/v1/universes/SPX/members?date=2020-01-04&source=daily", &snap); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(snap.Members) != 0 {
		t.Errorf("daily weekend members = %v", snap.Members)
	}
}

func TestQueryHandler_MembersBadRequest(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/v1/universes/SPX/members",
		"/v1/universes/SPX/members?date=20200103",
		"/v1/universes/SPX/members?date=2020-01-03&source=weekly",
	} {
		var body ErrorResponse
		if code := ts.get(t, path, &body); code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, code)
		}
		if body.Error == "" || body.RequestID == "" {
			t.Errorf("GET %s: incomplete error body %+v", path, body)
		}
	}
}

func TestQueryHandler_History(t *testing.T) {
	ts := newTestServer(t)

	var hist query.History
	if code := ts.get(t, "/v1/universes/SPX/entities/Y", &hist); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(hist.Intervals) != 1 || !hist.Intervals[0].IsOpen() {
		t.Errorf("unexpected history %+v", hist)
	}

	if code := ts.get(t, "/v1/universes/SPX/entities/Z", &hist); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(hist.Intervals) != 0 {
		t.Errorf("unknown entity should have empty history, got %+v", hist.Intervals)
	}
}

func TestQueryHandler_Builds(t *testing.T) {
	ts := newTestServer(t)

	var resp BuildsResponse
	if code := ts.get(t, "/v1/universes/SPX/builds?limit=5", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Builds) != 1 || resp.Builds[0].BuildID != "b1" || resp.Builds[0].Summary.DailyRowCount != 3 {
		t.Errorf("unexpected builds %+v", resp)
	}

	if code := ts.get(t, "/v1/universes/SPX/builds?limit=zero", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", code)
	}
}

func TestQueryHandler_UnknownUniverse(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/v1/universes/NDX/members?date=2020-01-03",
		"/v1/universes/NDX/entities/X",
		"/v1/universes/NDX/builds",
	} {
		if code := ts.get(t, path, nil); code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, code)
		}
	}
}

func TestQueryHandler_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	var health HealthResponse
	if code := ts.get(t, "/health", &health); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if health.Status != "ok" || len(health.Universes) != 1 {
		t.Errorf("unexpected health %+v", health)
	}

	ts.get(t, "/v1/universes/SPX/members?date=2020-01-03", nil)
	resp, err := http.Get(ts.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "meridian_query_duration_seconds") {
		t.Error("/metrics should expose query durations")
	}

	ts.catalog.Close()
	if code := ts.get(t, "/health", &health); code != http.StatusServiceUnavailable {
		t.Errorf("health with closed manifest status = %d, want 503", code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: NDX", query.ErrUnknownUniverse), http.StatusNotFound},
		{merrors.NewInputError(merrors.CodeCalendarGap, "gap", nil), http.StatusBadRequest},
		{merrors.NewStorageError(merrors.CodeDownloadFailed, "down", nil), http.StatusServiceUnavailable},
		{merrors.NewStorageError(merrors.CodeObjectNotFound, "gone", nil), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

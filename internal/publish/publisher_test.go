package publish

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/partition"
	"github.com/meridianidx/meridian/internal/storage"
	"github.com/meridianidx/meridian/pkg/types"
)

type env struct {
	catalog *manifest.SQLiteCatalog
	store   *storage.LocalStorage
	writer  *partition.Writer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	catalog, err := manifest.NewCatalog(filepath.Join(dir, "manifest.db"))
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	store, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return &env{catalog: catalog, store: store, writer: partition.NewWriter(filepath.Join(dir, "staging"))}
}

func (e *env) stage(t *testing.T, universe, buildID, parent string) *Request {
	t.Helper()
	ctx := context.Background()
	d := types.MustParseDate
	intervals := []types.MembershipInterval{
		{EntityID: "X", Universe: universe, StartDate: d("2020-01-02"), EndDate: d("2020-01-03")},
	}
	daily := []types.DailyMembershipRecord{
		{Date: d("2020-01-02"), EntityID: "X", Universe: universe},
		{Date: d("2020-01-03"), EntityID: "X", Universe: universe},
	}
	di, err := e.writer.WriteDaily(ctx, universe, buildID, daily)
	if err != nil {
		t.Fatalf("WriteDaily failed: %v", err)
	}
	ii, err := e.writer.WriteIntervals(ctx, universe, buildID, intervals)
	if err != nil {
		t.Fatalf("WriteIntervals failed: %v", err)
	}
	return &Request{
		Build: &manifest.BuildRecord{
			BuildID:           buildID,
			ParentBuildID:     parent,
			Universe:          universe,
			Mode:              types.ModeRebuild,
			Watermark:         d("2020-01-03"),
			DailyChecksum:     di.Checksum,
			IntervalsChecksum: ii.Checksum,
			CreatedAt:         time.Now(),
		},
		Daily:     di,
		Intervals: ii,
	}
}

// failingStorage rejects uploads whose object path contains failOn.
type failingStorage struct {
	*storage.LocalStorage
	failOn string
}

func (f *failingStorage) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	if strings.Contains(objectPath, f.failOn) {
		return "", storage.ErrUploadFailed
	}
	return f.LocalStorage.Upload(ctx, localPath, objectPath)
}

func TestPublisher_PublishAndSupersede(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := NewPublisher(e.catalog, e.store, nil)

	if err := p.Publish(ctx, e.stage(t, "SPX", "b1", "")); err != nil {
		t.Fatalf("Publish b1 failed: %v", err)
	}
	if err := p.Publish(ctx, e.stage(t, "SPX", "b2", "b1")); err != nil {
		t.Fatalf("Publish b2 failed: %v", err)
	}

	active, err := e.catalog.ActiveArtifacts(ctx, "SPX")
	if err != nil {
		t.Fatalf("ActiveArtifacts failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active artifacts, got %d", len(active))
	}
	for _, a := range active {
		if a.BuildID != "b2" {
			t.Errorf("active artifact %s should belong to b2", a.ArtifactID)
		}
		if a.ETag == "" || a.EntityBloom == nil {
			t.Errorf("artifact %s missing etag or bloom", a.ArtifactID)
		}
		for _, obj := range []string{a.ObjectPath, a.MetaPath} {
			ok, err := e.store.Exists(ctx, obj)
			if err != nil || !ok {
				t.Errorf("object %s should exist", obj)
			}
		}
	}
	if !active[1].MayContain("X") {
		t.Error("intervals bloom should contain X")
	}

	intents, _ := e.catalog.FindPublishIntents(ctx)
	if len(intents) != 0 {
		t.Errorf("expected no intents after publish, got %d", len(intents))
	}
}

func TestPublisher_UploadFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := NewPublisher(e.catalog, e.store, nil).Publish(ctx, e.stage(t, "SPX", "b1", "")); err != nil {
		t.Fatalf("Publish b1 failed: %v", err)
	}

	failing := &failingStorage{LocalStorage: e.store, failOn: "intervals.sqlite"}
	err := NewPublisher(e.catalog, failing, nil).Publish(ctx, e.stage(t, "SPX", "b2", "b1"))
	if err == nil {
		t.Fatal("expected publish to fail")
	}
	if merrors.GetCode(err) != merrors.CodeUploadFailed {
		t.Errorf("expected UPLOAD_FAILED, got %v", err)
	}
	if !errors.Is(err, storage.ErrUploadFailed) {
		t.Errorf("error should wrap storage.ErrUploadFailed: %v", err)
	}

	latest, err := e.catalog.LatestBuild(ctx, "SPX")
	if err != nil || latest.BuildID != "b1" {
		t.Fatalf("b1 should remain current, got %+v, %v", latest, err)
	}
	objects, err := e.store.ListObjects(ctx, storage.BuildPrefix("SPX", "b2"))
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("staged objects of b2 should be removed, found %v", objects)
	}
	intents, _ := e.catalog.FindPublishIntents(ctx)
	if len(intents) != 0 {
		t.Errorf("intent should be removed on rollback, got %d", len(intents))
	}
}

func TestPublisher_WriteConflictRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := NewPublisher(e.catalog, e.store, nil)

	if err := p.Publish(ctx, e.stage(t, "SPX", "b1", "")); err != nil {
		t.Fatalf("Publish b1 failed: %v", err)
	}
	// b2 started before b1 committed.
	err := p.Publish(ctx, e.stage(t, "SPX", "b2", ""))
	if merrors.GetCode(err) != merrors.CodeWriteConflict {
		t.Fatalf("expected WRITE_CONFLICT, got %v", err)
	}
	if !merrors.IsRetryable(err) {
		t.Error("write conflict should be retryable")
	}
	objects, _ := e.store.ListObjects(ctx, storage.BuildPrefix("SPX", "b2"))
	if len(objects) != 0 {
		t.Errorf("conflicting build's objects should be removed, found %v", objects)
	}
}

func TestPublisher_RecoverStaleIntent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := NewPublisher(e.catalog, e.store, nil)

	// Simulate a crash after upload, before commit.
	req := e.stage(t, "SPX", "b1", "")
	objectPath := storage.ArtifactObjectPath("SPX", "b1", req.Daily.FileName())
	if _, err := e.store.Upload(ctx, req.Daily.SQLitePath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := e.catalog.WritePublishIntent(ctx, &manifest.PublishIntent{
		BuildID: "b1", Universe: "SPX", ObjectPaths: []string{objectPath}, CreatedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("WritePublishIntent failed: %v", err)
	}

	n, err := p.Recover(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d intents, want 1", n)
	}
	if ok, _ := e.store.Exists(ctx, objectPath); ok {
		t.Error("staged object should be deleted by recovery")
	}
	if _, err := e.catalog.LatestBuild(ctx, "SPX"); !errors.Is(err, manifest.ErrBuildNotFound) {
		t.Errorf("no build should be visible, got %v", err)
	}
}

func TestPublisher_RecoverSkipsFreshIntent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.catalog.WritePublishIntent(ctx, &manifest.PublishIntent{
		BuildID: "b1", Universe: "SPX", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("WritePublishIntent failed: %v", err)
	}
	n, err := NewPublisher(e.catalog, e.store, nil).Recover(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("Recover = %d, %v; want 0, nil", n, err)
	}
}

func TestGarbageCollector_Collect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := NewPublisher(e.catalog, e.store, nil)

	if err := p.Publish(ctx, e.stage(t, "SPX", "b1", "")); err != nil {
		t.Fatalf("Publish b1 failed: %v", err)
	}
	if err := p.Publish(ctx, e.stage(t, "SPX", "b2", "b1")); err != nil {
		t.Fatalf("Publish b2 failed: %v", err)
	}

	result, err := NewGarbageCollector(e.catalog, e.store, nil, time.Hour).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(result.DeletedArtifacts) != 0 {
		t.Errorf("nothing is past an hour TTL, deleted %v", result.DeletedArtifacts)
	}

	result, err = NewGarbageCollector(e.catalog, e.store, nil, time.Nanosecond).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(result.DeletedArtifacts) != 2 || len(result.DeletedObjects) != 4 {
		t.Errorf("expected 2 artifacts and 4 objects deleted, got %+v", result)
	}
	objects, _ := e.store.ListObjects(ctx, storage.BuildPrefix("SPX", "b1"))
	if len(objects) != 0 {
		t.Errorf("b1 objects should be gone, found %v", objects)
	}
	objects, _ = e.store.ListObjects(ctx, storage.BuildPrefix("SPX", "b2"))
	if len(objects) != 4 {
		t.Errorf("b2 objects must survive GC, found %v", objects)
	}

	report, err := manifest.Reconcile(ctx, e.catalog, e.store, "builds")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.HasIssues() {
		t.Errorf("GC left the manifest inconsistent: %+v", report)
	}
}

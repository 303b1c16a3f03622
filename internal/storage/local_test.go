package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return p
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	src := writeTemp(t, "daily.sqlite", "hello world")
	objectPath := ArtifactObjectPath("SPX", "build-1", "daily.sqlite")
	if objectPath != "builds/SPX/build-1/daily.sqlite" {
		t.Errorf("unexpected object path %s", objectPath)
	}

	etag, err := store.Upload(ctx, src, objectPath)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	// md5("hello world")
	if etag != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("unexpected etag %s", etag)
	}

	exists, err := store.Exists(ctx, objectPath)
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v", exists, err)
	}

	dst := filepath.Join(t.TempDir(), "nested", "out.sqlite")
	if err := store.Download(ctx, objectPath, dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "hello world" {
		t.Errorf("content mismatch: %q, %v", got, err)
	}

	if err := store.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, objectPath); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
	if err := store.Download(ctx, objectPath, dst); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "f", "x")

	for _, p := range []string{
		"builds/SPX/b2/intervals.sqlite",
		"builds/SPX/b1/daily.sqlite",
		"builds/NDX/b3/daily.sqlite",
	} {
		if _, err := store.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s failed: %v", p, err)
		}
	}

	objs, err := store.ListObjects(ctx, "builds/SPX")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objs) != 2 || objs[0] != "builds/SPX/b1/daily.sqlite" {
		t.Errorf("unexpected listing %v", objs)
	}

	none, err := store.ListObjects(ctx, "builds/DAX")
	if err != nil || len(none) != 0 {
		t.Errorf("missing prefix should list nothing, got %v, %v", none, err)
	}
}

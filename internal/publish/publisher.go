// Package publish makes staged artifacts visible to readers. A publish
// records an intent, uploads the daily and intervals artifacts with their
// sidecars, then swaps the universe's active artifacts in one manifest
// transaction. Any failure before the swap removes the staged objects.
package publish

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/observability"
	"github.com/meridianidx/meridian/internal/partition"
	"github.com/meridianidx/meridian/internal/storage"
)

// DefaultUploadConcurrency bounds parallel object uploads per publish.
const DefaultUploadConcurrency = 4

// Publisher uploads staged builds and swaps them into the manifest.
type Publisher struct {
	catalog     manifest.Catalog
	storage     storage.ObjectStorage
	metrics     *observability.Metrics
	concurrency int
}

// NewPublisher creates a publisher. metrics may be nil.
func NewPublisher(catalog manifest.Catalog, store storage.ObjectStorage, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		catalog:     catalog,
		storage:     store,
		metrics:     metrics,
		concurrency: DefaultUploadConcurrency,
	}
}

// Request is one staged build ready for publishing.
type Request struct {
	Build     *manifest.BuildRecord
	Daily     *partition.ArtifactInfo
	Intervals *partition.ArtifactInfo
}

type upload struct {
	localPath  string
	objectPath string
}

type stagedArtifact struct {
	info       *partition.ArtifactInfo
	data, meta upload
}

func stage(info *partition.ArtifactInfo) stagedArtifact {
	return stagedArtifact{
		info: info,
		data: upload{info.SQLitePath, storage.ArtifactObjectPath(info.Universe, info.BuildID, info.FileName())},
		meta: upload{info.MetadataPath, storage.ArtifactObjectPath(info.Universe, info.BuildID, string(info.Kind)+".meta.json")},
	}
}

// Publish uploads the request's artifacts and commits them. On success the
// previous active artifacts of the universe are superseded. On failure the
// manifest is unchanged and staged objects are removed.
func (p *Publisher) Publish(ctx context.Context, req *Request) (err error) {
	start := time.Now()
	build := req.Build
	rolledBack := false
	defer func() {
		p.metrics.RecordPublish(build.Universe, time.Since(start), rolledBack)
	}()

	if req.Daily == nil || req.Intervals == nil {
		return merrors.NewInternalError("publish: request needs both daily and intervals artifacts", nil)
	}
	artifacts := []stagedArtifact{stage(req.Daily), stage(req.Intervals)}
	for _, a := range artifacts {
		if a.info.BuildID != build.BuildID || a.info.Universe != build.Universe {
			return merrors.NewInternalError(
				fmt.Sprintf("publish: artifact %s/%s does not belong to build %s/%s",
					a.info.Universe, a.info.BuildID, build.Universe, build.BuildID), nil)
		}
	}

	var uploads []upload
	for _, a := range artifacts {
		uploads = append(uploads, a.data, a.meta)
	}
	intent := &manifest.PublishIntent{
		BuildID:   build.BuildID,
		Universe:  build.Universe,
		CreatedAt: time.Now(),
	}
	for _, u := range uploads {
		intent.ObjectPaths = append(intent.ObjectPaths, u.objectPath)
	}

	// Phase 1: record the intent before anything reaches storage.
	if err := p.catalog.WritePublishIntent(ctx, intent); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			rolledBack = true
			p.rollback(intent, err)
		}
	}()

	etags, err := p.uploadAll(ctx, uploads)
	if err != nil {
		return err
	}

	records := make([]*manifest.ArtifactRecord, 0, len(artifacts))
	for _, a := range artifacts {
		sidecar, err := partition.ReadSidecarFile(a.info.MetadataPath)
		if err != nil {
			return merrors.NewInternalError("publish: failed to read staged sidecar", err)
		}
		records = append(records, manifest.NewArtifactRecord(a.info, a.data.objectPath, a.meta.objectPath,
			etags[a.data.objectPath], sidecar.EntityBloom))
	}

	// Phase 2: swap in one transaction.
	if err := p.catalog.CommitPublish(ctx, build, records); err != nil {
		return err
	}

	log.Printf("publish: committed build=%s universe=%s objects=%d", build.BuildID, build.Universe, len(uploads))
	return nil
}

func (p *Publisher) uploadAll(ctx context.Context, uploads []upload) (map[string]string, error) {
	var mu sync.Mutex
	etags := make(map[string]string, len(uploads))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, u := range uploads {
		g.Go(func() error {
			etag, err := p.storage.Upload(gCtx, u.localPath, u.objectPath)
			if err != nil {
				return merrors.NewStorageError(merrors.CodeUploadFailed,
					fmt.Sprintf("publish: failed to upload %s", u.objectPath), err)
			}
			mu.Lock()
			etags[u.objectPath] = etag
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return etags, nil
}

// rollback removes staged objects and the intent. It runs detached from the
// caller's context so a cancelled build still cleans up.
func (p *Publisher) rollback(intent *manifest.PublishIntent, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Printf("publish: [WARN] rolling back build=%s universe=%s: %v", intent.BuildID, intent.Universe, cause)
	if err := p.discard(ctx, intent); err != nil {
		log.Printf("publish: [WARN] rollback of build=%s incomplete, intent kept for recovery: %v", intent.BuildID, err)
	}
}

// discard deletes an intent's objects, then the intent itself. The intent is
// kept when any delete fails so Recover can retry.
func (p *Publisher) discard(ctx context.Context, intent *manifest.PublishIntent) error {
	for _, objectPath := range intent.ObjectPaths {
		if err := p.storage.Delete(ctx, objectPath); err != nil {
			return fmt.Errorf("failed to delete %s: %w", objectPath, err)
		}
	}
	return p.catalog.DeletePublishIntent(ctx, intent.BuildID)
}

// Recover rolls back intents older than minAge left behind by a crashed
// publish and returns how many were removed. A committed build never has an
// intent, so every intent found here is incomplete.
func (p *Publisher) Recover(ctx context.Context, minAge time.Duration) (int, error) {
	intents, err := p.catalog.FindPublishIntents(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-minAge)
	recovered := 0
	for _, intent := range intents {
		if intent.CreatedAt.After(cutoff) {
			continue
		}
		if err := p.discard(ctx, intent); err != nil {
			return recovered, fmt.Errorf("publish: failed to recover build %s: %w", intent.BuildID, err)
		}
		log.Printf("publish: recovered stale intent build=%s universe=%s", intent.BuildID, intent.Universe)
		recovered++
	}
	return recovered, nil
}

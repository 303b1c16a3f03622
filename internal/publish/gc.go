package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/observability"
	"github.com/meridianidx/meridian/internal/storage"
)

// DefaultGCTTL is how long superseded artifacts are kept for in-flight readers.
const DefaultGCTTL = 7 * 24 * time.Hour

// GarbageCollector removes superseded artifacts after the TTL has elapsed.
type GarbageCollector struct {
	catalog manifest.Catalog
	storage storage.ObjectStorage
	metrics *observability.Metrics
	ttl     time.Duration
}

// NewGarbageCollector creates a new garbage collector. A non-positive ttl
// selects DefaultGCTTL.
func NewGarbageCollector(catalog manifest.Catalog, store storage.ObjectStorage, metrics *observability.Metrics, ttl time.Duration) *GarbageCollector {
	if ttl <= 0 {
		ttl = DefaultGCTTL
	}
	return &GarbageCollector{
		catalog: catalog,
		storage: store,
		metrics: metrics,
		ttl:     ttl,
	}
}

// GCResult holds the outcome of a garbage collection run.
type GCResult struct {
	DeletedArtifacts []string
	DeletedObjects   []string
	Errors           []string
}

// Collect deletes expired superseded artifacts. Objects are removed from
// storage first; an artifact's manifest row is removed only once both of its
// objects are gone, so a failed run can be retried.
func (gc *GarbageCollector) Collect(ctx context.Context) (*GCResult, error) {
	expired, err := gc.catalog.FindSuperseded(ctx, gc.ttl)
	if err != nil {
		return nil, fmt.Errorf("publish/gc: failed to find superseded artifacts: %w", err)
	}

	result := &GCResult{}
	var deletable []string
	for _, a := range expired {
		ok := true
		for _, objectPath := range []string{a.ObjectPath, a.MetaPath} {
			if err := gc.storage.Delete(ctx, objectPath); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", objectPath, err))
				ok = false
				continue
			}
			result.DeletedObjects = append(result.DeletedObjects, objectPath)
		}
		if ok {
			deletable = append(deletable, a.ArtifactID)
		}
	}

	if err := gc.catalog.DeleteArtifacts(ctx, deletable); err != nil {
		return result, fmt.Errorf("publish/gc: failed to delete manifest rows: %w", err)
	}
	result.DeletedArtifacts = deletable
	gc.metrics.RecordGC(len(result.DeletedObjects))

	if len(result.DeletedArtifacts) > 0 {
		log.Printf("publish/gc: deleted %d superseded artifacts (%d objects)", len(result.DeletedArtifacts), len(result.DeletedObjects))
	}
	if len(result.Errors) > 0 {
		log.Printf("publish/gc: [WARN] encountered %d errors during GC", len(result.Errors))
	}
	return result, nil
}

// TTL returns the configured retention for superseded artifacts.
func (gc *GarbageCollector) TTL() time.Duration {
	return gc.ttl
}

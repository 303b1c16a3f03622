package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianidx/meridian/internal/storage"
)

// ReconciliationReport contains the results of a manifest-storage reconciliation.
type ReconciliationReport struct {
	// DanglingEntries are manifest records whose objects do not exist in storage.
	DanglingEntries []DanglingEntry
	// OrphanedObjects are storage objects with no manifest record and no
	// pending publish intent.
	OrphanedObjects []string
	// PendingObjects are objects named by an unfinished publish intent.
	PendingObjects []string
	// TotalManifestEntries is the number of artifacts checked.
	TotalManifestEntries int
	// TotalStorageObjects is the number of storage objects scanned.
	TotalStorageObjects int
	RunAt               time.Time
}

// DanglingEntry is a manifest record pointing to a missing storage object.
type DanglingEntry struct {
	ArtifactID string
	ObjectPath string
	// Active is true when readers are currently routed to the missing object.
	Active bool
}

// HasIssues returns true if the report contains any dangling entries or orphaned objects.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.DanglingEntries) > 0 || len(r.OrphanedObjects) > 0
}

// Reconcile checks consistency between the manifest catalog and object
// storage under storagePrefix. It reports artifacts whose data or sidecar
// object is missing and objects that nothing references.
func Reconcile(ctx context.Context, catalog Catalog, store storage.ObjectStorage, storagePrefix string) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		RunAt: time.Now(),
	}

	artifacts, err := catalog.AllArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list manifest artifacts: %w", err)
	}
	report.TotalManifestEntries = len(artifacts)

	tracked := make(map[string]bool)
	for _, a := range artifacts {
		tracked[a.ObjectPath] = true
		tracked[a.MetaPath] = true
	}

	for _, a := range artifacts {
		for _, p := range []string{a.ObjectPath, a.MetaPath} {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			exists, err := store.Exists(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("reconciliation: failed to check object %s: %w", p, err)
			}
			if !exists {
				report.DanglingEntries = append(report.DanglingEntries, DanglingEntry{
					ArtifactID: a.ArtifactID,
					ObjectPath: p,
					Active:     a.SupersededBy == nil,
				})
			}
		}
	}

	intents, err := catalog.FindPublishIntents(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list publish intents: %w", err)
	}
	pending := make(map[string]bool)
	for _, intent := range intents {
		for _, p := range intent.ObjectPaths {
			pending[p] = true
		}
	}

	objects, err := store.ListObjects(ctx, storagePrefix)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list storage objects: %w", err)
	}
	report.TotalStorageObjects = len(objects)

	for _, objPath := range objects {
		switch {
		case tracked[objPath]:
		case pending[objPath]:
			report.PendingObjects = append(report.PendingObjects, objPath)
		default:
			report.OrphanedObjects = append(report.OrphanedObjects, objPath)
		}
	}

	return report, nil
}

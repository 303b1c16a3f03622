package manifest

import (
	"context"

	"github.com/meridianidx/meridian/internal/partition"
	"github.com/meridianidx/meridian/pkg/types"
)

// CatalogReader is the read-only interface used by the query layer and the
// HTTP API.
type CatalogReader interface {
	// ActiveArtifacts returns the universe's current artifacts.
	ActiveArtifacts(ctx context.Context, universe string) ([]*ArtifactRecord, error)

	// ActiveArtifact returns the universe's current artifact of one kind.
	ActiveArtifact(ctx context.Context, universe string, kind partition.ArtifactKind) (*ArtifactRecord, error)

	// LatestBuild returns the universe's current build or ErrBuildNotFound.
	LatestBuild(ctx context.Context, universe string) (*BuildRecord, error)

	// GetBuild returns one build by ID.
	GetBuild(ctx context.Context, buildID string) (*BuildRecord, error)

	// ListBuilds returns builds of a universe, newest first.
	ListBuilds(ctx context.Context, universe string, limit int) ([]*BuildRecord, error)

	// BuildAnomalies returns the anomalies recorded for a build.
	BuildAnomalies(ctx context.Context, buildID string) ([]types.Anomaly, error)

	// Universes returns every universe with at least one build.
	Universes(ctx context.Context) ([]string, error)
}

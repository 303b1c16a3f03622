// Package storage provides the object storage backends that hold published
// artifacts.
package storage

import (
	"context"
	"errors"
	"path"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the blob store behind published artifacts.
// Object paths always use forward slashes.
type ObjectStorage interface {
	// Upload copies a local file to objectPath and returns its ETag.
	Upload(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies objectPath to localPath. A missing object yields
	// ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether objectPath is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// BuildsRoot is the object prefix under which all builds are published.
const BuildsRoot = "builds"

// BuildPrefix is the object prefix of every artifact of one build.
func BuildPrefix(universe, buildID string) string {
	return path.Join(BuildsRoot, universe, buildID)
}

// ArtifactObjectPath returns the object path of a file inside a build.
func ArtifactObjectPath(universe, buildID, fileName string) string {
	return path.Join(BuildPrefix(universe, buildID), fileName)
}

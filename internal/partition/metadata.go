package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meridianidx/meridian/internal/bloom"
	"github.com/meridianidx/meridian/pkg/types"
)

// DefaultBloomFPR is the target false positive rate of sidecar entity filters.
const DefaultBloomFPR = 0.01

// Sidecar is the .meta.json file published next to every artifact.
type Sidecar struct {
	BuildID     string         `json:"build_id"`
	Universe    string         `json:"universe"`
	Kind        ArtifactKind   `json:"kind"`
	RowCount    int64          `json:"row_count"`
	EntityCount int            `json:"entity_count"`
	SizeBytes   int64          `json:"size_bytes"`
	MinDate     types.Date     `json:"min_date"`
	MaxDate     types.Date     `json:"max_date"`
	Checksum    string         `json:"checksum"`
	EntityBloom *bloom.Encoded `json:"entity_bloom,omitempty"`
	CreatedAt   int64          `json:"created_at"`
}

// NewSidecar builds the sidecar for info with the given entity filter.
func NewSidecar(info *ArtifactInfo, filter *bloom.EntityFilter) *Sidecar {
	s := &Sidecar{
		BuildID:     info.BuildID,
		Universe:    info.Universe,
		Kind:        info.Kind,
		RowCount:    info.RowCount,
		EntityCount: info.EntityCount,
		SizeBytes:   info.SizeBytes,
		MinDate:     info.MinDate,
		MaxDate:     info.MaxDate,
		Checksum:    info.Checksum,
		CreatedAt:   info.CreatedAt.Unix(),
	}
	if filter != nil {
		s.EntityBloom = filter.Encode()
	}
	return s
}

// Filter decodes the entity bloom filter. A sidecar without one yields nil.
func (s *Sidecar) Filter() (*bloom.EntityFilter, error) {
	if s.EntityBloom == nil {
		return nil, nil
	}
	return bloom.Decode(s.EntityBloom)
}

// MayContain reports whether the artifact can hold rows for entityID. It
// answers true when the filter is missing or unreadable.
func (s *Sidecar) MayContain(entityID string) bool {
	f, err := s.Filter()
	if err != nil || f == nil {
		return true
	}
	return f.MayContain(entityID)
}

// WriteToFile writes the sidecar as indented JSON.
func (s *Sidecar) WriteToFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("metadata: failed to write sidecar file: %w", err)
	}
	return nil
}

// ReadSidecarFile reads a sidecar from disk.
func ReadSidecarFile(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to read sidecar file: %w", err)
	}
	return SidecarFromJSON(data)
}

// SidecarFromJSON parses sidecar JSON.
func SidecarFromJSON(data []byte) (*Sidecar, error) {
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("metadata: failed to unmarshal sidecar: %w", err)
	}
	return &s, nil
}

// SidecarPath returns the sidecar path for an artifact file.
func SidecarPath(sqlitePath string) string {
	dir := filepath.Dir(sqlitePath)
	name := strings.TrimSuffix(filepath.Base(sqlitePath), filepath.Ext(sqlitePath))
	return filepath.Join(dir, name+".meta.json")
}

// CreatedAtTime returns the creation time.
func (s *Sidecar) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

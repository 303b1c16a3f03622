package partition

import (
	"context"
	"fmt"

	merrors "github.com/meridianidx/meridian/internal/errors"
)

// VerifyArtifact re-reads an artifact and checks its row count and content
// checksum against the sidecar. A mismatch is a CORRUPTION_DETECTED error.
func VerifyArtifact(ctx context.Context, sqlitePath string, sidecar *Sidecar) error {
	var (
		count    int64
		checksum string
	)

	switch sidecar.Kind {
	case KindDaily:
		rows, err := ReadDaily(ctx, sqlitePath)
		if err != nil {
			return err
		}
		count, checksum = int64(len(rows)), ChecksumDaily(rows)
	case KindIntervals:
		intervals, err := ReadIntervals(ctx, sqlitePath)
		if err != nil {
			return err
		}
		count, checksum = int64(len(intervals)), ChecksumIntervals(intervals)
	default:
		return fmt.Errorf("partition: unknown artifact kind %q", sidecar.Kind)
	}

	if count != sidecar.RowCount {
		return merrors.NewManifestError(merrors.CodeCorruptionDetected,
			fmt.Sprintf("partition: %s artifact of build %s has %d rows, sidecar says %d",
				sidecar.Kind, sidecar.BuildID, count, sidecar.RowCount), nil)
	}
	if checksum != sidecar.Checksum {
		return merrors.NewManifestError(merrors.CodeCorruptionDetected,
			fmt.Sprintf("partition: %s artifact of build %s checksum mismatch", sidecar.Kind, sidecar.BuildID), nil)
	}
	return nil
}

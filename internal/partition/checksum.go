package partition

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/meridianidx/meridian/pkg/types"
)

const fieldSep, rowSep = 0x1f, '\n'

// ChecksumDaily returns the hex sha256 of rows in (universe, date, entity)
// order. The input order does not matter.
func ChecksumDaily(rows []types.DailyMembershipRecord) string {
	sorted := make([]types.DailyMembershipRecord, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Universe != b.Universe {
			return a.Universe < b.Universe
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.EntityID < b.EntityID
	})

	h := sha256.New()
	for _, r := range sorted {
		writeFields(h, r.Universe, r.Date.String(), r.EntityID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ChecksumIntervals returns the hex sha256 of intervals in (universe, entity,
// start) order. Open ends hash as an empty field.
func ChecksumIntervals(intervals []types.MembershipInterval) string {
	sorted := make([]types.MembershipInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Universe != b.Universe {
			return a.Universe < b.Universe
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.StartDate < b.StartDate
	})

	h := sha256.New()
	for _, iv := range sorted {
		end := ""
		if !iv.IsOpen() {
			end = iv.EndDate.String()
		}
		writeFields(h, iv.Universe, iv.EntityID, iv.StartDate.String(), end)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeFields(h interface{ Write([]byte) (int, error) }, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{fieldSep})
		}
		h.Write([]byte(f))
	}
	h.Write([]byte{rowSep})
}

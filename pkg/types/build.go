package types

import "fmt"

// BuildMode distinguishes a full rebuild from an incremental update.
type BuildMode string

const (
	ModeRebuild BuildMode = "rebuild"
	ModeUpdate  BuildMode = "update"
)

// BuildSummary is returned by every successful build.
type BuildSummary struct {
	BuildID        string    `json:"build_id"`
	Universe       string    `json:"universe"`
	Mode           BuildMode `json:"mode"`
	FirstDate      Date      `json:"first_date"`
	LastDate       Date      `json:"last_date"`
	UniqueEntities int       `json:"unique_entities"`
	IntervalCount  int       `json:"interval_count"`
	DailyRowCount  int       `json:"daily_row_count"`
	AnomalyCount   int       `json:"anomaly_count"`
	// EventCount is the number of events consumed by this build (new events only for updates).
	EventCount int `json:"event_count"`
	// Watermark is the latest event date incorporated into the published state.
	Watermark Date `json:"watermark"`
	// SourceRows is the number of source rows consumed so far. Updates resume
	// at this row.
	SourceRows int `json:"source_rows"`
	// MinDate is the earliest event date replayed by the rebuild this build
	// descends from. Updates inherit it.
	MinDate Date `json:"min_date"`
}

func (s BuildSummary) String() string {
	return fmt.Sprintf("universe=%s mode=%s first=%s last=%s entities=%d intervals=%d daily_rows=%d anomalies=%d",
		s.Universe, s.Mode, s.FirstDate, s.LastDate, s.UniqueEntities, s.IntervalCount, s.DailyRowCount, s.AnomalyCount)
}

// AnomalyKind classifies an event that is inconsistent with the current state.
type AnomalyKind string

const (
	// AnomalyDuplicateAdd is an Add for an entity that is already a member.
	AnomalyDuplicateAdd AnomalyKind = "duplicate_add"
	// AnomalyOrphanRemove is a Remove for an entity that is not a member.
	AnomalyOrphanRemove AnomalyKind = "orphan_remove"
	// AnomalyEmptyInterval is an Add/Remove pair that spans no trading day.
	AnomalyEmptyInterval AnomalyKind = "empty_interval"
	// AnomalyMalformedRow is a source row that failed parsing or validation.
	AnomalyMalformedRow AnomalyKind = "malformed_row"
)

// Anomaly records one rejected or suspicious event. Anomalies never abort a
// build on their own.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Date     Date        `json:"date"`
	EntityID string      `json:"entity_id"`
	Action   Action      `json:"action"`
	Seq      int         `json:"seq"`
	Message  string      `json:"message"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s: entity=%s date=%s: %s", a.Kind, a.EntityID, a.Date, a.Message)
}

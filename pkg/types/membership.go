package types

import (
	"fmt"
	"strings"
)

// Action is the kind of a membership change event.
type Action uint8

const (
	// ActionRemove removes an entity from the universe.
	ActionRemove Action = iota + 1
	// ActionAdd adds an entity to the universe.
	ActionAdd
)

// String returns the lowercase wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// ParseAction parses "add" or "remove" (case-insensitive).
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add":
		return ActionAdd, nil
	case "remove":
		return ActionRemove, nil
	default:
		return 0, fmt.Errorf("types: unknown action %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MembershipEvent is one normalized (date, entity, action) triple.
type MembershipEvent struct {
	Date     Date   `json:"date"`
	EntityID string `json:"entity_id"`
	Action   Action `json:"action"`
	// Seq is the position of the source row, kept for diagnostics only.
	Seq int `json:"seq"`
}

func (e MembershipEvent) String() string {
	return fmt.Sprintf("%s %s %s", e.Date, e.Action, e.EntityID)
}

// MembershipInterval is a contiguous span of membership. EndDate is inclusive
// (last day as a member) or OpenEnd.
type MembershipInterval struct {
	EntityID  string `json:"entity_id"`
	Universe  string `json:"universe"`
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
}

// IsOpen reports whether the entity is still a member as of the last processed date.
func (iv MembershipInterval) IsOpen() bool {
	return iv.EndDate.IsOpen()
}

// EffectiveEnd resolves an open end to lastKnown.
func (iv MembershipInterval) EffectiveEnd(lastKnown Date) Date {
	if iv.IsOpen() {
		return lastKnown
	}
	return iv.EndDate
}

// Contains reports whether d falls inside the interval.
func (iv MembershipInterval) Contains(d Date) bool {
	return d >= iv.StartDate && d <= iv.EndDate
}

func (iv MembershipInterval) String() string {
	return fmt.Sprintf("%s[%s..%s]", iv.EntityID, iv.StartDate, iv.EndDate)
}

// DailyMembershipRecord is one member on one trading date.
type DailyMembershipRecord struct {
	Date     Date   `json:"date"`
	EntityID string `json:"entity_id"`
	Universe string `json:"universe"`
}

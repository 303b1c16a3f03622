package calendar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
	"gopkg.in/yaml.v3"
)

// Spec describes a calendar either as an explicit date list or as a weekday
// range with holidays. Explicit dates win when both are present.
type Spec struct {
	Dates    []string     `json:"dates,omitempty" yaml:"dates,omitempty"`
	Weekdays *WeekdaySpec `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
}

// WeekdaySpec is a Monday–Friday range minus holidays.
type WeekdaySpec struct {
	Start    string   `json:"start" yaml:"start"`
	End      string   `json:"end" yaml:"end"`
	Holidays []string `json:"holidays,omitempty" yaml:"holidays,omitempty"`
}

// Load reads a calendar file (YAML or JSON by extension).
func Load(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable,
			fmt.Sprintf("calendar: failed to read %s", path), err)
	}

	var spec Spec
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &spec)
	case ".json":
		err = json.Unmarshal(data, &spec)
	default:
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable,
			fmt.Sprintf("calendar: unsupported file format %q", ext), nil)
	}
	if err != nil {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable,
			fmt.Sprintf("calendar: failed to parse %s", path), err)
	}

	return FromSpec(spec)
}

// FromSpec builds a calendar from a parsed Spec.
func FromSpec(spec Spec) (*Calendar, error) {
	if len(spec.Dates) > 0 {
		dates, err := parseDates(spec.Dates)
		if err != nil {
			return nil, err
		}
		return New(dates)
	}

	if spec.Weekdays == nil {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable,
			"calendar: spec has neither dates nor weekdays", nil)
	}

	start, err := types.ParseDate(spec.Weekdays.Start)
	if err != nil {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable, "calendar: bad weekdays.start", err)
	}
	end, err := types.ParseDate(spec.Weekdays.End)
	if err != nil {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable, "calendar: bad weekdays.end", err)
	}
	holidays, err := parseDates(spec.Weekdays.Holidays)
	if err != nil {
		return nil, err
	}
	return Weekdays(start, end, holidays)
}

func parseDates(raw []string) ([]types.Date, error) {
	dates := make([]types.Date, 0, len(raw))
	for _, s := range raw {
		d, err := types.ParseDate(strings.TrimSpace(s))
		if err != nil {
			return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable, "calendar: bad date", err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// Package events loads raw index-change rows and turns them into an ordered
// stream of membership events.
package events

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	merrors "github.com/meridianidx/meridian/internal/errors"
)

// Row is one source row. A row may name several entities sharing one action.
type Row struct {
	Date      string   `json:"date" validate:"required,datetime=2006-01-02"`
	EntityIDs []string `json:"entity_ids" validate:"required,min=1,dive,required"`
	Action    string   `json:"action" validate:"required,oneof=add remove"`

	// Line is the 1-based position in the source, used in diagnostics.
	Line int `json:"-"`
}

// Source supplies the raw rows of one universe.
type Source interface {
	Load(ctx context.Context, universe string) ([]Row, error)
}

// FileSource reads rows from per-universe files. The format is chosen by
// extension: .csv, or .jsonl/.ndjson for JSON lines.
type FileSource struct {
	paths map[string]string
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a FileSource from a universe -> path map.
func NewFileSource(paths map[string]string) *FileSource {
	cp := make(map[string]string, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	return &FileSource{paths: cp}
}

// Load reads every row for universe.
func (s *FileSource) Load(ctx context.Context, universe string) ([]Row, error) {
	path, ok := s.paths[universe]
	if !ok {
		return nil, merrors.NewInputError(merrors.CodeSourceUnavailable,
			fmt.Sprintf("events: no source configured for universe %q", universe), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, merrors.NewInputError(merrors.CodeSourceUnavailable,
			fmt.Sprintf("events: failed to open %s", path), err)
	}
	defer f.Close()

	var rows []Row
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = ReadCSV(ctx, f)
	case ".jsonl", ".ndjson", ".json":
		rows, err = ReadJSONLines(ctx, f)
	default:
		return nil, merrors.NewInputError(merrors.CodeSourceUnavailable,
			fmt.Sprintf("events: unsupported source format %q", ext), nil)
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadCSV parses rows with a header naming date, entity_ids and action.
// entity_ids may hold several ids separated by ';' or '|'.
func ReadCSV(ctx context.Context, r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, merrors.NewInputError(merrors.CodeSourceUnavailable, "events: failed to read csv header", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"date", "entity_ids", "action"} {
		if _, ok := col[name]; !ok {
			return nil, merrors.NewInputError(merrors.CodeSourceUnavailable,
				fmt.Sprintf("events: csv header missing column %q", name), nil)
		}
	}

	field := func(rec []string, name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, merrors.NewInputError(merrors.CodeSourceUnavailable,
				fmt.Sprintf("events: csv read failed at line %d", line), err)
		}
		rows = append(rows, Row{
			Date:      field(rec, "date"),
			EntityIDs: splitIDs(field(rec, "entity_ids")),
			Action:    field(rec, "action"),
			Line:      line,
		})
	}
	return rows, nil
}

// ReadJSONLines parses one JSON object per line. Blank lines are skipped. A
// line that is not valid JSON yields a Row with only Line set so it is
// reported as malformed during normalization.
func ReadJSONLines(ctx context.Context, r io.Reader) ([]Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var rows []Row
	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			row = Row{}
		}
		row.Line = line
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, merrors.NewInputError(merrors.CodeSourceUnavailable, "events: failed to scan json lines", err)
	}
	return rows, nil
}

func splitIDs(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

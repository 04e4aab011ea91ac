// Package results renders a finished run: CSV and text reports, a JSON dump
// that the report command can reload, and a first-digit (Benford) summary of
// the resolved counts.
package results

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/census/api/schemas"
)

// Row is one line of a report.
type Row struct {
	Owner      string
	Handle     string
	Count      *int64
	FirstDigit int // 0 when there is no count
	Status     schemas.FetchStatus
}

// Rows flattens a summary in discovery order.
func Rows(s *schemas.RunSummary) []Row {
	order := s.OrderedHandles()
	rows := make([]Row, 0, len(order))
	for _, h := range order {
		res := s.Results[h]
		row := Row{Owner: s.Owner, Handle: h, Status: res.Status}
		if res.Resolved() {
			row.Count = res.Count
			row.FirstDigit, _ = FirstDigit(*res.Count)
		}
		rows = append(rows, row)
	}
	return rows
}

// FirstDigit returns the leading decimal digit of |n|. Zero has none.
func FirstDigit(n int64) (int, bool) {
	if n == 0 {
		return 0, false
	}
	u := uint64(n)
	if n < 0 {
		u = uint64(-(n + 1)) + 1
	}
	for u >= 10 {
		u /= 10
	}
	return int(u), true
}

// baseName is the file stem shared by every artifact of a run.
func baseName(s *schemas.RunSummary) string {
	return fmt.Sprintf("%s_%s_%s", s.Owner, s.Directory, s.StartedAt.Format("20060102_150405"))
}

// createFile creates dir if needed and opens name inside it for writing.
func createFile(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

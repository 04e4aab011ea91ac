package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
)

// CSVHeader is the column layout of the CSV report.
var CSVHeader = []string{"Username", "Username_Follower", "Num_Followers", "First_Digit"}

// WriteCSV writes one row per handle. Handles without a count leave the last
// two columns empty.
func WriteCSV(w io.Writer, s *schemas.RunSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range Rows(s) {
		count, digit := "", ""
		if r.Count != nil {
			count = strconv.FormatInt(*r.Count, 10)
			if r.FirstDigit > 0 {
				digit = strconv.Itoa(r.FirstDigit)
			}
		}
		if err := cw.Write([]string{r.Owner, r.Handle, count, digit}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVSink writes the CSV report into a directory.
type CSVSink struct {
	dir    string
	logger *zap.Logger
}

// NewCSVSink creates a sink writing into dir.
func NewCSVSink(dir string, logger *zap.Logger) *CSVSink {
	return &CSVSink{dir: dir, logger: logger.Named("csv_sink")}
}

func (c *CSVSink) Name() string { return "csv" }

func (c *CSVSink) Write(ctx context.Context, s *schemas.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := createFile(c.dir, baseName(s)+".csv")
	if err != nil {
		return err
	}
	if err := WriteCSV(f, s); err != nil {
		f.Close()
		return fmt.Errorf("failed to write CSV report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close CSV report: %w", err)
	}
	c.logger.Info("CSV report written", zap.String("path", f.Name()))
	return nil
}

package results

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
)

// WriteText renders the human-readable report: the per-handle table, run
// statistics and the first-digit summary.
func WriteText(w io.Writer, s *schemas.RunSummary) error {
	rows := Rows(s)

	header := fmt.Sprintf("%s of %s - run %s - %s\n\n",
		s.Directory, s.Owner, s.RunID, s.StartedAt.Format("2006-01-02 15:04:05"))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	sections := []string{
		renderHandles(rows),
		renderStats(s),
		RenderBenford(Benford(rows)),
	}
	for _, section := range sections {
		if _, err := io.WriteString(w, section+"\n\n"); err != nil {
			return err
		}
	}
	return nil
}

func renderHandles(rows []Row) string {
	t := table.NewWriter()
	t.SetTitle("Counts")
	t.AppendHeader(table.Row{"Username", "Follower", "Num Followers", "First Digit", "Status"})
	for _, r := range rows {
		count, digit := "N/A", "-"
		if r.Count != nil {
			count = humanize.Comma(*r.Count)
			if r.FirstDigit > 0 {
				digit = strconv.Itoa(r.FirstDigit)
			}
		}
		t.AppendRow(table.Row{r.Owner, r.Handle, count, digit, string(r.Status)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)
	return t.Render()
}

func renderStats(s *schemas.RunSummary) string {
	tally := s.Tally
	t := table.NewWriter()
	t.SetTitle("Run statistics")
	t.AppendRows([]table.Row{
		{"Handles", tally.Total},
		{"Resolved", tally.Resolved},
		{"Absent", tally.Absent},
		{"Not found", tally.NotFound},
		{"Skipped", tally.Skipped},
		{"Success rate", fmt.Sprintf("%.1f%%", tally.SuccessRate())},
		{"Elapsed", s.Elapsed().Round(time.Second).String()},
		{"Profiles/minute", fmt.Sprintf("%.2f", s.ProfilesPerMinute())},
	})
	if ex := s.Extraction; ex != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Extraction", fmt.Sprintf("%s (%s)", ex.Status, ex.Reason)})
		t.AppendRow(table.Row{"Collected / target", fmt.Sprintf("%d / %d", len(ex.Handles), ex.Target)})
		if ex.Advertised != nil {
			t.AppendRow(table.Row{"Advertised", humanize.Comma(*ex.Advertised)})
		}
	}
	if s.Cancelled {
		t.AppendRow(table.Row{"Cancelled", "yes"})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

// RenderBenford formats the first-digit summary as a table.
func RenderBenford(b BenfordSummary) string {
	t := table.NewWriter()
	t.SetTitle("First digit vs Benford's law")
	t.AppendHeader(table.Row{"Digit", "Frequency", "Observed", "Benford"})
	var expectedTotal, observedTotal float64
	for _, d := range b.Digits {
		t.AppendRow(table.Row{d.Digit, d.Observed, fmt.Sprintf("%.2f%%", d.ObservedPct), fmt.Sprintf("%.2f%%", d.ExpectedPct)})
		observedTotal += d.ObservedPct
		expectedTotal += d.ExpectedPct
	}
	t.AppendFooter(table.Row{"Total", b.Total, fmt.Sprintf("%.2f%%", observedTotal), fmt.Sprintf("%.2f%%", expectedTotal)})
	t.SetCaption("Mean absolute deviation: %.2f points", b.MeanAbsoluteDeviation())
	t.SetStyle(table.StyleLight)
	return t.Render()
}

// TextSink writes the text report into a directory.
type TextSink struct {
	dir    string
	logger *zap.Logger
}

// NewTextSink creates a sink writing into dir.
func NewTextSink(dir string, logger *zap.Logger) *TextSink {
	return &TextSink{dir: dir, logger: logger.Named("text_sink")}
}

func (t *TextSink) Name() string { return "text" }

func (t *TextSink) Write(ctx context.Context, s *schemas.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := createFile(t.dir, baseName(s)+".txt")
	if err != nil {
		return err
	}
	if err := WriteText(f, s); err != nil {
		f.Close()
		return fmt.Errorf("failed to write text report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close text report: %w", err)
	}
	t.logger.Info("Text report written", zap.String("path", f.Name()))
	return nil
}

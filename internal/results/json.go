package results

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
)

// JSONSink saves the full run summary so it can be rendered again later.
type JSONSink struct {
	dir    string
	logger *zap.Logger
}

// NewJSONSink creates a sink writing into dir.
func NewJSONSink(dir string, logger *zap.Logger) *JSONSink {
	return &JSONSink{dir: dir, logger: logger.Named("json_sink")}
}

func (j *JSONSink) Name() string { return "json" }

func (j *JSONSink) Write(ctx context.Context, s *schemas.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := createFile(j.dir, baseName(s)+".json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close run summary: %w", err)
	}
	j.logger.Info("Run summary written", zap.String("path", f.Name()))
	return nil
}

// ReadSummary decodes a summary written by JSONSink.
func ReadSummary(r io.Reader) (*schemas.RunSummary, error) {
	var s schemas.RunSummary
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode run summary: %w", err)
	}
	if s.Results == nil {
		s.Results = schemas.FetchResults{}
	}
	s.Tally = s.Results.Tally()
	return &s, nil
}

// LoadSummary reads a summary file from disk.
func LoadSummary(path string) (*schemas.RunSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run summary: %w", err)
	}
	defer f.Close()
	return ReadSummary(f)
}

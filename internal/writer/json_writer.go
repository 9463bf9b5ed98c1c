package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joepadmiraal/speedprobe/internal/measure"
)

type jsonPayload struct {
	HistoryCount int `json:"history_count"`
	*measure.Report
}

// JSONWriter prints the report as one indented JSON document.
type JSONWriter struct {
	out            io.Writer
	includeHistory bool
}

func NewJSONWriter(out io.Writer, includeHistory bool) *JSONWriter {
	return &JSONWriter{out: out, includeHistory: includeHistory}
}

func (jw *JSONWriter) WriteReport(_ context.Context, r *measure.Report) error {
	report := *r
	if !jw.includeHistory {
		report.History = nil
	}

	enc := json.NewEncoder(jw.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonPayload{HistoryCount: len(r.History), Report: &report}); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

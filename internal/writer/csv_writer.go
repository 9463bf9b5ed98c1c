package writer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/joepadmiraal/speedprobe/internal/measure"
)

var csvHeader = []string{
	"kind",
	"tick",
	"timestamp",
	"bits",
	"mbps",
	"latency_ms",
	"latency",
	"duration",
}

// CSVWriter renders the sampled history and the final measurement as CSV rows.
type CSVWriter struct {
	writer *csv.Writer
}

// NewCSVWriter creates a new CSV writer on out.
func NewCSVWriter(out io.Writer) *CSVWriter {
	return &CSVWriter{writer: csv.NewWriter(out)}
}

// WriteReport writes the header, one "history" row per sampled snapshot and a "final" row.
func (cw *CSVWriter) WriteReport(_ context.Context, r *measure.Report) error {
	if err := cw.writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range r.History {
		if err := cw.writer.Write(snapshotRow("history", s)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	final := "final"
	if r.Partial {
		final = "partial"
	}
	if err := cw.writer.Write(snapshotRow(final, r.Measurement)); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	cw.writer.Flush()

	return cw.writer.Error()
}

func snapshotRow(kind string, s measure.Snapshot) []string {
	latencyMs := ""
	if s.LatencyKnown {
		latencyMs = fmt.Sprintf("%d", s.AverageLatency.Milliseconds())
	}

	return []string{
		kind,
		fmt.Sprintf("%d", s.Tick),
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%.0f", s.AverageBandwidthBits),
		fmt.Sprintf("%.3f", s.Mbps()),
		latencyMs,
		s.Latency,
		s.Duration,
	}
}

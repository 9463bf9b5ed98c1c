package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
)

func TestCSVWriter_WriteReport_Rows(t *testing.T) {
	var buf bytes.Buffer
	cw := NewCSVWriter(&buf)

	if err := cw.WriteReport(context.Background(), testReport()); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV output: %v", err)
	}

	// header + 2 history rows + final row
	if len(records) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(records))
	}

	header := records[0]
	if len(header) != len(csvHeader) || header[0] != "kind" || header[3] != "bits" {
		t.Errorf("Unexpected header: %v", header)
	}

	first := records[1]
	if first[0] != "history" || first[1] != "7" {
		t.Errorf("Expected first history row for tick 7, got %v", first)
	}
	if first[5] != "" {
		t.Errorf("Expected empty latency_ms for an unknown latency, got %q", first[5])
	}
	if first[6] != "unknown" {
		t.Errorf("Expected latency 'unknown', got %q", first[6])
	}

	final := records[3]
	expected := []string{"final", "42", "2025-12-16T10:00:04Z", "93456000", "93.456", "12", "12 ms", "4s"}
	for i := range expected {
		if final[i] != expected[i] {
			t.Errorf("Final row column %s: expected %q, got %q", csvHeader[i], expected[i], final[i])
		}
	}
}

func TestCSVWriter_WriteReport_Partial(t *testing.T) {
	var buf bytes.Buffer
	cw := NewCSVWriter(&buf)
	report := testReport()
	report.Partial = true
	report.History = nil

	if err := cw.WriteReport(context.Background(), report); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV output: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected header and final row, got %d records", len(records))
	}
	if records[1][0] != "partial" {
		t.Errorf("Expected kind 'partial', got %q", records[1][0])
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestCSVWriter_WriteReport_PropagatesWriteError(t *testing.T) {
	cw := NewCSVWriter(failingWriter{})

	if err := cw.WriteReport(context.Background(), testReport()); err == nil {
		t.Error("Expected the underlying write error to be returned")
	}
}

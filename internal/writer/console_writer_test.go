package writer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/joepadmiraal/speedprobe/internal/measure"
	"github.com/joepadmiraal/speedprobe/internal/metric"
)

func testReport() *measure.Report {
	final := measure.Snapshot{
		Tick:                 42,
		AverageBandwidthBits: 93_456_000,
		AverageLatency:       12 * time.Millisecond,
		LatencyKnown:         true,
		Latency:              "12 ms",
		Elapsed:              4200 * time.Millisecond,
		Duration:             "4s",
		Timestamp:            time.Date(2025, 12, 16, 10, 0, 4, 0, time.UTC),
	}
	return &measure.Report{
		RunID: "6f1c1a70-5f55-4b43-9a2e-58f0c3a1b2c4",
		Summary: measure.Summary{
			Speed:     93.456,
			Latency:   "12 ms",
			IP:        "192.0.2.10",
			MAC:       "aa:bb:cc:00:11:22",
			Duration:  "4s",
			IPv6:      metric.Unavailable,
			Bits:      93_456_000,
			DNS:       []string{"192.0.2.53"},
			Time:      "2025-12-16T10:00:05Z",
			Timestamp: 1765879205,
		},
		Measurement: final,
		Client:      measure.ClientInfo{ISP: "Example ISP"},
		Streams: []measure.StreamResult{
			{ID: 0, State: measure.StreamCompleted, Bytes: 25_000_000},
			{ID: 1, State: measure.StreamCancelled, Bytes: 24_000_000},
			{ID: 2, State: measure.StreamFailed, Error: "unexpected status 403 Forbidden"},
		},
		History: []measure.Snapshot{
			{Tick: 7, AverageBandwidthBits: 80_000_000, Latency: "unknown", Duration: "700ms", Timestamp: time.Date(2025, 12, 16, 10, 0, 0, 700_000_000, time.UTC)},
			final,
		},
		GeneratedAt: time.Date(2025, 12, 16, 10, 0, 5, 0, time.UTC),
	}
}

func TestConsoleWriter_WriteSnapshot_AlignedRows(t *testing.T) {
	var buf bytes.Buffer
	cw := NewConsoleWriter(&buf)

	cw.WriteSnapshot(measure.Snapshot{Tick: 1, AverageBandwidthBits: 1_000_000, Latency: "unknown", Duration: "101ms"})
	cw.WriteSnapshot(measure.Snapshot{Tick: 250, AverageBandwidthBits: 940_000_000, Latency: "8 ms", Duration: "25s"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 lines (header, separator, 2 rows), got %d:\n%s", len(lines), buf.String())
	}

	if !strings.Contains(lines[2], "1.00 Mbps") {
		t.Errorf("Expected bandwidth '1.00 Mbps' in output, got: %s", lines[2])
	}
	if !strings.Contains(lines[3], "940 Mbps") {
		t.Errorf("Expected bandwidth '940 Mbps' in output, got: %s", lines[3])
	}

	headerPipes := findPipePositions(lines[0])
	for _, line := range lines[1:] {
		dataPipes := findPipePositions(line)
		if len(headerPipes) != len(dataPipes) {
			t.Errorf("Number of columns mismatch: header has %d pipes, line has %d pipes", len(headerPipes), len(dataPipes))
			continue
		}
		for i := range headerPipes {
			if headerPipes[i] != dataPipes[i] {
				t.Errorf("Column %d misaligned: header pipe at %d, data pipe at %d", i, headerPipes[i], dataPipes[i])
				t.Logf("Header: %s", lines[0])
				t.Logf("Data:   %s", line)
			}
		}
	}
}

func TestConsoleWriter_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	cw := NewConsoleWriter(&buf)

	if cw.tty {
		t.Error("A bytes.Buffer must not be treated as a terminal")
	}

	cw.WriteStatus("Starting..")
	if strings.Contains(buf.String(), clearScreen) {
		t.Error("Screen must not be cleared when not writing to a terminal")
	}
}

func TestConsoleWriter_TerminalRedraw(t *testing.T) {
	var buf bytes.Buffer
	cw := &ConsoleWriter{out: &buf, tty: true}

	cw.WriteSnapshot(measure.Snapshot{Tick: 1, AverageBandwidthBits: 50_400_000, Latency: "9 ms", Duration: "150ms"})

	out := buf.String()
	if !strings.HasPrefix(out, clearScreen) {
		t.Error("Expected the screen to be cleared before each redraw")
	}
	for _, want := range []string{"◓ Speed  \t50 Mbps", "◐ Latency\t9 ms", "◒ Elapsed\t150ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestConsoleWriter_WriteReport(t *testing.T) {
	var buf bytes.Buffer
	cw := NewConsoleWriter(&buf)
	report := testReport()
	report.ShareURL = "https://results.example/r/abc"

	if err := cw.WriteReport(context.Background(), report); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"✔ Speed  \t93 Mbps",
		"✔ Latency\t12 ms",
		"✔ Elapsed\t4s",
		" IP\t192.0.2.10",
		" Mac\taa:bb:cc:00:11:22",
		"3 total, 1 completed, 1 failed",
		" Received\t49.0 MB",
		"https://results.example/r/abc",
		"Your internet speed is 93.46 Mbps on Tue, 16 Dec 2025 10:00:05 GMT",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "partial") {
		t.Error("A complete report must not be marked partial")
	}
}

func TestFormatMbps(t *testing.T) {
	tests := map[float64]string{
		0:           "0",
		93_456_000:  "93.46",
		100_000_000: "100",
		90_500_000:  "90.5",
	}
	for bits, want := range tests {
		if got := formatMbps(bits); got != want {
			t.Errorf("formatMbps(%.0f): expected %s, got %s", bits, want, got)
		}
	}
}

func findPipePositions(line string) []int {
	positions := []int{}
	for i, ch := range line {
		if ch == '|' {
			positions = append(positions, i)
		}
	}
	return positions
}

package writer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/joepadmiraal/speedprobe/internal/measure"
)

// Output formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatCSV     = "csv"
)

var ErrUnknownFormat = errors.New("unknown report format")

// ReportWriter renders or publishes a finished measurement.
type ReportWriter interface {
	WriteReport(ctx context.Context, report *measure.Report) error
}

// ProgressWriter receives every snapshot while the measurement runs.
type ProgressWriter interface {
	WriteStatus(msg string)
	WriteSnapshot(s measure.Snapshot)
}

// New returns the stdout renderer for format. Only the console renderer shows live progress;
// the returned ProgressWriter is nil for the other formats.
func New(format string, out io.Writer, includeHistory bool) (ReportWriter, ProgressWriter, error) {
	switch format {
	case "", FormatConsole:
		cw := NewConsoleWriter(out)
		return cw, cw, nil
	case FormatJSON:
		return NewJSONWriter(out, includeHistory), nil, nil
	case FormatCSV:
		return NewCSVWriter(out), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

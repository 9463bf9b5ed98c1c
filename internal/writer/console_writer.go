package writer

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/joepadmiraal/speedprobe/internal/measure"
)

const (
	title       = "Speed Test"
	clearScreen = "\033[H\033[2J"

	utcDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var spinner = []rune("◐◓◑◒")

// ConsoleWriter renders live progress and the final summary. On a terminal
// every tick redraws the screen; otherwise each tick is appended as a table row.
type ConsoleWriter struct {
	mu            sync.Mutex
	out           io.Writer
	tty           bool
	headerPrinted bool
}

// NewConsoleWriter creates a new console writer
func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{
		out: out,
		tty: isTerminal(out),
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WriteStatus shows a phase message such as "Starting..".
func (cw *ConsoleWriter) WriteStatus(msg string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.tty {
		cw.banner()
	}
	fmt.Fprintf(cw.out, "%s\n", msg)
	if cw.tty {
		fmt.Fprintln(cw.out)
	}
}

// WriteSnapshot renders one tick.
func (cw *ConsoleWriter) WriteSnapshot(s measure.Snapshot) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.tty {
		cw.writeRow(s)
		return
	}

	spin := func(offset int) string {
		return string(spinner[(s.Tick+offset)%len(spinner)])
	}
	cw.banner()
	fmt.Fprintf(cw.out, "%s Speed  \t%.0f Mbps\n", spin(4), math.Round(s.Mbps()))
	fmt.Fprintf(cw.out, "%s Latency\t%s\n", spin(3), s.Latency)
	fmt.Fprintf(cw.out, "%s Elapsed\t%s\n", spin(2), s.Duration)
}

func (cw *ConsoleWriter) writeRow(s measure.Snapshot) {
	if !cw.headerPrinted {
		fmt.Fprintln(cw.out, "tick  | elapsed  | bandwidth    | latency")
		fmt.Fprintln(cw.out, "------|----------|--------------|----------------")
		cw.headerPrinted = true
	}

	fmt.Fprintf(cw.out, "%5d | %8s | %12s | %s\n",
		s.Tick,
		s.Duration,
		FormatBitsPerSecond(s.AverageBandwidthBits),
		s.Latency,
	)
}

func (cw *ConsoleWriter) banner() {
	fmt.Fprint(cw.out, clearScreen)
	fmt.Fprintln(cw.out)
	fmt.Fprintln(cw.out, title)
	fmt.Fprintln(cw.out)
}

// WriteReport prints the final summary.
func (cw *ConsoleWriter) WriteReport(_ context.Context, r *measure.Report) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	var b strings.Builder
	if cw.tty {
		b.WriteString(clearScreen)
	}
	b.WriteString("\n" + title + "\n\n")
	fmt.Fprintf(&b, "✔ Speed  \t%.0f Mbps\n", math.Round(r.Summary.Bits/1e6))
	fmt.Fprintf(&b, "✔ Latency\t%s\n", r.Summary.Latency)
	fmt.Fprintf(&b, "✔ Elapsed\t%s\n", r.Summary.Duration)
	b.WriteString("\n")
	fmt.Fprintf(&b, " IP\t%s\n", r.Summary.IP)
	fmt.Fprintf(&b, " Mac\t%s\n", r.Summary.MAC)
	if r.Client.ISP != "" {
		fmt.Fprintf(&b, " ISP\t%s\n", r.Client.ISP)
	}
	if r.Host.PingRTT > 0 {
		fmt.Fprintf(&b, " Ping\t%.2f ms (%s)\n", float64(r.Host.PingRTT.Microseconds())/1000.0, r.Host.PingHost)
	}
	b.WriteString("\n")

	completed, failed := 0, 0
	var downloaded int64
	for _, s := range r.Streams {
		downloaded += s.Bytes
		switch s.State {
		case measure.StreamCompleted:
			completed++
		case measure.StreamFailed:
			failed++
		}
	}
	fmt.Fprintf(&b, " Streams\t%d total, %d completed, %d failed\n", len(r.Streams), completed, failed)
	fmt.Fprintf(&b, " Received\t%s\n", FormatBytes(float64(downloaded)))
	if r.Partial {
		b.WriteString(" Result is partial: the time limit was reached before any stream completed\n")
	}
	if r.ShareURL != "" {
		fmt.Fprintf(&b, " Result\t%s\n", r.ShareURL)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, " Your internet speed is %s Mbps on %s \n\n",
		formatMbps(r.Summary.Bits),
		r.GeneratedAt.UTC().Format(utcDateLayout),
	)

	_, err := io.WriteString(cw.out, b.String())
	return err
}

// formatMbps rounds to two decimals and drops trailing zeros.
func formatMbps(bits float64) string {
	v := math.Round(bits/10000) / 100
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

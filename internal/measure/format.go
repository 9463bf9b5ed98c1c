package measure

import (
	"fmt"
	"math"
	"time"
)

// UnknownLatency is rendered when no latency sample has been recorded yet.
const UnknownLatency = "unknown"

const (
	msSecond = int64(time.Second / time.Millisecond)
	msMinute = 60 * msSecond
	msHour   = 60 * msMinute
	msDay    = 24 * msHour
)

// FormatLatency renders a duration in long form, e.g. "12 ms", "1 second", "3 minutes".
func FormatLatency(d time.Duration) string {
	ms := d.Milliseconds()
	abs := ms
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= msDay:
		return plural(ms, abs, msDay, "day")
	case abs >= msHour:
		return plural(ms, abs, msHour, "hour")
	case abs >= msMinute:
		return plural(ms, abs, msMinute, "minute")
	case abs >= msSecond:
		return plural(ms, abs, msSecond, "second")
	}
	return fmt.Sprintf("%d ms", ms)
}

func plural(ms, abs, unit int64, name string) string {
	value := math.Round(float64(ms) / float64(unit))
	if abs >= unit*3/2 {
		return fmt.Sprintf("%.0f %ss", value, name)
	}
	return fmt.Sprintf("%.0f %s", value, name)
}

// FormatElapsed renders a duration in short form, e.g. "850ms", "4s", "2m".
func FormatElapsed(d time.Duration) string {
	ms := d.Milliseconds()
	abs := ms
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= msDay:
		return fmt.Sprintf("%.0fd", math.Round(float64(ms)/float64(msDay)))
	case abs >= msHour:
		return fmt.Sprintf("%.0fh", math.Round(float64(ms)/float64(msHour)))
	case abs >= msMinute:
		return fmt.Sprintf("%.0fm", math.Round(float64(ms)/float64(msMinute)))
	case abs >= msSecond:
		return fmt.Sprintf("%.0fs", math.Round(float64(ms)/float64(msSecond)))
	}
	return fmt.Sprintf("%dms", ms)
}

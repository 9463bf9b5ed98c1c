package measure

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// BucketInterval is the nominal width of one throughput bucket.
	BucketInterval = 100 * time.Millisecond
	// HistorySampleRate is the probability that a published snapshot is kept in the history log.
	HistorySampleRate = 0.1

	bucketsPerSecond = int64(time.Second / BucketInterval)
)

// Window aggregates byte arrivals from every stream into one shared bucket and
// publishes a Snapshot each time the bucket's window has elapsed.
//
// Ticks only happen on Observe/MaybeTick calls, so a stalled download produces
// no snapshots until the next chunk arrives.
type Window struct {
	mu  sync.Mutex
	now func() time.Time
	rng *rand.Rand

	runStart    time.Time
	windowStart time.Time
	bucketBytes int64
	totalBytes  int64

	bandwidth []float64
	latency   []float64 // milliseconds

	ticks   int
	current Snapshot
	history []Snapshot
	frozen  bool

	onTick func(Snapshot)
}

// WindowOption configures a Window at construction.
type WindowOption func(*Window)

// WithClock replaces time.Now as the source of the run start time.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		w.now = now
	}
}

// WithSeed makes the history sampling decision reproducible.
func WithSeed(seed uint64) WindowOption {
	return func(w *Window) {
		w.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithTickHook registers fn to be called, outside the window lock, after every tick.
func WithTickHook(fn func(Snapshot)) WindowOption {
	return func(w *Window) {
		w.onTick = fn
	}
}

// NewWindow creates a window whose run and first bucket start now.
func NewWindow(opts ...WindowOption) *Window {
	w := &Window{now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	if w.rng == nil {
		seed := uint64(time.Now().UnixNano())
		w.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	w.runStart = w.now()
	w.windowStart = w.runStart
	w.current = Snapshot{Latency: UnknownLatency, Duration: FormatElapsed(0), Timestamp: w.runStart}
	return w
}

// Observe records one chunk and ticks if the bucket window has elapsed.
// It returns false once the window has been frozen.
func (w *Window) Observe(ev ByteEvent) bool {
	w.mu.Lock()
	if w.frozen {
		w.mu.Unlock()
		return false
	}
	w.recordBytesLocked(int64(ev.Bytes))
	w.recordLatencyLocked(ev.InterArrival)
	snap, ticked := w.maybeTickLocked(ev.ArrivedAt)
	hook := w.onTick
	w.mu.Unlock()

	if ticked && hook != nil {
		hook(snap)
	}
	return true
}

// RecordBytes adds n to the open bucket.
func (w *Window) RecordBytes(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.frozen {
		w.recordBytesLocked(n)
	}
}

// RecordLatency appends one inter-arrival sample.
func (w *Window) RecordLatency(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.frozen {
		w.recordLatencyLocked(d)
	}
}

// MaybeTick publishes a new snapshot if more than one BucketInterval has
// passed since the current window start. At most one tick happens per call.
func (w *Window) MaybeTick(now time.Time) (Snapshot, bool) {
	w.mu.Lock()
	if w.frozen {
		snap := w.current
		w.mu.Unlock()
		return snap, false
	}
	snap, ticked := w.maybeTickLocked(now)
	hook := w.onTick
	w.mu.Unlock()

	if ticked && hook != nil {
		hook(snap)
	}
	return snap, ticked
}

func (w *Window) recordBytesLocked(n int64) {
	w.bucketBytes += n
	w.totalBytes += n
}

func (w *Window) recordLatencyLocked(d time.Duration) {
	w.latency = append(w.latency, float64(d)/float64(time.Millisecond))
}

func (w *Window) maybeTickLocked(now time.Time) (Snapshot, bool) {
	if now.Sub(w.windowStart) <= BucketInterval {
		return w.current, false
	}

	w.ticks++
	w.bandwidth = append(w.bandwidth, float64(w.bucketBytes*8*bucketsPerSecond))

	snap := Snapshot{
		Tick:                 w.ticks,
		AverageBandwidthBits: stat.Mean(w.bandwidth, nil),
		Latency:              UnknownLatency,
		Elapsed:              now.Sub(w.runStart),
		Timestamp:            now,
	}
	snap.Duration = FormatElapsed(snap.Elapsed)
	if len(w.latency) > 0 {
		ms := math.Round(stat.Mean(w.latency, nil))
		snap.AverageLatency = time.Duration(ms) * time.Millisecond
		snap.LatencyKnown = true
		snap.Latency = FormatLatency(snap.AverageLatency)
	}

	w.current = snap
	if w.rng.Float64() < HistorySampleRate {
		w.history = append(w.history, snap)
	}

	w.bucketBytes = 0
	w.windowStart = w.windowStart.Add(BucketInterval)
	return snap, true
}

// Freeze stops the window from accepting further events and returns the last
// published snapshot. Calling it more than once is harmless.
func (w *Window) Freeze() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frozen = true
	return w.current
}

// Frozen reports whether Freeze has been called.
func (w *Window) Frozen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frozen
}

// Snapshot returns the last published snapshot.
func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// History returns a copy of the sampled snapshot log.
func (w *Window) History() []Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Snapshot, len(w.history))
	copy(out, w.history)
	return out
}

// BandwidthSamples returns a copy of every per-bucket bandwidth sample in bits per second.
func (w *Window) BandwidthSamples() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]float64, len(w.bandwidth))
	copy(out, w.bandwidth)
	return out
}

// LatencySamples is the number of inter-arrival samples recorded so far.
func (w *Window) LatencySamples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.latency)
}

// Ticks is the number of snapshots published.
func (w *Window) Ticks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}

// TotalBytes is the number of bytes accepted before the window was frozen.
func (w *Window) TotalBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalBytes
}

// BucketBytes is the byte count of the open bucket.
func (w *Window) BucketBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bucketBytes
}

// Boundary returns the start of the currently open bucket.
func (w *Window) Boundary() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.windowStart
}

// RunStart is the time the window was created.
func (w *Window) RunStart() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runStart
}

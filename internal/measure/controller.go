package measure

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joepadmiraal/speedprobe/internal/metric"
)

// drainGrace bounds how long the controller waits for cancelled workers to
// report their final state after the measurement has been frozen.
const drainGrace = time.Second

// MetadataCollector gathers host information once the measurement is frozen.
// Implementations must not fail: unavailable fields carry metric.Unavailable.
type MetadataCollector interface {
	Collect(ctx context.Context, targetURLs []string) metric.HostInfo
}

// Config tunes a Controller.
type Config struct {
	// MaxDuration bounds the whole measurement; zero means unbounded.
	MaxDuration time.Duration
	// ReadBufferSize is the per-read buffer of each stream.
	ReadBufferSize int
	// Seed drives history sampling; zero picks a time based seed.
	Seed uint64
}

// Controller fans out one StreamWorker per target, merges their events into a
// single Window and turns the first stream completion into a Report. Each Run
// gets its own Window, so a Controller may be reused.
type Controller struct {
	cfg      Config
	client   *http.Client
	metadata MetadataCollector
	metrics  *Metrics
	logger   *zap.Logger
	onTick   func(Snapshot)
	now      func() time.Time
}

// NewController creates a controller. metadata and metrics may be nil.
func NewController(cfg Config, client *http.Client, metadata MetadataCollector, metrics *Metrics, logger *zap.Logger) *Controller {
	if client == nil {
		client = http.DefaultClient
	}
	return &Controller{
		cfg:      cfg,
		client:   client,
		metadata: metadata,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// OnTick registers a callback for every published snapshot. It may be called
// concurrently from several workers.
func (c *Controller) OnTick(fn func(Snapshot)) {
	c.onTick = fn
}

// Run measures download throughput against every target in plan.
func (c *Controller) Run(ctx context.Context, plan Plan) (*Report, error) {
	return c.run(ctx, plan, c.newWindow())
}

func (c *Controller) run(ctx context.Context, plan Plan, window *Window) (*Report, error) {
	if len(plan.Targets) == 0 {
		return nil, ErrNoTargets
	}
	sugar := c.logger.Sugar()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var stopOnce sync.Once
	winner := -1
	stop := func(id int) {
		stopOnce.Do(func() {
			winner = id
			cancelRun()
		})
	}

	// The winning worker freezes the window itself, before its body is closed.
	sink := meteredSink{window: window, metrics: c.metrics, onComplete: stop}

	results := make(chan StreamResult, len(plan.Targets))
	var wg sync.WaitGroup
	workerLogger := c.logger.Named("worker")
	for i, target := range plan.Targets {
		worker := NewStreamWorker(i, target, c.client, sink, c.cfg.ReadBufferSize, workerLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- worker.Run(runCtx)
		}()
	}
	sugar.Infow("Download streams started", "streams", len(plan.Targets))

	var timeout <-chan time.Time
	if c.cfg.MaxDuration > 0 {
		timer := time.NewTimer(c.cfg.MaxDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	streams := make([]StreamResult, 0, len(plan.Targets))
	failed := 0
	partial := false
	var final Snapshot

wait:
	for {
		select {
		case res := <-results:
			streams = append(streams, res)
			c.metrics.observeStream(res.State)
			switch res.State {
			case StreamCompleted:
				final = window.Freeze()
				stop(res.ID)
				sugar.Infow("Stream completed, finalizing measurement",
					"stream_id", winner,
					"ticks", final.Tick,
				)
				break wait
			case StreamFailed:
				failed++
				if failed == len(plan.Targets) {
					window.Freeze()
					stop(-1)
					wg.Wait()
					sugar.Errorw("Every download stream failed", "streams", failed)
					return nil, ErrAllStreamsFailed
				}
			}

		case <-timeout:
			final = window.Freeze()
			stop(-1)
			if winner >= 0 {
				// A stream ended just before the limit; its result is still in flight.
				break wait
			}
			if final.Tick == 0 {
				wg.Wait()
				return nil, ErrMeasurementTimeout
			}
			partial = true
			sugar.Warnw("Measurement time limit reached, reporting partial result",
				"max_duration", c.cfg.MaxDuration,
				"ticks", final.Tick,
			)
			break wait

		case <-ctx.Done():
			window.Freeze()
			stop(-1)
			wg.Wait()
			return nil, ctx.Err()
		}
	}

	if final.Tick == 0 {
		sugar.Warn("Run finished before the first sample was published")
	}

	host := metric.HostInfo{}
	if c.metadata != nil {
		urls := make([]string, len(plan.Targets))
		for i, t := range plan.Targets {
			urls[i] = t.URL
		}
		// runCtx is already cancelled here, metadata runs on the caller's context.
		host = c.metadata.Collect(ctx, urls)
	}

	streams = c.drain(results, streams, len(plan.Targets))
	sugar.Debugw("Measurement finalized", "winner", winner, "stream_results", len(streams))

	return c.buildReport(final, window.History(), host, plan.Client, streams, partial), nil
}

func (c *Controller) newWindow() *Window {
	return NewWindow(c.windowOptions()...)
}

func (c *Controller) windowOptions() []WindowOption {
	opts := []WindowOption{
		WithClock(c.now),
		WithTickHook(func(s Snapshot) {
			c.metrics.observeSnapshot(s)
			if c.onTick != nil {
				c.onTick(s)
			}
		}),
	}
	if c.cfg.Seed != 0 {
		opts = append(opts, WithSeed(c.cfg.Seed))
	}
	return opts
}

// drain collects the final state of workers that were cancelled. Workers that
// do not report within drainGrace are left behind and marked cancelled.
func (c *Controller) drain(results <-chan StreamResult, streams []StreamResult, total int) []StreamResult {
	seen := make(map[int]bool, total)
	for _, s := range streams {
		seen[s.ID] = true
	}
	grace := time.NewTimer(drainGrace)
	defer grace.Stop()

	for len(seen) < total {
		select {
		case res := <-results:
			// A stream that completes or fails after the freeze contributed
			// nothing past that point; its state is kept for the report only.
			c.metrics.observeStream(res.State)
			seen[res.ID] = true
			streams = append(streams, res)
		case <-grace.C:
			c.logger.Debug("Gave up waiting for cancelled streams", zap.Int("missing", total-len(seen)))
			return streams
		}
	}
	return streams
}

func (c *Controller) buildReport(final Snapshot, history []Snapshot, host metric.HostInfo, client ClientInfo, streams []StreamResult, partial bool) *Report {
	generated := c.now().UTC()
	return &Report{
		RunID:   uuid.NewString(),
		Partial: partial,
		Summary: Summary{
			Speed:     math.Round(final.AverageBandwidthBits/1000) / 1000,
			Latency:   final.Latency,
			IP:        host.IP,
			MAC:       host.MAC,
			Duration:  final.Duration,
			IPv6:      host.IPv6,
			Bits:      final.AverageBandwidthBits,
			DNS:       host.DNS,
			Time:      generated.Format(time.RFC3339Nano),
			Timestamp: generated.Unix(),
		},
		Measurement: final,
		Host:        host,
		Client:      client,
		Streams:     streams,
		History:     history,
		GeneratedAt: generated,
	}
}

package measure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultReadBufferSize is used when a worker is created without a buffer size.
const DefaultReadBufferSize = 32 * 1024

// EventSink receives byte arrivals. It reports false once it no longer accepts events.
type EventSink interface {
	Observe(ev ByteEvent) bool
	// Complete is called when a stream's body ended, before the body is closed
	// and before the worker returns its result.
	Complete(streamID int)
}

// StreamWorker owns a single streaming download.
type StreamWorker struct {
	id         int
	target     Target
	client     *http.Client
	sink       EventSink
	bufferSize int
	now        func() time.Time
	logger     *zap.Logger
}

// NewStreamWorker creates a worker that forwards every chunk of target to sink.
func NewStreamWorker(id int, target Target, client *http.Client, sink EventSink, bufferSize int, logger *zap.Logger) *StreamWorker {
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &StreamWorker{
		id:         id,
		target:     target,
		client:     client,
		sink:       sink,
		bufferSize: bufferSize,
		now:        time.Now,
		logger:     logger.With(zap.Int("stream_id", id), zap.String("url", target.URL)),
	}
}

// Run downloads the target until the body ends, ctx is cancelled or an error occurs.
// Failures are logged and reported in the result; they are never fatal to the run.
func (w *StreamWorker) Run(ctx context.Context) StreamResult {
	result := StreamResult{ID: w.id, URL: w.target.URL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.target.URL, nil)
	if err != nil {
		return w.fail(result, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return w.interrupted(ctx, result, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return w.fail(result, fmt.Errorf("unexpected status %s", resp.Status))
	}

	w.logger.Debug("stream opened", zap.Int64("content_length", resp.ContentLength))

	// The per-stream clock starts once the response headers are in.
	last := w.now()
	buf := make([]byte, w.bufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			arrived := w.now()
			w.sink.Observe(ByteEvent{
				StreamID:     w.id,
				Bytes:        n,
				ArrivedAt:    arrived,
				InterArrival: arrived.Sub(last),
			})
			last = arrived
			result.Bytes += int64(n)
			result.Chunks++
		}
		if errors.Is(readErr, io.EOF) {
			w.sink.Complete(w.id)
			result.State = StreamCompleted
			w.logger.Debug("stream completed", zap.Int64("bytes", result.Bytes), zap.Int("chunks", result.Chunks))
			return result
		}
		if readErr != nil {
			return w.interrupted(ctx, result, readErr)
		}
	}
}

func (w *StreamWorker) interrupted(ctx context.Context, result StreamResult, err error) StreamResult {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		result.State = StreamCancelled
		return result
	}
	return w.fail(result, err)
}

func (w *StreamWorker) fail(result StreamResult, err error) StreamResult {
	result.State = StreamFailed
	result.Err = fmt.Errorf("%w: %w", ErrStreamFailed, err)
	result.Error = err.Error()
	w.logger.Warn("Stream failed, excluding it from aggregation",
		zap.Int64("bytes", result.Bytes),
		zap.Error(err),
	)
	return result
}

package measure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []ByteEvent
	completed []int
	closed    bool
}

func (s *recordingSink) Complete(streamID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, streamID)
}

func (s *recordingSink) completedIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.completed...)
}

func (s *recordingSink) Observe(ev ByteEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) snapshot() []ByteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ByteEvent(nil), s.events...)
}

// chunkedHandler writes count chunks of size bytes, pausing gap between them.
func chunkedHandler(count, size int, gap time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		chunk := make([]byte, size)
		for i := 0; i < count; i++ {
			if i > 0 {
				select {
				case <-time.After(gap):
				case <-r.Context().Done():
					return
				}
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// endlessHandler streams size-byte chunks every gap until the client goes away.
func endlessHandler(size int, gap time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		chunk := make([]byte, size)
		ticker := time.NewTicker(gap)
		defer ticker.Stop()
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-ticker.C:
			case <-r.Context().Done():
				return
			}
		}
	}
}

// pacedBody serves chunks of the given sizes, sleeping gap before every chunk
// but the first. When hold is set the last chunk waits until hold is closed
// and the body never reaches EOF.
// onClose runs once when the worker closes the body.
type pacedBody struct {
	ctx     context.Context
	sizes   []int
	gap     time.Duration
	hold    <-chan struct{}
	onClose func()

	served    int
	pending   int
	closeOnce sync.Once
}

func (b *pacedBody) Read(p []byte) (int, error) {
	if b.pending == 0 {
		if b.served == len(b.sizes) {
			if b.hold != nil {
				<-b.ctx.Done()
				return 0, b.ctx.Err()
			}
			return 0, io.EOF
		}
		if b.hold != nil && b.served == len(b.sizes)-1 {
			<-b.hold
		} else if b.served > 0 {
			time.Sleep(b.gap)
		}
		b.pending = b.sizes[b.served]
		b.served++
	}
	n := min(b.pending, len(p))
	b.pending -= n
	return n, nil
}

func (b *pacedBody) Close() error {
	b.closeOnce.Do(func() {
		if b.onClose != nil {
			b.onClose()
		}
	})
	return nil
}

// scriptedTransport answers every request for a host with the body built by its factory.
type scriptedTransport map[string]func(ctx context.Context) io.ReadCloser

func (s scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	newBody, ok := s[req.URL.Host]
	if !ok {
		return nil, fmt.Errorf("no script for %s", req.URL.Host)
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Header:        http.Header{},
		Body:          newBody(req.Context()),
		ContentLength: -1,
		Request:       req,
	}, nil
}

func TestStreamWorker_CompletesOnEOF(t *testing.T) {
	srv := httptest.NewServer(chunkedHandler(3, 1250, 20*time.Millisecond))
	defer srv.Close()

	sink := &recordingSink{}
	w := NewStreamWorker(4, Target{URL: srv.URL}, srv.Client(), sink, 0, zaptest.NewLogger(t))

	res := w.Run(context.Background())

	require.Equal(t, StreamCompleted, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, 4, res.ID)
	assert.Equal(t, int64(3750), res.Bytes)

	events := sink.snapshot()
	require.Len(t, events, res.Chunks)
	var total int
	for i, ev := range events {
		total += ev.Bytes
		assert.Equal(t, 4, ev.StreamID)
		assert.GreaterOrEqual(t, ev.InterArrival, time.Duration(0))
		if i > 0 {
			assert.Equal(t, ev.ArrivedAt.Sub(events[i-1].ArrivedAt), ev.InterArrival)
		}
	}
	assert.Equal(t, 3750, total)
	assert.Equal(t, []int{4}, sink.completedIDs())
}

func TestStreamWorker_CompleteRunsBeforeBodyClose(t *testing.T) {
	sink := &recordingSink{}
	var completedAtClose []int
	client := &http.Client{Transport: scriptedTransport{
		"a.test": func(ctx context.Context) io.ReadCloser {
			return &pacedBody{
				ctx:     ctx,
				sizes:   []int{1250, 1250},
				gap:     time.Millisecond,
				onClose: func() { completedAtClose = sink.completedIDs() },
			}
		},
	}}
	w := NewStreamWorker(7, Target{URL: "http://a.test/speedtest"}, client, sink, 0, zaptest.NewLogger(t))

	res := w.Run(context.Background())

	require.Equal(t, StreamCompleted, res.State)
	assert.Equal(t, int64(2500), res.Bytes)
	assert.Equal(t, []int{7}, completedAtClose)
}

func TestStreamWorker_InterArrivalUsesInjectedClock(t *testing.T) {
	srv := httptest.NewServer(chunkedHandler(2, 100, 10*time.Millisecond))
	defer srv.Close()

	sink := &recordingSink{}
	w := NewStreamWorker(0, Target{URL: srv.URL}, srv.Client(), sink, 0, zaptest.NewLogger(t))
	clock := epoch
	w.now = func() time.Time {
		clock = clock.Add(25 * time.Millisecond)
		return clock
	}

	res := w.Run(context.Background())

	require.Equal(t, StreamCompleted, res.State)
	for _, ev := range sink.snapshot() {
		assert.Equal(t, 25*time.Millisecond, ev.InterArrival)
	}
}

func TestStreamWorker_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	w := NewStreamWorker(1, Target{URL: srv.URL}, srv.Client(), sink, 0, zaptest.NewLogger(t))

	res := w.Run(context.Background())

	assert.Equal(t, StreamFailed, res.State)
	assert.True(t, errors.Is(res.Err, ErrStreamFailed))
	assert.Contains(t, res.Error, "403")
	assert.Empty(t, sink.snapshot())
	assert.Empty(t, sink.completedIDs())
}

func TestStreamWorker_ConnectionErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := NewStreamWorker(0, Target{URL: url}, nil, &recordingSink{}, 0, zaptest.NewLogger(t))
	res := w.Run(context.Background())

	assert.Equal(t, StreamFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrStreamFailed)
}

func TestStreamWorker_CancelStopsStream(t *testing.T) {
	srv := httptest.NewServer(endlessHandler(512, 10*time.Millisecond))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	w := NewStreamWorker(2, Target{URL: srv.URL}, srv.Client(), sink, 0, zaptest.NewLogger(t))

	done := make(chan StreamResult, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, StreamCancelled, res.State)
		assert.NoError(t, res.Err)
		assert.Positive(t, res.Bytes)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

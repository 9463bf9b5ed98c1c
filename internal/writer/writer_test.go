package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer

	rw, pw, err := New("", &buf, true)
	require.NoError(t, err)
	assert.IsType(t, &ConsoleWriter{}, rw)
	assert.NotNil(t, pw)

	rw, pw, err = New(FormatJSON, &buf, true)
	require.NoError(t, err)
	assert.IsType(t, &JSONWriter{}, rw)
	assert.Nil(t, pw)

	rw, _, err = New(FormatCSV, &buf, true)
	require.NoError(t, err)
	assert.IsType(t, &CSVWriter{}, rw)

	_, _, err = New("xml", &buf, true)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestJSONWriter_WriteReport(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJSONWriter(&buf, true)

	require.NoError(t, jw.WriteReport(context.Background(), testReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(2), decoded["history_count"])
	assert.Len(t, decoded["history"], 2)

	summary := decoded["summary"].(map[string]any)
	assert.Equal(t, 93.456, summary["speed"])
	assert.Equal(t, "12 ms", summary["latency"])
	assert.Equal(t, "4s", summary["duration"])
	assert.Equal(t, "2025-12-16T10:00:05Z", summary["time"])
	assert.Equal(t, float64(1765879205), summary["timestamp"])
}

func TestJSONWriter_WithoutHistory(t *testing.T) {
	var buf bytes.Buffer
	report := testReport()
	jw := NewJSONWriter(&buf, false)

	require.NoError(t, jw.WriteReport(context.Background(), report))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(2), decoded["history_count"], "count is kept even when entries are omitted")
	assert.Nil(t, decoded["history"])
	assert.Len(t, report.History, 2, "the caller's report is not modified")
}

func TestSubmitter_Submit(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"key":"abc123"}`))
	}))
	defer srv.Close()

	tests := []struct {
		name      string
		resultURL string
		want      string
	}{
		{name: "base url", resultURL: "https://results.example/r/", want: "https://results.example/r/abc123"},
		{name: "template", resultURL: "https://results.example/?id={key}", want: "https://results.example/?id=abc123"},
		{name: "no result url", resultURL: "", want: "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSubmitter(srv.URL, tt.resultURL, srv.Client(), zaptest.NewLogger(t))

			shareURL, err := s.Submit(context.Background(), testReport())

			require.NoError(t, err)
			assert.Equal(t, tt.want, shareURL)
			assert.Equal(t, 93.456, got.Summary.Speed)
			assert.Equal(t, "6f1c1a70-5f55-4b43-9a2e-58f0c3a1b2c4", got.RunID)
		})
	}
}

func TestSubmitter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "oops", wantErr: ErrSubmitFailed},
		{name: "invalid json", status: http.StatusOK, body: "<html>", wantErr: ErrSubmitFailed},
		{name: "missing key", status: http.StatusOK, body: `{"id":"x"}`, wantErr: ErrMissingKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewSubmitter(srv.URL, "", srv.Client(), zaptest.NewLogger(t))
			_, err := s.Submit(context.Background(), testReport())

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

type fakeKafka struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWriter_WriteReport(t *testing.T) {
	fake := &fakeKafka{}
	kw := &KafkaWriter{writer: fake, topic: "speedprobe-reports"}
	report := testReport()

	require.NoError(t, kw.WriteReport(context.Background(), report))
	require.NoError(t, kw.Close())

	require.Len(t, fake.msgs, 1)
	msg := fake.msgs[0]
	assert.Equal(t, report.RunID, string(msg.Key))
	assert.Equal(t, report.GeneratedAt, msg.Time)
	assert.True(t, fake.closed)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, report.RunID, decoded["run_id"])
}

func TestKafkaWriter_WriteReportError(t *testing.T) {
	kw := &KafkaWriter{writer: &fakeKafka{err: errors.New("leader not available")}, topic: "t"}

	err := kw.WriteReport(context.Background(), testReport())

	assert.ErrorContains(t, err, "leader not available")
}

func TestFormatBitsPerSecond(t *testing.T) {
	tests := map[float64]string{
		0:             "0.00 bps",
		999:           "999 bps",
		12_500:        "12.5 Kbps",
		93_456_000:    "93.5 Mbps",
		1_250_000_000: "1.25 Gbps",
		-5:            "0",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatBitsPerSecond(in), "FormatBitsPerSecond(%v)", in)
	}
}

package measure

import (
	"time"

	"github.com/joepadmiraal/speedprobe/internal/metric"
)

// Location is a coarse geographic position reported by the target API.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Target is one CDN endpoint used as a single download stream.
type Target struct {
	Name     string   `json:"name,omitempty"`
	URL      string   `json:"url"`
	Location Location `json:"location"`
}

// ClientInfo is what the target API knows about the machine running the test.
type ClientInfo struct {
	IP       string   `json:"ip"`
	ASN      string   `json:"asn"`
	ISP      string   `json:"isp"`
	Location Location `json:"location"`
}

// Plan is the input of a single run.
type Plan struct {
	Targets []Target
	Client  ClientInfo
}

// ByteEvent is emitted by a StreamWorker for every chunk it reads.
type ByteEvent struct {
	StreamID     int
	Bytes        int
	ArrivedAt    time.Time
	InterArrival time.Duration
}

// Snapshot is the aggregate state published on every tick.
type Snapshot struct {
	Tick                 int           `json:"tick"`
	AverageBandwidthBits float64       `json:"bits"`
	AverageLatency       time.Duration `json:"-"`
	LatencyKnown         bool          `json:"-"`
	Latency              string        `json:"latency"`
	Elapsed              time.Duration `json:"-"`
	Duration             string        `json:"duration"`
	Timestamp            time.Time     `json:"time"`
}

// Mbps returns the average bandwidth in megabits per second.
func (s Snapshot) Mbps() float64 {
	return s.AverageBandwidthBits / 1e6
}

// StreamState is how a stream ended.
type StreamState string

const (
	StreamCompleted StreamState = "completed"
	StreamCancelled StreamState = "cancelled"
	StreamFailed    StreamState = "failed"
)

// StreamResult describes how a single worker ended.
type StreamResult struct {
	ID     int         `json:"id"`
	URL    string      `json:"url"`
	Bytes  int64       `json:"bytes"`
	Chunks int         `json:"chunks"`
	State  StreamState `json:"state"`
	Error  string      `json:"error,omitempty"`
	Err    error       `json:"-"`
}

// Summary mirrors the flat payload shape consumed by the result service.
type Summary struct {
	Speed     float64  `json:"speed"`
	Latency   string   `json:"latency"`
	IP        string   `json:"ip"`
	MAC       string   `json:"mac"`
	Duration  string   `json:"duration"`
	IPv6      string   `json:"ipv6"`
	Bits      float64  `json:"bits"`
	DNS       []string `json:"dns"`
	Time      string   `json:"time"`
	Timestamp int64    `json:"timestamp"`
}

// Report is the final result of a run.
type Report struct {
	RunID       string          `json:"run_id"`
	Partial     bool            `json:"partial"`
	Summary     Summary         `json:"summary"`
	Measurement Snapshot        `json:"measurement"`
	Host        metric.HostInfo `json:"host"`
	Client      ClientInfo      `json:"client"`
	Streams     []StreamResult  `json:"streams"`
	History     []Snapshot      `json:"history"`
	ShareURL    string          `json:"share_url,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

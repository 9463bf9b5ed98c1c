package metric

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Pinger measures the idle ICMP round trip to a download target.
type Pinger struct {
	count      int
	timeout    time.Duration
	privileged bool
}

type PingMetrics struct {
	Timestamp time.Time
	Host      string
	RTT       time.Duration
	Error     error
}

func NewPinger(count int, timeout time.Duration, privileged bool) *Pinger {
	if count <= 0 {
		count = 1
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Pinger{
		count:      count,
		timeout:    timeout,
		privileged: privileged,
	}
}

// Ping sends the configured number of echo requests to the host of rawURL.
func (p *Pinger) Ping(ctx context.Context, rawURL string) PingMetrics {
	result := PingMetrics{Timestamp: time.Now()}

	domain, err := extractDomain(rawURL)
	if err != nil {
		result.Error = fmt.Errorf("failed to extract domain from URL: %w", err)
		return result
	}
	result.Host = domain

	result.RTT, result.Error = p.ping(ctx, domain)
	return result
}

func (p *Pinger) ping(ctx context.Context, domain string) (time.Duration, error) {
	pinger, err := probing.NewPinger(domain)
	if err != nil {
		return 0, err
	}

	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	err = pinger.RunWithContext(ctx)
	if err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("no response received")
	}

	return stats.AvgRtt, nil
}

func extractDomain(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	host := parsedURL.Hostname()
	if host == "" {
		return "", fmt.Errorf("no hostname found in URL")
	}

	return host, nil
}

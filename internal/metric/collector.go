package metric

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CollectorConfig selects the optional lookups and bounds them with Timeout.
type CollectorConfig struct {
	Timeout        time.Duration
	PingEnabled    bool
	PingCount      int
	PingPrivileged bool
	GeoIPDatabase  string
	ResolvConf     string
}

// HostCollector gathers host metadata after a measurement. Every lookup runs
// independently; a failing lookup leaves its fields Unavailable.
type HostCollector struct {
	timeout time.Duration
	system  *SystemMetrics
	geo     *GeoLocator
	logger  *zap.Logger

	gateway func(ctx context.Context) (Gateway, error)
	address func(ctx context.Context, preferred string) (Address, error)
	dns     func() ([]string, error)
	sysInfo func(ctx context.Context) (SystemStats, string, error)
	ping    func(ctx context.Context, rawURL string) PingMetrics
	locate  func(ctx context.Context, targetURLs []string) []TargetGeo
}

// NewHostCollector wires the real lookups. system may be nil when load sampling is off.
func NewHostCollector(cfg CollectorConfig, system *SystemMetrics, logger *zap.Logger) *HostCollector {
	c := &HostCollector{
		timeout: cfg.Timeout,
		system:  system,
		logger:  logger,
		gateway: DefaultGateway,
		address: HostAddress,
		dns:     func() ([]string, error) { return HostDNS(cfg.ResolvConf) },
		sysInfo: SystemInfo,
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}

	if cfg.PingEnabled {
		c.ping = NewPinger(cfg.PingCount, c.timeout, cfg.PingPrivileged).Ping
	}

	if cfg.GeoIPDatabase != "" {
		geo, err := OpenGeoLocator(cfg.GeoIPDatabase)
		if err != nil {
			logger.Warn("GeoIP database unavailable, target locations disabled", zap.Error(err))
		} else {
			c.geo = geo
			c.locate = geo.Locate
		}
	}
	return c
}

// Collect never fails.
func (c *HostCollector) Collect(ctx context.Context, targetURLs []string) HostInfo {
	info := unavailableHost()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// The address lookup prefers the gateway interface, so the gateway goes first.
	gw, err := c.gateway(ctx)
	if err != nil {
		c.logger.Debug("Default gateway lookup failed", zap.Error(err))
	} else {
		info.Gateway = gw
	}

	// Each goroutine writes a distinct field of info; Wait orders those writes before the return.
	var g errgroup.Group

	g.Go(func() error {
		addr, err := c.address(ctx, gw.Interface)
		if err != nil {
			c.logger.Debug("Host address lookup failed", zap.Error(err))
			return nil
		}
		info.IP, info.IPv6, info.MAC = addr.IP, addr.IPv6, addr.MAC
		return nil
	})

	g.Go(func() error {
		servers, err := c.dns()
		if err != nil {
			c.logger.Debug("DNS server lookup failed", zap.Error(err))
			return nil
		}
		info.DNS = servers
		return nil
	})

	g.Go(func() error {
		stats, hostname, err := c.sysInfo(ctx)
		if err != nil {
			c.logger.Debug("System info lookup failed", zap.Error(err))
		}
		info.Hostname = hostname
		info.System = stats
		return nil
	})

	if c.ping != nil && len(targetURLs) > 0 {
		g.Go(func() error {
			res := c.ping(ctx, targetURLs[0])
			if res.Host != "" {
				info.PingHost = res.Host
			}
			if res.Error != nil {
				c.logger.Debug("Ping failed", zap.String("host", res.Host), zap.Error(res.Error))
				return nil
			}
			info.PingRTT = res.RTT
			return nil
		})
	}

	if c.locate != nil {
		g.Go(func() error {
			info.Targets = c.locate(ctx, targetURLs)
			return nil
		})
	}

	_ = g.Wait()

	if c.system != nil {
		load := c.system.GetAndResetMaxValues()
		if load.Error != nil {
			c.logger.Debug("System load sampling reported an error", zap.Error(load.Error))
		}
		info.System.MaxCpuUsage = load.CpuUsage
		info.System.MaxMemoryUsage = load.MemoryUsage
	}

	return info
}

func (c *HostCollector) Close() error {
	if c.geo == nil {
		return nil
	}
	return c.geo.Close()
}

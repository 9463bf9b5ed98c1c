package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joepadmiraal/speedprobe/internal/config"
	"github.com/joepadmiraal/speedprobe/internal/discovery"
	"github.com/joepadmiraal/speedprobe/internal/measure"
	"github.com/joepadmiraal/speedprobe/internal/metric"
	"github.com/joepadmiraal/speedprobe/internal/writer"
)

type Discoverer interface {
	Discover(ctx context.Context) (measure.Plan, error)
}

type Measurer interface {
	Run(ctx context.Context, plan measure.Plan) (*measure.Report, error)
	OnTick(fn func(measure.Snapshot))
}

type Submitter interface {
	Submit(ctx context.Context, report *measure.Report) (string, error)
}

// Monitor runs one complete speed test: discovery, measurement, submission
// and every configured report sink.
type Monitor struct {
	logger *zap.Logger

	discoverer Discoverer
	measurer   Measurer
	submitter  Submitter
	progress   writer.ProgressWriter
	sinks      []writer.ReportWriter

	systemMetrics *metric.SystemMetrics
	collector     *metric.HostCollector
	kafkaWriter   *writer.KafkaWriter

	metricsListen string
	metricsAddr   string
	metricsServer *http.Server
	registry      *prometheus.Registry
}

// NewMonitor wires every component from cfg. Reports are rendered to stdout.
func NewMonitor(cfg *config.Config, stdout io.Writer, logger *zap.Logger) (*Monitor, error) {
	m := &Monitor{
		logger:        logger,
		metricsListen: cfg.Metrics.Listen,
		registry:      prometheus.NewRegistry(),
	}
	m.registry.MustRegister(collectors.NewGoCollector())

	renderer, progress, err := writer.New(cfg.Report.Format, stdout, cfg.Report.History)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report writer: %w", err)
	}
	m.progress = progress
	m.sinks = append(m.sinks, renderer)

	if len(cfg.Report.Kafka.Brokers) > 0 {
		m.kafkaWriter = writer.NewKafkaWriter(cfg.Report.Kafka.Brokers, cfg.Report.Kafka.Topic)
		m.sinks = append(m.sinks, m.kafkaWriter)
		logger.Info("Publishing reports to Kafka",
			zap.Strings("brokers", cfg.Report.Kafka.Brokers),
			zap.String("topic", cfg.Report.Kafka.Topic),
		)
	}

	if cfg.Report.SubmitURL != "" {
		m.submitter = writer.NewSubmitter(cfg.Report.SubmitURL, cfg.Report.ResultURL, &http.Client{Timeout: 15 * time.Second}, logger.Named("submit"))
	}

	m.discoverer = discovery.NewClient(discovery.Config{
		PageURL:   cfg.Discovery.PageURL,
		APIURL:    cfg.Discovery.APIURL,
		URLCount:  cfg.Discovery.URLCount,
		UserAgent: cfg.Discovery.UserAgent,
		Timeout:   cfg.Discovery.Timeout,
	}, nil, logger.Named("discovery"))

	m.systemMetrics, err = metric.NewSystemMetrics(cfg.Metadata.SampleInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize system metrics: %w", err)
	}
	m.collector = metric.NewHostCollector(metric.CollectorConfig{
		Timeout:        cfg.Metadata.Timeout,
		PingEnabled:    cfg.Metadata.Ping.Enabled,
		PingCount:      cfg.Metadata.Ping.Count,
		PingPrivileged: cfg.Metadata.Ping.Privileged,
		GeoIPDatabase:  cfg.Metadata.GeoIPDatabase,
		ResolvConf:     cfg.Metadata.ResolvConf,
	}, m.systemMetrics, logger.Named("metadata"))

	m.measurer = measure.NewController(measure.Config{
		MaxDuration:    cfg.Measure.MaxDuration,
		ReadBufferSize: cfg.Measure.ReadBufferSize,
		Seed:           cfg.Measure.Seed,
	}, nil, m.collector, measure.NewMetrics(m.registry), logger.Named("measure"))

	return m, nil
}

// Run performs the speed test. Sinks only see a report when measurement succeeded.
func (m *Monitor) Run(ctx context.Context) (*measure.Report, error) {
	if err := m.startMetricsServer(); err != nil {
		return nil, err
	}

	m.status("Starting..")
	plan, err := m.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Measurement plan ready", zap.Int("targets", len(plan.Targets)))

	if m.progress != nil {
		m.measurer.OnTick(m.progress.WriteSnapshot)
	}
	m.status("Initializing..")

	sampleCtx, stopSampling := context.WithCancel(ctx)
	if m.systemMetrics != nil {
		go m.systemMetrics.Start(sampleCtx)
	}
	report, err := m.measurer.Run(ctx, plan)
	stopSampling()
	if err != nil {
		return nil, err
	}

	if m.submitter != nil {
		shareURL, err := m.submitter.Submit(ctx, report)
		if err != nil {
			m.logger.Warn("Result submission failed, continuing without share URL", zap.Error(err))
		} else {
			report.ShareURL = shareURL
		}
	}

	return report, m.writeReport(ctx, report)
}

func (m *Monitor) status(msg string) {
	if m.progress != nil {
		m.progress.WriteStatus(msg)
	}
}

// writeReport hands the report to every sink; one failing sink does not stop the others.
func (m *Monitor) writeReport(ctx context.Context, report *measure.Report) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.WriteReport(ctx, report); err != nil {
			m.logger.Error("Error writing report", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) startMetricsServer() error {
	if m.metricsListen == "" || m.metricsServer != nil {
		return nil
	}

	ln, err := net.Listen("tcp", m.metricsListen)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", m.metricsListen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.metricsAddr = ln.Addr().String()

	go func() {
		if err := m.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	m.logger.Info("Serving Prometheus metrics", zap.String("addr", m.metricsAddr))
	return nil
}

func (m *Monitor) Close() error {
	var errs []error
	if m.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	if m.kafkaWriter != nil {
		if err := m.kafkaWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	if m.collector != nil {
		if err := m.collector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close geoip database: %w", err))
		}
	}
	return errors.Join(errs...)
}

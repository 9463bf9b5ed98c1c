package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/joepadmiraal/speedprobe/internal/config"
	"github.com/joepadmiraal/speedprobe/internal/logging"
	"github.com/joepadmiraal/speedprobe/internal/monitor"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return exitFailure
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		return exitFailure
	}
	defer logger.Sync()

	// Ctrl-C aborts the measurement in flight
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := monitor.NewMonitor(cfg, os.Stdout, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Initialization error: %v\n", err)
		return exitFailure
	}
	defer m.Close()

	if _, err := m.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nInterrupted")
			return exitInterrupted
		}
		logger.Error("Speed test failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Speed test error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

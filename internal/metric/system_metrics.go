package metric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemStats describes the machine and the peak load observed while measuring.
type SystemStats struct {
	OS              string  `json:"os"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platform_version"`
	KernelVersion   string  `json:"kernel_version"`
	CPUModel        string  `json:"cpu_model"`
	CPUCores        int     `json:"cpu_cores"`
	MemoryTotal     uint64  `json:"memory_total"`
	MaxCpuUsage     float64 `json:"max_cpu_usage"`
	MaxMemoryUsage  float64 `json:"max_memory_usage"`
}

func unavailableSystem() SystemStats {
	return SystemStats{
		OS:              Unavailable,
		Platform:        Unavailable,
		PlatformVersion: Unavailable,
		KernelVersion:   Unavailable,
		CPUModel:        Unavailable,
	}
}

// SystemInfo reads the static description of the host.
func SystemInfo(ctx context.Context) (SystemStats, string, error) {
	stats := unavailableSystem()

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return stats, Unavailable, fmt.Errorf("host info: %w", err)
	}
	stats.OS = info.OS
	stats.Platform = info.Platform
	stats.PlatformVersion = info.PlatformVersion
	stats.KernelVersion = info.KernelVersion

	cpus, err := cpu.InfoWithContext(ctx)
	if err == nil && len(cpus) > 0 {
		stats.CPUModel = cpus[0].ModelName
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.CPUCores = cores
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryTotal = vm.Total
	}
	return stats, info.Hostname, nil
}

// SystemMetrics samples CPU and memory usage in the background and keeps the
// highest values seen since the last reset. A download test saturating the
// host is visible in the report through these peaks.
type SystemMetrics struct {
	maxCpuUsage    float64
	maxMemoryUsage float64
	lastError      error
	mu             sync.Mutex
	interval       time.Duration

	cpuUsage    func(ctx context.Context) (float64, error)
	memoryUsage func(ctx context.Context) (float64, error)
}

type SystemMetricsData struct {
	Timestamp   time.Time
	CpuUsage    float64
	MemoryUsage float64
	Error       error
}

func NewSystemMetrics(interval time.Duration) (*SystemMetrics, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sample interval must be positive, got %v", interval)
	}
	return &SystemMetrics{
		interval:    interval,
		cpuUsage:    getCpuUsage,
		memoryUsage: getMemoryUsage,
	}, nil
}

func (s *SystemMetrics) GetAndResetMaxValues() SystemMetricsData {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxCpu := s.maxCpuUsage
	maxMemory := s.maxMemoryUsage
	err := s.lastError

	s.maxCpuUsage = 0
	s.maxMemoryUsage = 0
	s.lastError = nil

	return SystemMetricsData{
		Timestamp:   time.Now(),
		CpuUsage:    maxCpu,
		MemoryUsage: maxMemory,
		Error:       err,
	}
}

func (s *SystemMetrics) updateMetrics(cpuUsage, memUsage float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cpuUsage > s.maxCpuUsage {
		s.maxCpuUsage = cpuUsage
	}
	if memUsage > s.maxMemoryUsage {
		s.maxMemoryUsage = memUsage
	}
}

func (s *SystemMetrics) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
}

// Start samples until ctx is cancelled.
func (s *SystemMetrics) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sample(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *SystemMetrics) sample(ctx context.Context) {
	cpuUsage, err := s.cpuUsage(ctx)
	if err != nil {
		s.recordError(err)
		return
	}

	memUsage, err := s.memoryUsage(ctx)
	if err != nil {
		s.recordError(err)
		return
	}

	s.updateMetrics(cpuUsage, memUsage)
}

func getCpuUsage(ctx context.Context) (float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}

	if len(percentages) == 0 {
		return 0, nil
	}

	return percentages[0], nil
}

func getMemoryUsage(ctx context.Context) (float64, error) {
	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}

	return vmStat.UsedPercent, nil
}

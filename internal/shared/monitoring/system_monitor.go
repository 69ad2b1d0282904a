package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics holds current process resource measurements
type SystemMetrics struct {
	CPUPercent  float64   // CPU usage since the previous sample
	MemoryBytes int64     // Resident set size
	MemoryMB    float64   // Resident set size in MB
	Goroutines  int       // Current goroutine count
	Timestamp   time.Time // When these metrics were captured
}

// SystemMonitor samples this process's CPU and memory on an interval and
// publishes them as gauges. Readers get the latest sample without touching
// /proc themselves.
type SystemMonitor struct {
	proc   *process.Process
	logger zerolog.Logger

	mu      sync.RWMutex
	metrics SystemMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystemMonitor creates a monitor for the current process.
func NewSystemMonitor(logger zerolog.Logger) (*SystemMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SystemMonitor{
		proc:    proc,
		logger:  logger.With().Str("component", "system_monitor").Logger(),
		metrics: SystemMetrics{Timestamp: time.Now()},
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// StartMonitoring begins periodic updates. Call once.
func (sm *SystemMonitor) StartMonitoring(interval time.Duration) {
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer RecoverPanic(sm.logger, "systemMonitor", nil)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sm.logger.Info().
			Dur("interval", interval).
			Msg("SystemMonitor started")

		sm.updateMetrics()

		for {
			select {
			case <-ticker.C:
				sm.updateMetrics()

			case <-sm.ctx.Done():
				sm.logger.Info().Msg("SystemMonitor stopped")
				return
			}
		}
	}()
}

// updateMetrics performs a single measurement
func (sm *SystemMonitor) updateMetrics() {
	// Percent(0) reports usage since the previous call
	cpuPercent, err := sm.proc.Percent(0)
	if err != nil {
		LogError(sm.logger, err, "Failed to get CPU usage", nil)
		cpuPercent = 0
	}

	var rss int64
	if mem, err := sm.proc.MemoryInfo(); err != nil {
		LogError(sm.logger, err, "Failed to get memory usage", nil)
	} else {
		rss = int64(mem.RSS)
	}

	goroutines := runtime.NumGoroutine()

	sm.mu.Lock()
	sm.metrics = SystemMetrics{
		CPUPercent:  cpuPercent,
		MemoryBytes: rss,
		MemoryMB:    float64(rss) / (1024 * 1024),
		Goroutines:  goroutines,
		Timestamp:   time.Now(),
	}
	sm.mu.Unlock()

	CpuUsagePercent.Set(cpuPercent)
	MemoryUsageBytes.Set(float64(rss))
	GoroutinesActive.Set(float64(goroutines))

	sm.logger.Debug().
		Float64("cpu_percent", cpuPercent).
		Float64("memory_mb", float64(rss)/(1024*1024)).
		Int("goroutines", goroutines).
		Msg("System metrics updated")
}

// GetMetrics returns a copy of the current metrics.
func (sm *SystemMonitor) GetMetrics() SystemMetrics {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.metrics
}

// Shutdown stops the sampling goroutine and waits for it.
func (sm *SystemMonitor) Shutdown() {
	sm.cancel()
	sm.wg.Wait()
}

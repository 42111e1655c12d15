// Package monitor runs the periodic reconciliation pass.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/metrics"
)

// DefaultInterval is the time between two passes.
const DefaultInterval = 5 * time.Second

// Sweeper is the part of the supervisor the monitor drives.
type Sweeper interface {
	Sweep(ctx context.Context, allow func(name string) bool) manager.SweepResult
}

// Config controls the pass interval and the crash-loop breaker. With
// MaxRestarts == 0 every detected death is restarted.
type Config struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxRestarts   int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	RestartWindow time.Duration `mapstructure:"restart_window" yaml:"restart_window"`
}

type Monitor struct {
	sweeper Sweeper
	cfg     Config
	logger  *slog.Logger

	lmu      sync.Mutex
	limiters map[string]*rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(s Sweeper, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxRestarts > 0 && cfg.RestartWindow <= 0 {
		cfg.RestartWindow = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		sweeper:  s,
		cfg:      cfg,
		logger:   logger.With("component", "monitor"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start launches the loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("monitor started", "interval", m.cfg.Interval, "max_restarts", m.cfg.MaxRestarts)
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass.
func (m *Monitor) RunOnce(ctx context.Context) manager.SweepResult {
	began := time.Now()
	res := m.sweeper.Sweep(ctx, m.allow)
	metrics.ObserveMonitorPass(time.Since(began).Seconds())
	if len(res.Failed) > 0 || res.Restarted != "" {
		m.logger.Debug("pass complete", "checked", res.Checked, "failed", res.Failed, "restarted", res.Restarted)
	}
	return res
}

// allow reports whether name may be auto-restarted now. Each name gets a
// token bucket of MaxRestarts tokens refilled over RestartWindow.
func (m *Monitor) allow(name string) bool {
	if m.cfg.MaxRestarts <= 0 {
		return true
	}
	m.lmu.Lock()
	l, ok := m.limiters[name]
	if !ok {
		every := m.cfg.RestartWindow / time.Duration(m.cfg.MaxRestarts)
		l = rate.NewLimiter(rate.Every(every), m.cfg.MaxRestarts)
		m.limiters[name] = l
	}
	m.lmu.Unlock()
	return l.Allow()
}

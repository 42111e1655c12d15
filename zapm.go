// Package zapm is the embeddable facade over the zapm process manager.
package zapm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/zapm/internal/config"
	"github.com/loykin/zapm/internal/env"
	"github.com/loykin/zapm/internal/logger"
	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/metrics"
	"github.com/loykin/zapm/internal/monitor"
	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/registry"
	iapi "github.com/loykin/zapm/internal/server"
	"github.com/loykin/zapm/internal/store"
	storefactory "github.com/loykin/zapm/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = process.Record

type Status = process.Status

const (
	StatusRunning = process.StatusRunning
	StatusStopped = process.StatusStopped
	StatusFailed  = process.StatusFailed
	StatusUnknown = process.StatusUnknown
)

type Definition = manager.Definition

type StartRequest = manager.StartRequest

type View = manager.View

type MonitorConfig = monitor.Config

type Config = cfg.Config

// ErrNotFound is returned for operations on names that have no record.
var ErrNotFound = process.ErrNotFound

// Options configure New.
type Options struct {
	// StoreDSN selects the process table backend; see the store factory.
	StoreDSN string
	// LogDir receives <name>.stdout.log and <name>.stderr.log; empty discards output.
	LogDir string
	Env    []string
	// IsolateEnv starts children from Env alone instead of this process's environment.
	IsolateEnv bool
	StopGrace  time.Duration
	Logger     *slog.Logger
}

// Manager is a thin facade over internal/manager.Supervisor.
type Manager struct {
	inner *manager.Supervisor
	store store.Store
}

func New(ctx context.Context, o Options) (*Manager, error) {
	st, err := storefactory.NewFromDSN(o.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e := env.New()
	e.UseOS = !o.IsolateEnv
	e.SetPairs(o.Env)
	sup := manager.New(manager.Options{
		Registry:  registry.New(ctx, st, o.Logger),
		Env:       e,
		Logs:      logger.Config{File: logger.FileConfig{Dir: o.LogDir}},
		StopGrace: o.StopGrace,
		Logger:    o.Logger,
	})
	return &Manager{inner: sup, store: st}, nil
}

func (m *Manager) Add(ctx context.Context, d Definition) (Record, error)    { return m.inner.Add(ctx, d) }
func (m *Manager) Upsert(ctx context.Context, d Definition) (Record, error) { return m.inner.Upsert(ctx, d) }

// Start launches the stored definition of name.
func (m *Manager) Start(ctx context.Context, name string) (Record, error) {
	return m.inner.Launch(ctx, name, StartRequest{})
}
func (m *Manager) Launch(ctx context.Context, name string, req StartRequest) (Record, error) {
	return m.inner.Launch(ctx, name, req)
}
func (m *Manager) Stop(ctx context.Context, name string) (Record, error) { return m.inner.Stop(ctx, name) }
func (m *Manager) Restart(ctx context.Context, name string) (Record, error) {
	return m.inner.Restart(ctx, name)
}
func (m *Manager) Remove(ctx context.Context, name string, force bool) error {
	return m.inner.Remove(ctx, name, force)
}
func (m *Manager) List(ctx context.Context) []Record                   { return m.inner.List(ctx) }
func (m *Manager) Show(ctx context.Context, name string) (View, error) { return m.inner.Show(ctx, name) }
func (m *Manager) Status(ctx context.Context, name string) ([]View, error) {
	return m.inner.Status(ctx, name)
}

// Monitor returns a reconciliation monitor bound to m. Call Start and Stop on it.
func (m *Manager) Monitor(c MonitorConfig, l *slog.Logger) *monitor.Monitor {
	return monitor.New(m.inner, c, l)
}

// Handler exposes the HTTP API of m, e.g. for mounting in an existing mux.
func (m *Manager) Handler() http.Handler { return iapi.NewRouter(m.inner).Handler() }

// Close releases the store. Children keep running.
func (m *Manager) Close() error { return m.store.Close() }

func LoadConfig(dir string) (*Config, error) { return cfg.Load(dir) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

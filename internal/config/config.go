// Package config loads zapm.yaml and resolves the per-install paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/zapm/internal/env"
	"github.com/loykin/zapm/internal/logger"
	"github.com/loykin/zapm/internal/monitor"
)

const (
	FileName      = "zapm.yaml"
	StoreFileName = "processes.yaml"
	PIDFileName   = "zapm.pid"

	DefaultHost = "localhost"
	DefaultPort = 2400
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server" yaml:"server"`
	Store     StoreConfig    `mapstructure:"store" yaml:"store"`
	Monitor   monitor.Config `mapstructure:"monitor" yaml:"monitor"`
	Log       logger.Config  `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	History   HistoryConfig  `mapstructure:"history" yaml:"history"`
	Env       []string       `mapstructure:"env" yaml:"env"`
	EnvFiles  []string       `mapstructure:"env_files" yaml:"env_files"`
	UseOSEnv  bool           `mapstructure:"use_os_env" yaml:"use_os_env"`
	StopGrace time.Duration  `mapstructure:"stop_grace" yaml:"stop_grace"`

	// Dir is the directory the configuration was resolved against.
	Dir string `mapstructure:"-" yaml:"-"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type StoreConfig struct {
	// DSN selects the backend: a YAML path (default), sqlite://, or postgres://.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks" yaml:"sinks"`
}

// Dir returns the config directory: $ZAPM_HOME, /etc/zapm for root, else ~/.zapm.
func Dir() string {
	if d := strings.TrimSpace(os.Getenv("ZAPM_HOME")); d != "" {
		return filepath.Clean(d)
	}
	if os.Geteuid() == 0 {
		return "/etc/zapm"
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".zapm"
	}
	return filepath.Join(home, ".zapm")
}

// PIDFile is where the background server records its pid.
func (c *Config) PIDFile() string { return filepath.Join(c.Dir, PIDFileName) }

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.api_base_url", "")
	v.SetDefault("store.dsn", filepath.Join(dir, StoreFileName))
	v.SetDefault("monitor.interval", monitor.DefaultInterval.String())
	v.SetDefault("monitor.max_restarts", 0)
	v.SetDefault("monitor.restart_window", "1m")
	v.SetDefault("log.slog.level", "info")
	v.SetDefault("log.slog.format", "text")
	v.SetDefault("log.slog.color", true)
	v.SetDefault("log.slog.path", "")
	v.SetDefault("log.file.dir", filepath.Join(dir, "logs"))
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)
	v.SetDefault("stop_grace", "3s")
}

// Load reads <dir>/zapm.yaml, writing a default file on first use. ZAPM_*
// environment variables override file values, e.g. ZAPM_SERVER_PORT.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = Dir()
	}
	v := viper.New()
	setDefaults(v, dir)
	v.SetConfigType("yaml")

	path := filepath.Join(dir, FileName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}
	// env overrides apply after the default file is written so they never end up in it
	v.SetEnvPrefix("ZAPM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.Dir = dir
	if c.Server.APIBaseURL == "" {
		c.Server.APIBaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	c.Server.APIBaseURL = strings.TrimRight(c.Server.APIBaseURL, "/")
	return &c, nil
}

// ChildEnv builds the environment composer for children: OS env (when
// use_os_env), then env_files in order, then the env list.
func (c *Config) ChildEnv() (*env.Env, error) {
	e := env.New()
	e.UseOS = c.UseOSEnv
	for _, f := range c.EnvFiles {
		p := f
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.Dir, p)
		}
		if err := e.LoadFile(filepath.Clean(p)); err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
	}
	e.SetPairs(c.Env)
	return e, nil
}

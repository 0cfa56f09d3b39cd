// Package config loads the supervisor configuration: global settings and
// the ordered list of services. Files are read with viper (TOML by default,
// YAML or JSON by extension).
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/watchdogd/internal/env"
	"github.com/loykin/watchdogd/internal/logger"
	"github.com/loykin/watchdogd/internal/metrics"
	"github.com/loykin/watchdogd/internal/service"
)

// Defaults for the [settings] and [server] tables.
const (
	DefaultPollInterval    = 0.5
	DefaultStopTimeout     = 5.0
	DefaultMaxPollFailures = 5
	DefaultListen          = "127.0.0.1:8765"
	DefaultBasePath        = "/api"
	DefaultMetricsListen   = "127.0.0.1:9765"
	DefaultEventBuffer     = 256
)

// FileConfig represents the top-level file structure. Durations are given
// in seconds and may be fractional.
type FileConfig struct {
	Settings Settings        `mapstructure:"settings"`
	Log      logger.Config   `mapstructure:"log"`
	CrashLog CrashLogConfig  `mapstructure:"crash_log"`
	Server   ServerConfig    `mapstructure:"server"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	History  []HistoryConfig `mapstructure:"history"`
	Services []ServiceConfig `mapstructure:"services"`
}

type Settings struct {
	PollInterval    float64 `mapstructure:"poll_interval"`
	StopTimeout     float64 `mapstructure:"stop_timeout"`
	MaxPollFailures int     `mapstructure:"max_poll_failures"`
	// UseOSEnv lets services inherit the supervisor's environment.
	UseOSEnv bool     `mapstructure:"use_os_env"`
	EnvFiles []string `mapstructure:"env_files"`
	Env      []string `mapstructure:"env"`
	// ProfileBaseDir is the default for services using a unique profile.
	ProfileBaseDir string `mapstructure:"profile_base_dir"`
}

// CrashLogConfig enables the human-readable crash report file.
type CrashLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	// EventBuffer is the number of recent events kept for the API.
	EventBuffer int `mapstructure:"event_buffer"`
}

type MetricsConfig struct {
	Enabled   bool                   `mapstructure:"enabled"`
	Listen    string                 `mapstructure:"listen"`
	Resources metrics.ResourceConfig `mapstructure:"resources"`
}

// HistoryConfig is one persistent event sink. See history/factory for DSNs.
type HistoryConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ServiceConfig is one [[services]] entry.
type ServiceConfig struct {
	Name        string            `mapstructure:"name"`
	Type        string            `mapstructure:"type"`
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Workspace   string            `mapstructure:"workspace"`
	Environment map[string]string `mapstructure:"environment"`

	Enabled     *bool `mapstructure:"enabled"`
	AutoRestart *bool `mapstructure:"auto_restart"`

	StartupDelay            float64  `mapstructure:"startup_delay"`
	MinUptimeForCrash       float64  `mapstructure:"min_uptime_for_crash"`
	TrackChildProcesses     bool     `mapstructure:"track_child_processes"`
	SnapshotCaptureDuration float64  `mapstructure:"snapshot_capture_duration"`
	ExtraProcessNames       []string `mapstructure:"extra_process_names"`
	RequireDescendant       bool     `mapstructure:"require_descendant"`

	Interpreter      string  `mapstructure:"interpreter"`
	PackageManager   string  `mapstructure:"package_manager"`
	UseUniqueProfile bool    `mapstructure:"use_unique_profile"`
	ProfileBaseDir   string  `mapstructure:"profile_base_dir"`
	StopTimeout      float64 `mapstructure:"stop_timeout"`
	RestartInterval  float64 `mapstructure:"restart_interval"`
	LogDir           string  `mapstructure:"log_dir"`
}

// Config is a loaded, substituted and validated configuration.
type Config struct {
	Path string
	File FileConfig
	// Env holds the global variables services are launched with.
	Env *env.Env
	// Services lists every definition in file order, disabled ones included.
	Services []service.Definition
}

// PollInterval returns settings.poll_interval as a duration.
func (c *Config) PollInterval() time.Duration { return Seconds(c.File.Settings.PollInterval) }

// StopTimeout returns settings.stop_timeout as a duration.
func (c *Config) StopTimeout() time.Duration { return Seconds(c.File.Settings.StopTimeout) }

// Enabled returns the enabled definitions in order.
func (c *Config) Enabled() []service.Definition {
	out := make([]service.Definition, 0, len(c.Services))
	for _, d := range c.Services {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}
	v.SetDefault("settings.poll_interval", DefaultPollInterval)
	v.SetDefault("settings.stop_timeout", DefaultStopTimeout)
	v.SetDefault("settings.max_poll_failures", DefaultMaxPollFailures)
	v.SetDefault("settings.use_os_env", true)
	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.event_buffer", DefaultEventBuffer)
	v.SetDefault("metrics.listen", DefaultMetricsListen)
	return v
}

// ReadFile parses path without substitution or validation.
func ReadFile(path string) (FileConfig, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return fc, nil
}

// Load reads path, composes the global environment, substitutes ${VAR}
// references in service fields and validates the result. All problems
// found are returned together.
func Load(path string) (*Config, error) {
	fc, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := BuildEnv(fc.Settings, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg := &Config{Path: path, File: fc, Env: e}

	var errs []error
	errs = append(errs, fc.validate()...)
	for i, sc := range fc.Services {
		d, err := sc.definition(e, fc.Settings)
		if err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", i, err))
			continue
		}
		cfg.Services = append(cfg.Services, d)
	}
	if err := service.ValidateSet(cfg.Services); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc FileConfig) validate() []error {
	var errs []error
	s := fc.Settings
	if s.PollInterval <= 0 {
		errs = append(errs, errors.New("settings.poll_interval must be positive"))
	}
	if s.StopTimeout <= 0 {
		errs = append(errs, errors.New("settings.stop_timeout must be positive"))
	}
	if s.MaxPollFailures <= 0 {
		errs = append(errs, errors.New("settings.max_poll_failures must be positive"))
	}
	if fc.Server.Enabled && strings.TrimSpace(fc.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required when the server is enabled"))
	}
	if fc.Metrics.Enabled && strings.TrimSpace(fc.Metrics.Listen) == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if fc.CrashLog.Enabled && strings.TrimSpace(fc.CrashLog.Path) == "" && fc.Log.File.Dir == "" {
		errs = append(errs, errors.New("crash_log.path or log.file.dir is required when the crash log is enabled"))
	}
	for i, h := range fc.History {
		if strings.TrimSpace(h.DSN) == "" {
			errs = append(errs, fmt.Errorf("history[%d]: dsn is required", i))
		}
	}
	return errs
}

// BuildEnv composes the global environment: the OS environment when
// use_os_env is set, then env_files in order, then the env list. Relative
// env file paths resolve against base.
func BuildEnv(s Settings, base string) (*env.Env, error) {
	e := env.Isolated()
	if s.UseOSEnv {
		e = env.New()
	}
	for _, p := range s.EnvFiles {
		if !filepath.IsAbs(p) && base != "" {
			p = filepath.Join(base, p)
		}
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e.SetPairs(pairs)
	}
	e.SetPairs(s.Env)
	return e, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := unquote(strings.TrimSpace(line[i+1:]))
		out = append(out, k+"="+v)
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Seconds converts fractional seconds to a duration. Negative input is
// kept so validation can reject it.
func Seconds(f float64) time.Duration {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func (sc ServiceConfig) definition(e *env.Env, s Settings) (service.Definition, error) {
	kind := service.Kind(strings.ToLower(strings.TrimSpace(sc.Type)))
	if kind == "" {
		kind = service.KindExecutable
	}
	if !kind.Valid() {
		return service.Definition{}, fmt.Errorf("%w: %s: unknown type %q", service.ErrInvalidDefinition, sc.Name, sc.Type)
	}
	d := service.Definition{
		Name:                    strings.TrimSpace(sc.Name),
		Kind:                    kind,
		Command:                 e.Expand(sc.Command),
		Workspace:               e.Expand(sc.Workspace),
		Enabled:                 boolOr(sc.Enabled, true),
		AutoRestart:             boolOr(sc.AutoRestart, true),
		StartupDelay:            Seconds(sc.StartupDelay),
		MinUptimeForCrash:       Seconds(sc.MinUptimeForCrash),
		TrackChildProcesses:     sc.TrackChildProcesses,
		SnapshotCaptureDuration: Seconds(sc.SnapshotCaptureDuration),
		ExtraProcessNames:       append([]string(nil), sc.ExtraProcessNames...),
		RequireDescendant:       sc.RequireDescendant,
		Interpreter:             e.Expand(sc.Interpreter),
		PackageManager:          sc.PackageManager,
		UseUniqueProfile:        sc.UseUniqueProfile,
		ProfileBaseDir:          e.Expand(sc.ProfileBaseDir),
		StopTimeout:             Seconds(sc.StopTimeout),
		RestartInterval:         Seconds(sc.RestartInterval),
		LogDir:                  e.Expand(sc.LogDir),
	}
	if d.ProfileBaseDir == "" {
		d.ProfileBaseDir = e.Expand(s.ProfileBaseDir)
	}
	for _, a := range sc.Args {
		d.Args = append(d.Args, e.Expand(a))
	}
	if len(sc.Environment) > 0 {
		d.Environment = make(map[string]string, len(sc.Environment))
		for k, v := range sc.Environment {
			// viper lower-cases keys
			d.Environment[strings.ToUpper(k)] = e.Expand(v)
		}
	}
	return d, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

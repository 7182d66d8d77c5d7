package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/murugaratham/dwatch/internal/coordinator"
	"github.com/murugaratham/dwatch/internal/env"
	"github.com/murugaratham/dwatch/internal/launcher"
	"github.com/murugaratham/dwatch/internal/logger"
	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/scanner"
)

const (
	DefaultListen        = "127.0.0.1:8079"
	DefaultMetricsListen = "127.0.0.1:9179"
	DefaultStopWait      = 3 * time.Second
)

// Config is the TOML configuration file.
type Config struct {
	Workspaces []string        `mapstructure:"workspaces"`
	Env        []string        `mapstructure:"env"`
	EnvFiles   []string        `mapstructure:"env_files"`
	UseOSEnv   bool            `mapstructure:"use_os_env"`
	Scanner    ScannerConfig   `mapstructure:"scanner"`
	Debugger   DebuggerConfig  `mapstructure:"debugger"`
	Watch      WatchConfig     `mapstructure:"watch"`
	Projects   []ProjectConfig `mapstructure:"projects"`
	Log        logger.Config   `mapstructure:"log"`
	History    HistoryConfig   `mapstructure:"history"`
	Server     ServerConfig    `mapstructure:"server"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
}

type ScannerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Discriminator string        `mapstructure:"discriminator"`
	Reattach      string        `mapstructure:"reattach"`
	ProcessSource string        `mapstructure:"process_source"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
}

type DebuggerConfig struct {
	Type        string   `mapstructure:"type"`
	Name        string   `mapstructure:"name"`
	Adapter     string   `mapstructure:"adapter"`
	AdapterArgs []string `mapstructure:"adapter_args"`
	AdapterAddr string   `mapstructure:"adapter_addr"`
}

type WatchConfig struct {
	Dotnet   string        `mapstructure:"dotnet"`
	Args     []string      `mapstructure:"args"`
	Env      []string      `mapstructure:"env"`
	StopWait time.Duration `mapstructure:"stop_wait"`
}

// ProjectConfig is one [[projects]] entry.
type ProjectConfig struct {
	Workspace     string   `mapstructure:"workspace"`
	Project       string   `mapstructure:"project"`
	LaunchProfile string   `mapstructure:"launch_profile"`
	Args          []string `mapstructure:"args"`
	Env           []string `mapstructure:"env"`
	Autostart     bool     `mapstructure:"autostart"`
}

// HistoryConfig lists sink DSNs (sqlite://, postgres://, clickhouse://,
// opensearch://).
type HistoryConfig struct {
	DSN []string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Scanner.Interval <= 0 {
		c.Scanner.Interval = scanner.DefaultInterval
	}
	if c.Scanner.Discriminator == "" {
		c.Scanner.Discriminator = scanner.DefaultDiscriminator
	}
	if c.Scanner.Reattach == "" {
		c.Scanner.Reattach = string(scanner.PolicyPrompt)
	}
	if c.Scanner.ProcessSource == "" {
		c.Scanner.ProcessSource = "gopsutil"
	}
	if c.Scanner.QueryTimeout <= 0 {
		c.Scanner.QueryTimeout = procdir.DefaultQueryTimeout
	}
	if c.Debugger.Type == "" {
		c.Debugger.Type = coordinator.DefaultType
	}
	if c.Debugger.Name == "" {
		c.Debugger.Name = coordinator.DefaultName
	}
	if c.Watch.Dotnet == "" {
		c.Watch.Dotnet = "dotnet"
	}
	if c.Watch.StopWait <= 0 {
		c.Watch.StopWait = DefaultStopWait
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
	if c.Log.Slog.Level == "" {
		c.Log.Slog.Level = logger.LevelInfo
	}
	if c.Log.Slog.Format == "" {
		c.Log.Slog.Format = logger.FormatText
	}
}

// resolve makes relative paths relative to the directory of the config file
// and fills project workspaces from the first workspace.
func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.Workspaces {
		c.Workspaces[i] = abs(c.Workspaces[i])
	}
	for i := range c.EnvFiles {
		c.EnvFiles[i] = abs(c.EnvFiles[i])
	}
	for i := range c.Projects {
		p := &c.Projects[i]
		if p.Workspace == "" && len(c.Workspaces) > 0 {
			p.Workspace = c.Workspaces[0]
		}
		p.Workspace = abs(p.Workspace)
	}
	if c.Log.File.Dir != "" {
		c.Log.File.Dir = abs(c.Log.File.Dir)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := scanner.ParsePolicy(c.Scanner.Reattach); err != nil {
		errs = append(errs, err)
	}
	if _, err := procdir.NewLister(c.Scanner.ProcessSource); err != nil {
		errs = append(errs, err)
	}
	for i, p := range c.Projects {
		if p.Workspace == "" {
			errs = append(errs, fmt.Errorf("projects[%d]: workspace is required", i))
		}
	}
	if c.Debugger.Adapter != "" && c.Debugger.AdapterAddr != "" {
		errs = append(errs, errors.New("debugger: set either adapter or adapter_addr, not both"))
	}
	return errors.Join(errs...)
}

// Load reads a TOML file. Defaults are applied after decoding.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v, path)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	return v
}

func decode(v *viper.Viper, path string) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.applyDefaults()
	c.resolve(filepath.Dir(path))
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

// Watch reloads path whenever it changes and hands valid results to fn.
// Invalid edits are logged and skipped.
func Watch(path string, log *slog.Logger, fn func(*Config)) error {
	if log == nil {
		log = slog.Default()
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := decode(v, path)
		if err != nil {
			log.Warn("config reload rejected", "path", path, "error", err)
			return
		}
		log.Info("config reloaded", "path", path)
		fn(c)
	})
	v.WatchConfig()
	return nil
}

// Policy is the parsed reattach policy.
func (c *Config) Policy() scanner.Policy {
	p, err := scanner.ParsePolicy(c.Scanner.Reattach)
	if err != nil {
		return scanner.PolicyPrompt
	}
	return p
}

func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		Interval:      c.Scanner.Interval,
		Discriminator: c.Scanner.Discriminator,
		Policy:        c.Policy(),
		Workspaces:    append([]string(nil), c.Workspaces...),
	}
}

func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{Type: c.Debugger.Type, Name: c.Debugger.Name}
}

// GlobalEnv builds the watch environment: OS (when enabled), env files in
// order, then the top-level and [watch] env lists.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New().WithOS(c.UseOSEnv)
	for _, f := range c.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
	}
	e.SetPairs(c.Env)
	e.SetPairs(c.Watch.Env)
	return e, nil
}

func (c *Config) LauncherConfig() (launcher.Config, error) {
	e, err := c.GlobalEnv()
	if err != nil {
		return launcher.Config{}, err
	}
	return launcher.Config{Dotnet: c.Watch.Dotnet, Args: append([]string(nil), c.Watch.Args...), Env: e}, nil
}

// Descriptor converts a project entry into a launch request. Env entries
// are KEY=VALUE lists because viper folds map keys to lower case.
func (p ProjectConfig) Descriptor() launcher.Descriptor {
	d := launcher.Descriptor{
		Workspace:     p.Workspace,
		Project:       p.Project,
		LaunchProfile: p.LaunchProfile,
		Args:          append([]string(nil), p.Args...),
	}
	for _, kv := range p.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if d.Env == nil {
			d.Env = make(map[string]string)
		}
		d.Env[k] = v
	}
	return d
}

// Autostart lists the projects to launch when the engine starts.
func (c *Config) Autostart() []launcher.Descriptor {
	var out []launcher.Descriptor
	for _, p := range c.Projects {
		if p.Autostart {
			out = append(out, p.Descriptor())
		}
	}
	return out
}

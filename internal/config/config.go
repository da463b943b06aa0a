package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/sysmaint/internal/diag"
	"github.com/loykin/sysmaint/internal/instance"
	"github.com/loykin/sysmaint/internal/logger"
	"github.com/loykin/sysmaint/internal/purge"
	"github.com/loykin/sysmaint/internal/reclaim"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to upper-cased keys for environment overrides,
// e.g. SYSMAINT_MEMORY_MIN_AGE=10s.
const EnvPrefix = "SYSMAINT"

// Config represents the top-level TOML structure. Every key has a default,
// so an empty or missing file is valid.
type Config struct {
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	Instance InstanceConfig `toml:"instance" mapstructure:"instance"`
	Memory   MemoryConfig   `toml:"memory" mapstructure:"memory"`
	Purge    PurgeConfig    `toml:"purge" mapstructure:"purge"`
	Health   HealthConfig   `toml:"health" mapstructure:"health"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	NoColor    bool   `toml:"no_color" mapstructure:"no_color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Logger converts the section into a logger.Config.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		NoColor:    l.NoColor,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

type InstanceConfig struct {
	Name string        `toml:"name" mapstructure:"name"`
	Wait time.Duration `toml:"wait" mapstructure:"wait"`
}

type MemoryConfig struct {
	MinWorkingSetMB uint64        `toml:"min_working_set_mb" mapstructure:"min_working_set_mb"`
	MinAge          time.Duration `toml:"min_age" mapstructure:"min_age"`
	SettleDelay     time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`
	LargeTrimMB     uint64        `toml:"large_trim_mb" mapstructure:"large_trim_mb"`
	CriticalExtra   []string      `toml:"critical_extra" mapstructure:"critical_extra"`
}

// Policy builds the process selection policy for this section.
func (m MemoryConfig) Policy() *reclaim.Policy {
	p := reclaim.NewPolicy(m.CriticalExtra...)
	p.MinWorkingSet = m.MinWorkingSetMB * reclaim.MiB
	p.MinAge = m.MinAge
	return p
}

// Options returns the reclaimer tunables.
func (m MemoryConfig) Options() reclaim.Options {
	return reclaim.Options{SettleDelay: m.SettleDelay, LargeTrim: m.LargeTrimMB * reclaim.MiB}
}

type PurgeConfig struct {
	Delay time.Duration `toml:"delay" mapstructure:"delay"`
}

type HealthConfig struct {
	OutputWindow int    `toml:"output_window" mapstructure:"output_window"`
	DISM         string `toml:"dism" mapstructure:"dism"`
	SFC          string `toml:"sfc" mapstructure:"sfc"`
}

// Stages returns the diagnostic stage list using the configured tools.
func (h HealthConfig) Stages() []diag.Stage { return diag.DefaultStages(h.DISM, h.SFC) }

type HistoryConfig struct {
	// DSN accepts one DSN or a list; every entry becomes a sink.
	DSN []string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.no_color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("instance.name", instance.DefaultName)
	v.SetDefault("instance.wait", instance.DefaultWait)

	v.SetDefault("memory.min_working_set_mb", reclaim.DefaultMinWorkingSet/reclaim.MiB)
	v.SetDefault("memory.min_age", reclaim.DefaultMinAge)
	v.SetDefault("memory.settle_delay", reclaim.DefaultSettleDelay)
	v.SetDefault("memory.large_trim_mb", reclaim.DefaultLargeTrim/reclaim.MiB)
	v.SetDefault("memory.critical_extra", []string{})

	v.SetDefault("purge.delay", purge.DefaultDelay)

	v.SetDefault("health.output_window", diag.DefaultOutputWindow)
	v.SetDefault("health.dism", "dism")
	v.SetDefault("health.sfc", "sfc")

	v.SetDefault("history.dsn", []string{})
	v.SetDefault("metrics.textfile", "")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c, err := load(viper.New(), "")
	if err != nil {
		// defaults are static; failing here is a programming error
		panic(err)
	}
	return c
}

// Load reads a TOML file (optional when path is empty), applies defaults and
// SYSMAINT_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log: rotation limits must not be negative"))
	}
	if strings.TrimSpace(c.Instance.Name) == "" {
		errs = append(errs, errors.New("instance.name: must not be empty"))
	}
	if c.Instance.Wait < 0 {
		errs = append(errs, fmt.Errorf("instance.wait: must not be negative, got %s", c.Instance.Wait))
	}
	if c.Memory.MinAge < 0 {
		errs = append(errs, fmt.Errorf("memory.min_age: must not be negative, got %s", c.Memory.MinAge))
	}
	if c.Memory.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("memory.settle_delay: must not be negative, got %s", c.Memory.SettleDelay))
	}
	for _, n := range c.Memory.CriticalExtra {
		if strings.TrimSpace(n) == "" {
			errs = append(errs, errors.New("memory.critical_extra: empty process name"))
			break
		}
	}
	if c.Purge.Delay < 0 {
		errs = append(errs, fmt.Errorf("purge.delay: must not be negative, got %s", c.Purge.Delay))
	}
	if c.Health.OutputWindow <= 0 {
		errs = append(errs, fmt.Errorf("health.output_window: must be positive, got %d", c.Health.OutputWindow))
	}
	if strings.TrimSpace(c.Health.DISM) == "" || strings.TrimSpace(c.Health.SFC) == "" {
		errs = append(errs, errors.New("health: dism and sfc paths must not be empty"))
	}
	return errors.Join(errs...)
}

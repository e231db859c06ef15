package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sunlightlinux/svcgraph/internal/util"
	"github.com/sunlightlinux/svcgraph/pkg/executor"
	"github.com/sunlightlinux/svcgraph/pkg/logging"
)

// EnvPrefix prefixes environment overrides, e.g. SVCGRAPH_WORKERS.
const EnvPrefix = "SVCGRAPH"

// Settings configures a container host.
type Settings struct {
	Workers          int      `mapstructure:"workers" yaml:"workers"`
	LogLevel         string   `mapstructure:"log_level" yaml:"log_level"`
	ShutdownTimeout  string   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ShutdownSignals  []string `mapstructure:"shutdown_signals" yaml:"shutdown_signals"`
	MetricsNamespace string   `mapstructure:"metrics_namespace" yaml:"metrics_namespace"`
	MetricsAddr      string   `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
	ServiceDirs      []string `mapstructure:"service_dirs" yaml:"service_dirs"`
	Boot             []string `mapstructure:"boot" yaml:"boot"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Workers:          executor.DefaultWorkers,
		LogLevel:         "info",
		ShutdownTimeout:  "90s",
		ShutdownSignals:  []string{"SIGTERM", "SIGINT"},
		MetricsNamespace: "svcgraph",
		ServiceDirs:      []string{"services.d"},
		Boot:             []string{"boot"},
	}
}

// LoadSettings reads settings from path, if not empty, on top of the
// defaults, then applies SVCGRAPH_* environment overrides. Relative service
// directories are resolved against the settings file's directory.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	defaults := DefaultSettings()
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)
	v.SetDefault("shutdown_signals", defaults.ShutdownSignals)
	v.SetDefault("metrics_namespace", defaults.MetricsNamespace)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)
	v.SetDefault("service_dirs", defaults.ServiceDirs)
	v.SetDefault("boot", defaults.Boot)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading settings %s: %w", path, err)
		}
		base = util.ParentPath(path)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	for i, dir := range s.ServiceDirs {
		s.ServiceDirs[i] = util.CombinePaths(base, dir)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every field and reports all problems at once.
func (s *Settings) Validate() error {
	var errs []error
	if s.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", s.Workers))
	}
	if _, err := s.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.ShutdownTimeoutDuration(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown_timeout: %w", err))
	}
	if _, err := s.Signals(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown_signals: %w", err))
	}
	if len(s.ServiceDirs) == 0 {
		errs = append(errs, errors.New("service_dirs must not be empty"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (s *Settings) Level() (logging.Level, error) {
	return logging.ParseLevel(s.LogLevel)
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout.
func (s *Settings) ShutdownTimeoutDuration() (time.Duration, error) {
	return util.ParseDuration(s.ShutdownTimeout)
}

// Signals returns the parsed shutdown signals.
func (s *Settings) Signals() ([]syscall.Signal, error) {
	sigs := make([]syscall.Signal, 0, len(s.ShutdownSignals))
	for _, name := range s.ShutdownSignals {
		sig, err := util.ParseSignal(name)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// WriteSettings writes s to path as YAML, replacing the file atomically.
func WriteSettings(path string, s Settings) error {
	var buf bytes.Buffer
	buf.WriteString("# svcgraph host settings\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	temp, err := os.CreateTemp(dir, ".svcgraph.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(buf.Bytes()); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

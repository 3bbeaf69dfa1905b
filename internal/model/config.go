package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values come from an optional
// ffwd.yaml file overridden by FFWD_* environment variables, e.g.
// FFWD_LISTEN, FFWD_PROCESS_TIMEOUT.
type Config struct {
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	FFmpeg         string        `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	DataDir        string        `mapstructure:"data_dir" yaml:"data_dir"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout" yaml:"process_timeout"`
	Retention      time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	Verbose        bool          `mapstructure:"verbose" yaml:"verbose"`
}

func Defaults() Config {
	return Config{
		Listen:         ":8080",
		FFmpeg:         "ffmpeg",
		DataDir:        filepath.Join(os.TempDir(), "ffwd"),
		MaxUploadBytes: 512 << 20,
		ProcessTimeout: 30 * time.Minute,
		Retention:      24 * time.Hour,
		SweepInterval:  10 * time.Minute,
		Workers:        4,
		Verbose:        false,
	}
}

// Load reads the configuration from path (optional, empty means no
// file) with environment overrides applied on top of defaults.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("ffmpeg", def.FFmpeg)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("max_upload_bytes", def.MaxUploadBytes)
	v.SetDefault("process_timeout", def.ProcessTimeout)
	v.SetDefault("retention", def.Retention)
	v.SetDefault("sweep_interval", def.SweepInterval)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("verbose", def.Verbose)

	v.SetEnvPrefix("FFWD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen must not be empty"))
	}
	if c.FFmpeg == "" {
		errs = append(errs, errors.New("ffmpeg must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.ProcessTimeout <= 0 {
		errs = append(errs, errors.New("process_timeout must be positive"))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	return errors.Join(errs...)
}

// WriteDefault stores the default configuration as yaml, creating
// parent directories as needed. Durations are written in their string
// form so the file round-trips through Load.
func WriteDefault(path string) error {
	def := Defaults()
	doc := map[string]any{
		"listen":           def.Listen,
		"ffmpeg":           def.FFmpeg,
		"data_dir":         def.DataDir,
		"max_upload_bytes": def.MaxUploadBytes,
		"process_timeout":  def.ProcessTimeout.String(),
		"retention":        def.Retention.String(),
		"sweep_interval":   def.SweepInterval.String(),
		"workers":          def.Workers,
		"verbose":          def.Verbose,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

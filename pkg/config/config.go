package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/cuemby/trail/pkg/auth"
	"github.com/cuemby/trail/pkg/classify"
	"github.com/cuemby/trail/pkg/storage"
	"github.com/cuemby/trail/pkg/syncer"
	"github.com/cuemby/trail/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Config is the trail configuration file
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	DeviceID string         `yaml:"device_id,omitempty"`
	API      APIConfig      `yaml:"api"`
	HTTP     HTTPConfig     `yaml:"http"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	Queue    QueueConfig    `yaml:"queue"`
	Sync     SyncConfig     `yaml:"sync"`
	Classify ClassifyConfig `yaml:"classify"`
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
}

// APIConfig locates the backend endpoints. Paths are relative to BaseURL.
type APIConfig struct {
	BaseURL       string `yaml:"base_url"`
	TelemetryPath string `yaml:"telemetry_path"`
	RefreshPath   string `yaml:"refresh_path"`
	AuthPrefix    string `yaml:"auth_prefix"`
}

// HTTPConfig holds outbound HTTP settings
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SamplerConfig holds the fix filter thresholds
type SamplerConfig struct {
	MinInterval       time.Duration `yaml:"min_interval"`
	MaxAccuracyMeters float64       `yaml:"max_accuracy_meters"`
	MaxSpeedMPS       float64       `yaml:"max_speed_mps"`
}

// QueueConfig sizes the durable queue
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// SyncConfig controls when and how much the pipeline flushes
type SyncConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
	// FlushThreshold triggers a flush once this many entries are waiting
	FlushThreshold int `yaml:"flush_threshold"`
}

// ClassifyConfig controls fatal error reporting
type ClassifyConfig struct {
	ReportWindow time.Duration `yaml:"report_window"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AdminConfig configures the local admin API
type AdminConfig struct {
	// Addr is the listen address of the admin API; empty disables it
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		DataDir: "./trail-data",
		API: APIConfig{
			TelemetryPath: transport.DefaultTelemetryPath,
			RefreshPath:   auth.DefaultRefreshPath,
			AuthPrefix:    auth.DefaultAuthPrefix,
		},
		HTTP: HTTPConfig{Timeout: 30 * time.Second},
		Sampler: SamplerConfig{
			MinInterval:       25 * time.Second,
			MaxAccuracyMeters: 50,
			MaxSpeedMPS:       50,
		},
		Queue: QueueConfig{Capacity: storage.DefaultCapacity},
		Sync: SyncConfig{
			BatchSize:      syncer.DefaultBatchSize,
			Interval:       60 * time.Second,
			FlushThreshold: 5,
		},
		Classify: ClassifyConfig{ReportWindow: classify.DefaultReportWindow},
		Log:      LogConfig{Level: "info"},
		Admin:    AdminConfig{Addr: "127.0.0.1:9470"},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Sampler.MinInterval < 0 {
		errs = append(errs, errors.New("sampler.min_interval must not be negative"))
	}
	if c.Sampler.MaxAccuracyMeters <= 0 {
		errs = append(errs, errors.New("sampler.max_accuracy_meters must be positive"))
	}
	if c.Sampler.MaxSpeedMPS <= 0 {
		errs = append(errs, errors.New("sampler.max_speed_mps must be positive"))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, errors.New("queue.capacity must be positive"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chmdznr/recsync/pkg/models"
)

// ErrMissingAWSEnv is returned when region or bucket are not configured
var ErrMissingAWSEnv = errors.New("missing required AWS env variables")

type Config struct {
	RecordingsDir string `yaml:"recordings_dir"`
	Extension     string `yaml:"extension"`

	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Secure   bool   `yaml:"secure"`

	LedgerPath string `yaml:"ledger_path"`

	Watch WatchConfig `yaml:"watch"`
}

type WatchConfig struct {
	DebounceMS     int           `yaml:"debounce_ms"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
}

// DefaultConfig returns a Config struct with default values
func DefaultConfig() *Config {
	return &Config{
		RecordingsDir: "recordings",
		Extension:     ".mp4",
		Endpoint:      "s3.amazonaws.com",
		Secure:        true,
		LedgerPath:    "recsync.db",
		Watch: WatchConfig{
			DebounceMS:     2000,
			RescanInterval: time.Minute,
		},
	}
}

// Load reads configuration from the specified file path. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RecordingsDir == "" {
		c.RecordingsDir = def.RecordingsDir
	}
	if c.Extension == "" {
		c.Extension = def.Extension
	}
	if c.Endpoint == "" {
		c.Endpoint = def.Endpoint
	}
	if c.LedgerPath == "" {
		c.LedgerPath = def.LedgerPath
	}
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = def.Watch.DebounceMS
	}
	if c.Watch.RescanInterval <= 0 {
		c.Watch.RescanInterval = def.Watch.RescanInterval
	}
	c.Prefix = strings.TrimRight(c.Prefix, "/")
}

// Save persists the current configuration to the specified file path
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the object store destination is usable
func (c *Config) Validate() error {
	var missing []string
	if c.Region == "" {
		missing = append(missing, "AWS_REGION")
	}
	if c.Bucket == "" {
		missing = append(missing, "S3_BUCKET_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingAWSEnv, strings.Join(missing, ", "))
	}
	return nil
}

// Destination returns the object store settings
func (c *Config) Destination() models.Destination {
	return models.Destination{
		Endpoint: c.Endpoint,
		Region:   c.Region,
		Bucket:   c.Bucket,
		Prefix:   strings.TrimRight(c.Prefix, "/"),
		Secure:   c.Secure,
	}
}

// Debounce returns the watch debounce as a duration
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

package labq

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/viant/labq/service/aggregator"
	redisstore "github.com/viant/labq/service/store/redis"
)

// Config is a serialisable representation of the engine configuration. It can
// be populated from JSON or YAML. The zero-value is useful; all nested fields
// inherit their package defaults.
type Config struct {
	// ConfigURL points at the catalog directory holding resources.yaml and
	// laboratories.yaml.
	ConfigURL string `yaml:"configURL" json:"configURL"`

	// Redis selects the redis-backed store; when nil the engine runs on the
	// in-memory store, which only works single-process.
	Redis *redisstore.Config `yaml:"redis" json:"redis"`

	Aggregator aggregator.Config `yaml:"aggregator" json:"aggregator"`

	// StatusWaitCeiling clamps the caller-supplied maximum wait of a status
	// long-poll.
	StatusWaitCeiling time.Duration `yaml:"statusWaitCeiling" json:"statusWaitCeiling"`

	// UsageDB is the path of the sqlite usage database; empty disables usage
	// recording.
	UsageDB string `yaml:"usageDB" json:"usageDB"`
}

// DefaultConfig returns a Config populated with the package defaults. Callers
// may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Aggregator:        aggregator.DefaultConfig(),
		StatusWaitCeiling: 30 * time.Second,
	}
}

// LoadConfig reads a YAML configuration file, layered over DefaultConfig.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %v: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("invalid configuration %v: %w", URL, err)
	}
	return config, nil
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.ConfigURL == "" {
		return fmt.Errorf("configURL is required")
	}
	if c.StatusWaitCeiling <= 0 {
		return fmt.Errorf("statusWaitCeiling must be positive")
	}
	return c.Aggregator.Validate()
}

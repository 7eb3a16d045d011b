// Package pool implements a thread-safe database connection pool: a
// checkout/return protocol backed by a maintenance worker pool and a
// jittered exponential-backoff reconnection scheduler.
package pool

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of pool tuning, loaded the same way the
// teacher's internal/config package loads proxy/bucket YAML: read, parse,
// apply defaults, validate.
type Config struct {
	Name             string        `yaml:"name"`
	ConnInfo         string        `yaml:"conninfo"`
	MinConns         int           `yaml:"min_conns"`
	MaxConns         int           `yaml:"max_conns"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
	MaxIdle          time.Duration `yaml:"max_idle"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
	NumWorkers       int           `yaml:"num_workers"`
}

// LoadConfig reads and validates pool configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pool config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pool config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pool config validation: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinConns == 0 {
		c.MinConns = 4
	}
	if c.MaxConns == 0 {
		c.MaxConns = c.MinConns
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 10 * time.Minute
	}
	if c.ReconnectTimeout == 0 {
		c.ReconnectTimeout = 5 * time.Minute
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = 3
	}
}

func (c *Config) validate() error {
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max_conns=%d < min_conns=%d", c.MaxConns, c.MinConns)
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min_conns must be >= 0")
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("num_workers must be at least 1")
	}
	return nil
}

// Options converts a loaded Config into pool.Options. The hooks
// (Configure, ReconnectFailed) and Logger can't be expressed in YAML and
// are left unset; ConnInfo has no Options counterpart and is not carried
// over.
func (c *Config) Options() Options {
	return Options{
		Name:             c.Name,
		MinConns:         c.MinConns,
		MaxConns:         c.MaxConns,
		AcquireTimeout:   c.AcquireTimeout,
		MaxIdle:          c.MaxIdle,
		ReconnectTimeout: c.ReconnectTimeout,
		NumWorkers:       c.NumWorkers,
	}
}

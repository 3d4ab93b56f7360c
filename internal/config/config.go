// Package config loads Worker configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full set of worker options plus the timing tunables.
type Config struct {
	ID             string      `yaml:"id"`
	Capacity       int         `yaml:"capacity"`
	KeysPath       string      `yaml:"keys_path"`
	ResultsAddress string      `yaml:"results_address"`
	ControlAddress string      `yaml:"control_address"`
	MetricsAddress string      `yaml:"metrics_address"`
	Queue          QueueConfig `yaml:"queue_config"`
	Tunables       Tunables    `yaml:"tunables"`
}

// QueueConfig is opaque to the worker's scheduling logic; only the Redis
// transport adapter interprets it.
type QueueConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Tunables are the timing knobs adjustable without changing the worker's
// semantics.
type Tunables struct {
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	SchedulerQuantum   time.Duration `yaml:"scheduler_quantum"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
	ControlJoinTimeout time.Duration `yaml:"control_join_timeout"`
	PublishTimeout     time.Duration `yaml:"publish_timeout"`
	PoisonWindow       int           `yaml:"poison_window"`
	PoisonWindowPeriod time.Duration `yaml:"poison_window_period"`
}

// Load reads a YAML config file, then applies environment-variable
// overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config %s: %w", path, err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.ID = getEnv("WORKER_ID", c.ID)
	c.KeysPath = getEnv("WORKER_KEYS_PATH", c.KeysPath)
	c.ResultsAddress = getEnv("WORKER_RESULTS_ADDRESS", c.ResultsAddress)
	c.ControlAddress = getEnv("WORKER_CONTROL_ADDRESS", c.ControlAddress)
	c.MetricsAddress = getEnv("WORKER_METRICS_ADDRESS", c.MetricsAddress)

	if v := getEnvInt("WORKER_CAPACITY", 0); v > 0 {
		c.Capacity = v
	}

	c.Queue.Addr = getEnv("WORKER_QUEUE_ADDR", c.Queue.Addr)
	c.Queue.Password = getEnv("WORKER_QUEUE_PASSWORD", c.Queue.Password)
	c.Queue.Key = getEnv("WORKER_QUEUE_KEY", c.Queue.Key)
	if v := getEnvInt("WORKER_QUEUE_DB", -1); v >= 0 {
		c.Queue.DB = v
	}

	if v := getEnvDuration("WORKER_POLL_TIMEOUT", 0); v > 0 {
		c.Tunables.PollTimeout = v
	}
	if v := getEnvDuration("WORKER_SCHEDULER_QUANTUM", 0); v > 0 {
		c.Tunables.SchedulerQuantum = v
	}
	if v := getEnvDuration("WORKER_DRAIN_TIMEOUT", 0); v > 0 {
		c.Tunables.DrainTimeout = v
	}
	if v := getEnvDuration("WORKER_CONTROL_JOIN_TIMEOUT", 0); v > 0 {
		c.Tunables.ControlJoinTimeout = v
	}
	if v := getEnvDuration("WORKER_PUBLISH_TIMEOUT", 0); v > 0 {
		c.Tunables.PublishTimeout = v
	}
	if v := getEnvInt("WORKER_POISON_WINDOW", 0); v > 0 {
		c.Tunables.PoisonWindow = v
	}
	if v := getEnvDuration("WORKER_POISON_WINDOW_PERIOD", 0); v > 0 {
		c.Tunables.PoisonWindowPeriod = v
	}
}

// applyDefaults fills in the platform's standard timings: 30s drain, 2s
// control join, 100ms scheduler quantum.
func (c *Config) applyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 4
	}
	if c.Queue.Key == "" {
		c.Queue.Key = "workflow:requests"
	}
	if c.Tunables.PollTimeout == 0 {
		c.Tunables.PollTimeout = 2 * time.Second
	}
	if c.Tunables.SchedulerQuantum == 0 {
		c.Tunables.SchedulerQuantum = 100 * time.Millisecond
	}
	if c.Tunables.DrainTimeout == 0 {
		c.Tunables.DrainTimeout = 30 * time.Second
	}
	if c.Tunables.ControlJoinTimeout == 0 {
		c.Tunables.ControlJoinTimeout = 2 * time.Second
	}
	if c.Tunables.PublishTimeout == 0 {
		c.Tunables.PublishTimeout = 5 * time.Second
	}
	if c.Tunables.PoisonWindow == 0 {
		c.Tunables.PoisonWindow = 5
	}
	if c.Tunables.PoisonWindowPeriod == 0 {
		c.Tunables.PoisonWindowPeriod = time.Minute
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

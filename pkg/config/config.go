// Package config loads and validates the benchmarker configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeek/zeek-benchmarker/pkg/results"
)

const (
	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultQueueName is the default job queue name.
	DefaultQueueName = "default"

	// DefaultJobTimeout is the default job execution timeout in seconds.
	DefaultJobTimeout = 1800

	// DefaultTarTimeout bounds build archive extraction, in seconds.
	DefaultTarTimeout = 30

	// DefaultRedisAddr is the default queue broker address.
	DefaultRedisAddr = "localhost:6379"

	// DefaultRuns is the per-test run count when unspecified.
	DefaultRuns = 3
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`

	// HMACKey is the shared signing secret for remote build triggers.
	HMACKey string `yaml:"hmac_key"`

	// AllowedBuildURLs is the allow-list of trusted build-artifact
	// origin prefixes.
	AllowedBuildURLs []string `yaml:"allowed_build_urls"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisConfig contains queue broker settings.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Queue      string `yaml:"queue"`
	JobTimeout int    `yaml:"job_timeout"` // seconds
}

// BenchmarkConfig contains worker-side benchmark execution settings.
type BenchmarkConfig struct {
	// WorkDir is the spool directory where build artifacts are
	// downloaded and unpacked per job.
	WorkDir string `yaml:"work_dir"`

	// TarTimeout bounds build archive extraction, in seconds.
	TarTimeout int `yaml:"tar_timeout"`

	// CPUSet pins benchmark containers to specific CPUs.
	CPUSet []int `yaml:"cpu_set,omitempty"`

	// SeccompProfile is the path of the seccomp profile applied to
	// benchmark containers.
	SeccompProfile string `yaml:"seccomp_profile,omitempty"`

	// ZeekTests are the benchmark tests executed per job.
	ZeekTests []results.TestDefinition `yaml:"zeek_tests"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	if c.Redis.Queue == "" {
		c.Redis.Queue = DefaultQueueName
	}

	if c.Redis.JobTimeout == 0 {
		c.Redis.JobTimeout = DefaultJobTimeout
	}

	if c.Benchmark.TarTimeout == 0 {
		c.Benchmark.TarTimeout = DefaultTarTimeout
	}

	for i := range c.Benchmark.ZeekTests {
		if c.Benchmark.ZeekTests[i].Runs == 0 {
			c.Benchmark.ZeekTests[i].Runs = DefaultRuns
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.HMACKey == "" {
		return fmt.Errorf("hmac_key is required")
	}

	if len(c.AllowedBuildURLs) == 0 {
		return fmt.Errorf("at least one allowed build URL must be configured")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	seenIDs := make(map[string]struct{}, len(c.Benchmark.ZeekTests))

	for i, test := range c.Benchmark.ZeekTests {
		if test.TestID == "" {
			return fmt.Errorf("zeek_tests[%d]: id is required", i)
		}

		if _, exists := seenIDs[test.TestID]; exists {
			return fmt.Errorf("zeek_tests[%d]: duplicate id %q", i, test.TestID)
		}

		seenIDs[test.TestID] = struct{}{}

		if test.Runs < 1 {
			return fmt.Errorf("zeek_tests[%d]: runs must be positive", i)
		}
	}

	return nil
}

// ValidateWorker checks the settings the worker additionally needs.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Benchmark.WorkDir == "" {
		return fmt.Errorf("benchmark.work_dir is required")
	}

	if len(c.Benchmark.ZeekTests) == 0 {
		return fmt.Errorf("at least one zeek test must be configured")
	}

	return nil
}

// ZeekCPUs renders the configured CPU set as a docker cpuset string.
func (c *Config) ZeekCPUs() string {
	cpus := make([]string, 0, len(c.Benchmark.CPUSet))
	for _, cpu := range c.Benchmark.CPUSet {
		cpus = append(cpus, strconv.Itoa(cpu))
	}

	return strings.Join(cpus, ",")
}

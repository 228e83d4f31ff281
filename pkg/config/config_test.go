package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const validConfig = `
hmac_key: test-key
allowed_build_urls:
  - http://localhost:8080/
database:
  driver: sqlite
  sqlite:
    path: /var/lib/benchmarker.db
benchmark:
  work_dir: /var/spool/benchmarker
  cpu_set: [2, 3]
  zeek_tests:
    - id: pcap-500k
      runs: 5
      pcap_file: 500k.pcap
    - id: macro-bench
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "test-key", cfg.HMACKey)
	assert.Equal(t, []string{"http://localhost:8080/"}, cfg.AllowedBuildURLs)
	assert.Equal(t, "/var/lib/benchmarker.db", cfg.Database.SQLite.Path)

	require.Len(t, cfg.Benchmark.ZeekTests, 2)
	assert.Equal(t, 5, cfg.Benchmark.ZeekTests[0].Runs)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, DefaultQueueName, cfg.Redis.Queue)
	assert.Equal(t, DefaultJobTimeout, cfg.Redis.JobTimeout)
	assert.Equal(t, DefaultTarTimeout, cfg.Benchmark.TarTimeout)

	// Unspecified run count gets the default.
	assert.Equal(t, DefaultRuns, cfg.Benchmark.ZeekTests[1].Runs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing hmac key",
			mutate:  func(c *Config) { c.HMACKey = "" },
			wantErr: "hmac_key",
		},
		{
			name:    "no allowed build urls",
			mutate:  func(c *Config) { c.AllowedBuildURLs = nil },
			wantErr: "allowed build URL",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.SQLite.Path = "" },
			wantErr: "database.sqlite.path",
		},
		{
			name: "duplicate test id",
			mutate: func(c *Config) {
				c.Benchmark.ZeekTests[1].TestID = c.Benchmark.ZeekTests[0].TestID
			},
			wantErr: "duplicate id",
		},
		{
			name:    "non-positive runs",
			mutate:  func(c *Config) { c.Benchmark.ZeekTests[0].Runs = -1 },
			wantErr: "runs must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateWorker(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateWorker())

	cfg.Benchmark.WorkDir = ""
	require.Error(t, cfg.ValidateWorker())
}

func TestZeekCPUs(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "2,3", cfg.ZeekCPUs())

	cfg.Benchmark.CPUSet = nil
	assert.Equal(t, "", cfg.ZeekCPUs())
}

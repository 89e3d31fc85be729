package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ringstore/ringstore/pkg/bytesize"
	"github.com/ringstore/ringstore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDataDir, EnvLogLevel, EnvListen, EnvNodeID} {
		t.Setenv(key, "")
	}
}

func TestLoadServerConfig(t *testing.T) {
	clearEnv(t)
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
listen: ":9090"
data_dir: "/srv/ringstore/data"
log_dir: "/var/log/ringstore"
log_level: "debug"
node_id: "node-a"
ring:
  capacity: 31
  nodes: ["node-b", "node-c"]
cache:
  max_size: 500
  trim_size: 50
transfers:
  max_concurrent: 4
  timeout: "5s"
  max_upload_size: 8MB
metrics:
  enabled: false
  interval: "1m"
tracing:
  enabled: true
  buffer_size: 2Mi
buckets:
  - name: photos
    private: true
  - name: docs
`
	configPath := testutil.TempFile(t, dir, "ringstore.yaml", content)

	cfg, err := LoadServerConfig(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "/srv/ringstore/data", cfg.DataDir)
	assert.Equal(t, "/var/log/ringstore", cfg.LogDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, 31, cfg.Ring.Capacity)
	assert.Equal(t, []string{"node-b", "node-c", "node-a"}, cfg.RingNodes())
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, 50, cfg.Cache.TrimSize)
	assert.Equal(t, 4, cfg.Transfers.MaxConcurrent)
	assert.Equal(t, 8*bytesize.MB, cfg.Transfers.MaxUploadSize.Bytes())
	assert.False(t, cfg.Metrics.IsEnabled())
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 2*bytesize.MB, cfg.Tracing.BufferSize.Bytes())
	assert.Equal(t, []BucketConfig{{Name: "photos", Private: true}, {Name: "docs"}}, cfg.Buckets)

	timeout, err := cfg.TransferTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)
	interval, err := cfg.MetricsInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, interval)
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	clearEnv(t)
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	configPath := testutil.TempFile(t, dir, "ringstore.yaml", "node_id: solo\n")

	cfg, err := LoadServerConfig(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, filepath.Join(home, ".ringstore", "data"), cfg.DataDir)
	assert.Equal(t, filepath.Join(home, ".ringstore", "logs"), cfg.LogDir)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultRingCapacity, cfg.Ring.Capacity)
	assert.Equal(t, []string{"solo"}, cfg.RingNodes())
	assert.Equal(t, DefaultCacheMaxSize, cfg.Cache.MaxSize)
	assert.Equal(t, DefaultCacheTrimSize, cfg.Cache.TrimSize)
	assert.Equal(t, DefaultMaxTransfers, cfg.Transfers.MaxConcurrent)
	assert.Equal(t, DefaultMaxUploadSize, cfg.Transfers.MaxUploadSize.Bytes())
	assert.True(t, cfg.Metrics.IsEnabled())
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, DefaultTraceBuffer, cfg.Tracing.BufferSize.Bytes())
	assert.Equal(t, []BucketConfig{{Name: DefaultBucket}}, cfg.Buckets)

	timeout, err := cfg.TransferTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestLoadServerConfig_TrimClampedToSmallCache(t *testing.T) {
	clearEnv(t)
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	configPath := testutil.TempFile(t, dir, "ringstore.yaml", "cache:\n  max_size: 10\n")
	cfg, err := LoadServerConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Cache.TrimSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadServerConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	t.Setenv(EnvDataDir, "/env/data")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvListen, ":7070")
	t.Setenv(EnvNodeID, "env-node")

	configPath := testutil.TempFile(t, dir, "ringstore.yaml", `
listen: ":9090"
data_dir: "/file/data"
node_id: "file-node"
`)
	cfg, err := LoadServerConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, "/env/logs", cfg.LogDir, "log dir follows the overridden data dir")
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "env-node", cfg.NodeID)
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvNodeID, "n1")

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "n1", cfg.NodeID)
	assert.True(t, cfg.Metrics.IsEnabled())
}

func TestLoadServerConfig_FileNotFound(t *testing.T) {
	_, err := LoadServerConfig("/nonexistent/path/ringstore.yaml")
	assert.Error(t, err)
}

func TestLoadServerConfig_InvalidYAML(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	configPath := testutil.TempFile(t, dir, "ringstore.yaml", "listen: [invalid yaml\n")

	_, err := LoadServerConfig(configPath)
	assert.Error(t, err)
}

func TestRingNodesDeduplicates(t *testing.T) {
	cfg := &ServerConfig{NodeID: "a", Ring: RingConfig{Nodes: []string{"b", "a", "", "b", "c"}}}
	assert.Equal(t, []string{"b", "a", "c"}, cfg.RingNodes())
}

func TestServerConfigValidate(t *testing.T) {
	valid := func() *ServerConfig {
		cfg := &ServerConfig{NodeID: "n1", DataDir: "/data"}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		errMsg string
	}{
		{"valid", func(*ServerConfig) {}, ""},
		{"missing listen", func(c *ServerConfig) { c.Listen = "" }, "listen address is required"},
		{"zero ring capacity", func(c *ServerConfig) { c.Ring.Capacity = -1 }, "ring.capacity"},
		{"zero cache", func(c *ServerConfig) { c.Cache.MaxSize = -1 }, "cache.max_size"},
		{"trim above max", func(c *ServerConfig) { c.Cache.TrimSize = c.Cache.MaxSize + 1 }, "cache.trim_size"},
		{"no transfers", func(c *ServerConfig) { c.Transfers.MaxConcurrent = -1 }, "transfers.max_concurrent"},
		{"negative upload size", func(c *ServerConfig) { c.Transfers.MaxUploadSize = -1 }, "transfers.max_upload_size"},
		{"bad timeout", func(c *ServerConfig) { c.Transfers.Timeout = "soon" }, "invalid transfers.timeout"},
		{"negative timeout", func(c *ServerConfig) { c.Transfers.Timeout = "-1s" }, "cannot be negative"},
		{"bad interval", func(c *ServerConfig) { c.Metrics.Interval = "often" }, "invalid metrics.interval"},
		{"negative trace buffer", func(c *ServerConfig) { c.Tracing.BufferSize = -1 }, "tracing.buffer_size"},
		{"unnamed bucket", func(c *ServerConfig) { c.Buckets = []BucketConfig{{}} }, "buckets[0].name is required"},
		{"duplicate bucket", func(c *ServerConfig) {
			c.Buckets = []BucketConfig{{Name: "a"}, {Name: "a"}}
		}, `bucket "a" is declared twice`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTransferTimeoutZeroDisables(t *testing.T) {
	cfg := &ServerConfig{Transfers: TransferConfig{Timeout: "0"}}
	d, err := cfg.TransferTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)
}

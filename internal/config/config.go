// Package config handles configuration loading and validation for ringstore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ringstore/ringstore/pkg/bytesize"
	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadServerConfig and Default.
const (
	DefaultListen          = ":8080"
	DefaultDataDir         = "~/.ringstore/data"
	DefaultLogLevel        = "info"
	DefaultRingCapacity    = 1000
	DefaultCacheMaxSize    = 1000
	DefaultCacheTrimSize   = 100
	DefaultMaxTransfers    = 16
	DefaultTransferTimeout = "30s"
	DefaultMaxUploadSize   = 64 * bytesize.MB
	DefaultTraceBuffer     = 10 * bytesize.MB
	DefaultMetricsInterval = "15s"
	DefaultBucket          = "default"
)

// Environment variables that override values from the file.
const (
	EnvDataDir  = "RINGSTORE_DATA_DIR"
	EnvLogLevel = "RINGSTORE_LOG_LEVEL"
	EnvListen   = "RINGSTORE_LISTEN"
	EnvNodeID   = "RINGSTORE_NODE_ID"
)

// RingConfig holds the consistent-hashing ring settings.
type RingConfig struct {
	Capacity int      `yaml:"capacity"`
	Nodes    []string `yaml:"nodes"` // Peer node IDs; this node is always added
}

// CacheConfig holds the download cache settings.
type CacheConfig struct {
	MaxSize  int `yaml:"max_size"`
	TrimSize int `yaml:"trim_size"` // Entries evicted at once when full
}

// TransferConfig bounds concurrent uploads and downloads.
type TransferConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       string        `yaml:"timeout"`         // Duration string, e.g. "30s"; "0" disables
	MaxUploadSize bytesize.Size `yaml:"max_upload_size"` // e.g. "64MB"
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  *bool  `yaml:"enabled"`  // Default: true
	Interval string `yaml:"interval"` // Gauge refresh interval
}

// IsEnabled reports whether /metrics is served.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig enables the in-memory runtime trace served on /debug/trace.
type TracingConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BufferSize bytesize.Size `yaml:"buffer_size"`
}

// BucketConfig declares a bucket created at startup.
type BucketConfig struct {
	Name    string `yaml:"name"`
	Private bool   `yaml:"private"`
}

// ServerConfig holds configuration for a ringstore node.
type ServerConfig struct {
	Listen    string         `yaml:"listen"`
	DataDir   string         `yaml:"data_dir"`
	LogDir    string         `yaml:"log_dir"` // Journals; empty means <data_dir>/../logs
	LogLevel  string         `yaml:"log_level"`
	NodeID    string         `yaml:"node_id"`
	Ring      RingConfig     `yaml:"ring"`
	Cache     CacheConfig    `yaml:"cache"`
	Transfers TransferConfig `yaml:"transfers"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Tracing   TracingConfig  `yaml:"tracing"`
	Buckets   []BucketConfig `yaml:"buckets"`
}

// LoadServerConfig loads server configuration from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &ServerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *ServerConfig {
	cfg := &ServerConfig{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *ServerConfig) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		c.NodeID = v
	}
}

func (c *ServerConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	c.DataDir = expandHome(c.DataDir)
	if c.LogDir == "" {
		c.LogDir = filepath.Join(filepath.Dir(c.DataDir), "logs")
	}
	c.LogDir = expandHome(c.LogDir)
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.NodeID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.NodeID = host
		} else {
			c.NodeID = "ringstore"
		}
	}
	if c.Ring.Capacity == 0 {
		c.Ring.Capacity = DefaultRingCapacity
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}
	if c.Cache.TrimSize == 0 {
		c.Cache.TrimSize = DefaultCacheTrimSize
		if c.Cache.TrimSize > c.Cache.MaxSize {
			c.Cache.TrimSize = c.Cache.MaxSize
		}
	}
	if c.Transfers.MaxConcurrent == 0 {
		c.Transfers.MaxConcurrent = DefaultMaxTransfers
	}
	if c.Transfers.MaxUploadSize == 0 {
		c.Transfers.MaxUploadSize = bytesize.Size(DefaultMaxUploadSize)
	}
	if c.Transfers.Timeout == "" {
		c.Transfers.Timeout = DefaultTransferTimeout
	}
	if c.Tracing.BufferSize == 0 {
		c.Tracing.BufferSize = bytesize.Size(DefaultTraceBuffer)
	}
	if c.Metrics.Interval == "" {
		c.Metrics.Interval = DefaultMetricsInterval
	}
	if len(c.Buckets) == 0 {
		c.Buckets = []BucketConfig{{Name: DefaultBucket}}
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// RingNodes returns the configured peers plus this node, without duplicates,
// in configuration order.
func (c *ServerConfig) RingNodes() []string {
	seen := make(map[string]bool, len(c.Ring.Nodes)+1)
	var nodes []string
	for _, id := range append(append([]string{}, c.Ring.Nodes...), c.NodeID) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		nodes = append(nodes, id)
	}
	return nodes
}

// TransferTimeout parses transfers.timeout. Zero means no timeout.
func (c *ServerConfig) TransferTimeout() (time.Duration, error) {
	return parseDuration("transfers.timeout", c.Transfers.Timeout)
}

// MetricsInterval parses metrics.interval.
func (c *ServerConfig) MetricsInterval() (time.Duration, error) {
	return parseDuration("metrics.interval", c.Metrics.Interval)
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", key)
	}
	return d, nil
}

// Validate checks if the server configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.Ring.Capacity < 1 {
		return fmt.Errorf("ring.capacity must be positive")
	}
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache.max_size must be positive")
	}
	if c.Cache.TrimSize < 1 || c.Cache.TrimSize > c.Cache.MaxSize {
		return fmt.Errorf("cache.trim_size must be between 1 and cache.max_size")
	}
	if c.Transfers.MaxConcurrent < 1 {
		return fmt.Errorf("transfers.max_concurrent must be positive")
	}
	if c.Transfers.MaxUploadSize < 1 {
		return fmt.Errorf("transfers.max_upload_size must be positive")
	}
	if _, err := c.TransferTimeout(); err != nil {
		return err
	}
	if _, err := c.MetricsInterval(); err != nil {
		return err
	}
	if c.Tracing.BufferSize < 1 {
		return fmt.Errorf("tracing.buffer_size must be positive")
	}

	seen := make(map[string]bool, len(c.Buckets))
	for i, b := range c.Buckets {
		if b.Name == "" {
			return fmt.Errorf("buckets[%d].name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("bucket %q is declared twice", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

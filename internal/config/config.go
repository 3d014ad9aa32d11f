// Package config provides the layered configuration of a taxistream replay:
// defaults, then a YAML or JSON file, then TAXISTREAM_ environment variables,
// then command-line flags.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/replay"
	"github.com/arkilian/taxistream/internal/sink"
	"github.com/arkilian/taxistream/internal/storage"
	"github.com/arkilian/taxistream/internal/tracing"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "TAXISTREAM_"

// Config holds the configuration of a replay process.
type Config struct {
	// DataDir is the base directory for cache, staging and local storage
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	Source  SourceConfig   `json:"source" yaml:"source" envPrefix:"SOURCE_"`
	Sink    sink.Config    `json:"sink" yaml:"sink" envPrefix:"SINK_"`
	Storage storage.Config `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Status  StatusConfig   `json:"status" yaml:"status" envPrefix:"STATUS_"`
	Log     logging.Config `json:"log" yaml:"log" envPrefix:"LOG_"`
	Tracing tracing.Config `json:"tracing" yaml:"tracing" envPrefix:"TRACING_"`
}

// SourceConfig configures the replay engine.
type SourceConfig struct {
	// DataFile is a local path or an s3://bucket/key URI
	DataFile string `json:"data_file" yaml:"data_file" env:"DATA_FILE"`

	// MaxEventDelaySecs bounds the random delay of each ride; 0 keeps file order
	MaxEventDelaySecs int `json:"max_event_delay_secs" yaml:"max_event_delay_secs" env:"MAX_EVENT_DELAY_SECS"`

	// ServingSpeedFactor scales event time to serving time; +Inf disables pacing
	ServingSpeedFactor float64 `json:"serving_speed_factor" yaml:"serving_speed_factor" env:"SERVING_SPEED_FACTOR"`

	// WatermarkInterval is the event-time period between watermarks; 0 picks the default
	WatermarkInterval time.Duration `json:"watermark_interval" yaml:"watermark_interval" env:"WATERMARK_INTERVAL"`

	Seed uint64 `json:"seed" yaml:"seed" env:"SEED"`

	// CacheDir receives remote data files
	CacheDir string `json:"cache_dir" yaml:"cache_dir" env:"CACHE_DIR"`
}

// StatusConfig configures the status servers. An empty address disables a server.
type StatusConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr" env:"GRPC_ADDR"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/taxistream",
		Source: SourceConfig{
			ServingSpeedFactor: 1,
			Seed:               replay.DefaultSeed,
		},
		Sink: sink.DefaultConfig(),
		Storage: storage.Config{
			Type: storage.TypeLocal,
		},
		Status: StatusConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
		Log: logging.Config{
			Level: "info",
		},
		Tracing: tracing.Config{
			ServiceName: "taxistream",
		},
	}
}

// Resolve fills paths left empty from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/taxistream"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Sink.Partition.Dir == "" {
		c.Sink.Partition.Dir = filepath.Join(c.DataDir, "staging")
	}
	if c.Source.CacheDir == "" {
		c.Source.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// Validate checks the configuration. It does not touch the data file; the
// replay engine checks it when constructed.
func (c *Config) Validate() error {
	if c.Source.DataFile == "" {
		return fmt.Errorf("source.data_file is required")
	}
	if c.Source.MaxEventDelaySecs < 0 {
		return fmt.Errorf("source.max_event_delay_secs must be >= 0, got %d", c.Source.MaxEventDelaySecs)
	}
	if f := c.Source.ServingSpeedFactor; math.IsNaN(f) || f <= 0 {
		return fmt.Errorf("source.serving_speed_factor must be > 0, got %v", f)
	}
	if c.Source.WatermarkInterval < 0 {
		return fmt.Errorf("source.watermark_interval must be >= 0, got %s", c.Source.WatermarkInterval)
	}

	switch c.Sink.Type {
	case sink.TypeLog, sink.TypePartition, sink.TypeRedis, sink.TypePostgres:
	default:
		return fmt.Errorf("invalid sink type: %s (must be log, partition, redis, or postgres)", c.Sink.Type)
	}
	if c.Sink.BatchSize <= 0 {
		return fmt.Errorf("sink.batch_size must be > 0, got %d", c.Sink.BatchSize)
	}
	switch c.Sink.Type {
	case sink.TypePartition:
		switch c.Sink.Partition.Routing {
		case "time":
		case "hash":
			if c.Sink.Partition.HashBuckets <= 0 {
				return fmt.Errorf("sink.partition.hash_buckets must be > 0 with hash routing")
			}
		default:
			return fmt.Errorf("invalid sink.partition.routing: %s (must be time or hash)", c.Sink.Partition.Routing)
		}
	case sink.TypeRedis:
		if c.Sink.Redis.Addr == "" {
			return fmt.Errorf("sink.redis.addr is required when sink type is redis")
		}
	case sink.TypePostgres:
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required when sink type is postgres")
		}
	}

	if c.Storage.Type != storage.TypeLocal && c.Storage.Type != storage.TypeS3 {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == storage.TypeS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when storage type is s3")
	}
	return nil
}

// ReplayConfig converts the source section for replay.New. The data file
// must already be local.
func (c *Config) ReplayConfig(localPath string) replay.Config {
	return replay.Config{
		DataFilePath:       localPath,
		MaxEventDelaySecs:  c.Source.MaxEventDelaySecs,
		ServingSpeedFactor: c.Source.ServingSpeedFactor,
		WatermarkInterval:  c.Source.WatermarkInterval,
		Seed:               c.Source.Seed,
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg with TAXISTREAM_ environment variables, for
// example TAXISTREAM_SOURCE_DATA_FILE or TAXISTREAM_SINK_REDIS_ADDR. Unset
// variables leave the current value alone.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnsureDirectories creates the local directories the configuration uses.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Source.CacheDir}
	if c.Storage.Type == storage.TypeLocal {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Sink.Type == sink.TypePartition {
		dirs = append(dirs, c.Sink.Partition.Dir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

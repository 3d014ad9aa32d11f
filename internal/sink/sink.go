// Package sink delivers the tabular ride stream to its destinations.
package sink

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/storage"
	"github.com/arkilian/taxistream/internal/table"
)

// Sink is a closable table.RowSink.
type Sink interface {
	table.RowSink
	io.Closer
}

// Type selects a Sink implementation.
type Type string

const (
	TypeLog       Type = "log"
	TypePartition Type = "partition"
	TypeRedis     Type = "redis"
	TypePostgres  Type = "postgres"
)

// Config configures every sink; only the section matching Type is used.
type Config struct {
	Type Type `json:"type" yaml:"type" env:"TYPE"`

	// BatchSize is the number of rows buffered before a write.
	BatchSize int `json:"batch_size" yaml:"batch_size" env:"BATCH_SIZE"`

	// FlushInterval is the event-time distance watermarks must advance
	// before the partition sink flushes a partial batch.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" env:"FLUSH_INTERVAL"`

	Partition PartitionConfig `json:"partition" yaml:"partition" envPrefix:"PARTITION_"`
	Redis     RedisConfig     `json:"redis" yaml:"redis" envPrefix:"REDIS_"`
	Postgres  PostgresConfig  `json:"postgres" yaml:"postgres" envPrefix:"POSTGRES_"`
}

// PartitionConfig configures the SQLite partition sink.
type PartitionConfig struct {
	// Dir is the staging directory partitions are built in.
	Dir string `json:"dir" yaml:"dir" env:"DIR"`

	// Routing is "time" (event hour) or "hash" (taxi id bucket).
	Routing string `json:"routing" yaml:"routing" env:"ROUTING"`

	HashBuckets int `json:"hash_buckets" yaml:"hash_buckets" env:"HASH_BUCKETS"`

	// Parallelism bounds concurrent partition builds per flush.
	Parallelism int `json:"parallelism" yaml:"parallelism" env:"PARALLELISM"`

	// Prefix is prepended to uploaded object paths.
	Prefix string `json:"prefix" yaml:"prefix" env:"PREFIX"`
}

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"ADDR"`
	Password string `json:"password" yaml:"password" env:"PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"DB"`
	Stream   string `json:"stream" yaml:"stream" env:"STREAM"`

	// MaxLen caps the stream length approximately; 0 keeps everything.
	MaxLen int64 `json:"max_len" yaml:"max_len" env:"MAX_LEN"`
}

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	DSN   string `json:"dsn" yaml:"dsn" env:"DSN"`
	Table string `json:"table" yaml:"table" env:"TABLE"`
}

// DefaultConfig returns a log sink configuration with defaults for every section.
func DefaultConfig() Config {
	return Config{
		Type:          TypeLog,
		BatchSize:     1000,
		FlushInterval: time.Hour,
		Partition: PartitionConfig{
			Routing:     "time",
			HashBuckets: 16,
			Parallelism: 4,
			Prefix:      "partitions",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "taxi:rides",
		},
		Postgres: PostgresConfig{
			Table: "taxi_rides",
		},
	}
}

// FlushObserver is told about every partition written.
type FlushObserver interface {
	RecordFlush(key string, rows, bytes int64)
}

type options struct {
	logger   *zap.SugaredLogger
	observer FlushObserver
}

// Option configures a sink.
type Option func(*options)

// WithLogger sets the logger sinks derive their component loggers from.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithFlushObserver reports partition flushes to obs.
func WithFlushObserver(obs FlushObserver) Option {
	return func(o *options) { o.observer = obs }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.G()
	}
	return o
}

// Open builds the sink selected by cfg.Type. store is only used by the
// partition sink.
func Open(ctx context.Context, cfg Config, store storage.ObjectStorage, opts ...Option) (Sink, error) {
	switch cfg.Type {
	case TypeLog, "":
		return NewLogSink(opts...), nil
	case TypePartition:
		return NewPartitionSink(cfg, store, opts...)
	case TypeRedis:
		return NewRedisSink(ctx, cfg, opts...)
	case TypePostgres:
		return NewPostgresSink(ctx, cfg, opts...)
	default:
		return nil, tserrors.NewConfigurationError(fmt.Sprintf("unknown sink type %q", cfg.Type))
	}
}

func writeError(sinkName string, cause error) error {
	return tserrors.NewSinkError(sinkName+" write failed", cause)
}

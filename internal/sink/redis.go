package sink

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/pkg/types"
)

// RedisSink appends rows to a Redis stream with XADD. Rows are sent in
// pipelines of BatchSize; a watermark first drains the pipeline and is then
// stored under "<stream>:watermark". Finish sets "<stream>:eos".
type RedisSink struct {
	client    redis.UniversalClient
	stream    string
	maxLen    int64
	batchSize int
	schema    types.Schema
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	pending []*redis.XAddArgs
	written int64
}

// NewRedisSink connects to cfg.Redis.Addr and pings it.
func NewRedisSink(ctx context.Context, cfg Config, opts ...Option) (*RedisSink, error) {
	if cfg.Redis.Addr == "" {
		return nil, tserrors.NewConfigurationError("sink.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, tserrors.NewSinkError("redis ping "+cfg.Redis.Addr, err)
	}
	return NewRedisSinkWithClient(client, cfg, opts...), nil
}

// NewRedisSinkWithClient wraps an existing client. The sink closes it.
func NewRedisSinkWithClient(client redis.UniversalClient, cfg Config, opts ...Option) *RedisSink {
	o := buildOptions(opts)
	stream := cfg.Redis.Stream
	if stream == "" {
		stream = "taxi:rides"
	}
	return &RedisSink{
		client:    client,
		stream:    stream,
		maxLen:    cfg.Redis.MaxLen,
		batchSize: max(1, cfg.BatchSize),
		schema:    table.ReturnType(),
		logger:    logging.Named(o.logger, "sink.redis"),
	}
}

func (s *RedisSink) WriteRow(ctx context.Context, row types.Row, timestampMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, xaddArgs(s.stream, s.maxLen, s.schema, row, timestampMillis))
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

func (s *RedisSink) WriteWatermark(ctx context.Context, watermarkMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.WatermarkKey(), watermarkMillis, 0).Err(); err != nil {
		return writeError("redis", err)
	}
	return nil
}

func (s *RedisSink) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.EndOfStreamKey(), "1", 0).Err(); err != nil {
		return writeError("redis", err)
	}
	s.logger.Infow("stream complete", "stream", s.stream, "rows", s.written)
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// WatermarkKey is the string key holding the latest watermark.
func (s *RedisSink) WatermarkKey() string { return s.stream + ":watermark" }

// EndOfStreamKey is set to "1" once the stream has ended.
func (s *RedisSink) EndOfStreamKey() string { return s.stream + ":eos" }

func (s *RedisSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = nil

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, a := range batch {
			pipe.XAdd(ctx, a)
		}
		return nil
	})
	if err != nil {
		return writeError("redis", fmt.Errorf("xadd %d entries: %w", len(batch), err))
	}
	s.written += int64(len(batch))
	s.logger.Debugw("pipeline flushed", "entries", len(batch), "total", s.written)
	return nil
}

// xaddArgs encodes row as stream entry fields in schema order followed by
// the event time in Unix milliseconds.
func xaddArgs(stream string, maxLen int64, schema types.Schema, row types.Row, timestampMillis int64) *redis.XAddArgs {
	values := make([]interface{}, 0, 2*len(row)+2)
	for i, cell := range row {
		if i >= len(schema.Columns) {
			break
		}
		values = append(values, schema.Columns[i].Name, cell.String())
	}
	values = append(values, table.ColEventTime, strconv.FormatInt(timestampMillis, 10))
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}
}

package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/docker/go-units"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/partition"
	"github.com/arkilian/taxistream/internal/storage"
	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/pkg/types"
)

const tracerName = "github.com/arkilian/taxistream/internal/sink"

// PartitionSink buffers rows and writes them as SQLite micro-partitions with
// metadata sidecars, uploading both to object storage.
//
// A flush happens when the buffer holds BatchSize rows, when watermarks have
// advanced FlushInterval past the previous flush, and on Finish. Sidecars
// record the last watermark seen before the flush as CompleteThrough.
type PartitionSink struct {
	router   *partition.Router
	builder  *partition.Builder
	writer   *partition.ConcurrentWriter
	metaGen  *partition.MetadataGenerator
	store    storage.ObjectStorage
	observer FlushObserver
	logger   *zap.SugaredLogger

	batchSize     int
	flushInterval int64
	prefix        string

	mu          sync.Mutex
	buf         []types.Record
	watermark   int64
	hasMark     bool
	lastFlushAt int64
	flushed     []*partition.PartitionInfo
}

// NewPartitionSink creates a partition sink uploading to store.
func NewPartitionSink(cfg Config, store storage.ObjectStorage, opts ...Option) (*PartitionSink, error) {
	if store == nil {
		return nil, tserrors.NewConfigurationError("partition sink requires object storage")
	}
	if cfg.Partition.Dir == "" {
		return nil, tserrors.NewConfigurationError("sink.partition.dir is required")
	}
	o := buildOptions(opts)

	schema := table.TableSchema()
	router, err := partition.NewRouter(types.PartitionKeyConfig{
		Strategy:   types.PartitionKeyStrategy(cfg.Partition.Routing),
		HashModulo: cfg.Partition.HashBuckets,
	}, schema, table.ColTaxiID)
	if err != nil {
		return nil, tserrors.NewConfigurationError(err.Error())
	}
	builder, err := partition.NewBuilder(cfg.Partition.Dir, schema)
	if err != nil {
		return nil, err
	}
	metaGen, err := partition.NewMetadataGenerator(schema, table.ColTaxiID, table.ColDriverID)
	if err != nil {
		return nil, err
	}

	return &PartitionSink{
		router:        router,
		builder:       builder,
		writer:        partition.NewConcurrentWriter(builder, cfg.Partition.Parallelism),
		metaGen:       metaGen,
		store:         store,
		observer:      o.observer,
		logger:        logging.Named(o.logger, "sink.partition"),
		batchSize:     max(1, cfg.BatchSize),
		flushInterval: cfg.FlushInterval.Milliseconds(),
		prefix:        cfg.Partition.Prefix,
	}, nil
}

func (s *PartitionSink) WriteRow(ctx context.Context, row types.Row, timestampMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, types.Record{Row: row, EventTime: timestampMillis})
	if len(s.buf) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

func (s *PartitionSink) WriteWatermark(ctx context.Context, watermarkMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if watermarkMillis == types.MaxWatermark {
		return nil
	}
	if !s.hasMark {
		s.lastFlushAt = watermarkMillis
	}
	s.watermark, s.hasMark = watermarkMillis, true
	if s.flushInterval <= 0 || watermarkMillis-s.lastFlushAt < s.flushInterval {
		return nil
	}
	return s.flushLocked(ctx)
}

// Finish flushes whatever is still buffered.
func (s *PartitionSink) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Partitions returns the partitions written so far in flush order.
func (s *PartitionSink) Partitions() []*partition.PartitionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*partition.PartitionInfo, len(s.flushed))
	copy(out, s.flushed)
	return out
}

func (s *PartitionSink) Close() error {
	return s.writer.Close()
}

func (s *PartitionSink) flushLocked(ctx context.Context) (err error) {
	if len(s.buf) == 0 {
		return nil
	}
	recs := s.buf
	s.buf = nil
	if s.hasMark {
		s.lastFlushAt = s.watermark
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "sink.partition.flush")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.Int("rows", len(recs)))

	groups, err := s.router.Group(recs)
	if err != nil {
		return writeError("partition", err)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ops := make([]partition.WriteOperation, len(keys))
	for i, k := range keys {
		route, err := s.router.Route(groups[k][0])
		if err != nil {
			return writeError("partition", err)
		}
		ops[i] = partition.WriteOperation{Records: groups[k], Key: route}
	}
	span.SetAttributes(attribute.Int("partitions", len(ops)))

	infos, err := s.writer.BatchWrite(ctx, ops)
	if err != nil {
		return writeError("partition", err)
	}

	var completeThrough *int64
	if s.hasMark {
		wm := s.watermark
		completeThrough = &wm
	}
	for i, info := range infos {
		if err := s.publish(ctx, info, ops[i].Records, completeThrough); err != nil {
			return writeError("partition", err)
		}
	}
	return nil
}

func (s *PartitionSink) publish(ctx context.Context, info *partition.PartitionInfo, recs []types.Record, completeThrough *int64) error {
	rows := make([]types.Row, len(recs))
	for i, rec := range recs {
		rows[i] = s.builder.Materialize(rec)
	}
	if _, err := s.metaGen.GenerateAndWrite(info, rows, completeThrough); err != nil {
		return fmt.Errorf("failed to generate metadata: %w", err)
	}

	dir := path.Join(s.prefix, info.PartitionKey)
	objectPath := path.Join(dir, info.PartitionID+".sqlite")
	metaObjectPath := path.Join(dir, info.PartitionID+".meta.json")
	if err := s.store.Upload(ctx, info.SQLitePath, objectPath); err != nil {
		return fmt.Errorf("failed to upload sqlite file: %w", err)
	}
	if err := s.store.Upload(ctx, info.MetadataPath, metaObjectPath); err != nil {
		return fmt.Errorf("failed to upload metadata: %w", err)
	}
	os.Remove(info.SQLitePath)
	os.Remove(info.MetadataPath)
	info.SQLitePath, info.MetadataPath = objectPath, metaObjectPath

	s.flushed = append(s.flushed, info)
	if s.observer != nil {
		s.observer.RecordFlush(info.PartitionKey, info.RowCount, info.SizeBytes)
	}
	s.logger.Infow("partition written",
		"partition_id", info.PartitionID,
		"key", info.PartitionKey,
		"rows", info.RowCount,
		"size", units.HumanSize(float64(info.SizeBytes)),
		"object", objectPath,
	)
	return nil
}

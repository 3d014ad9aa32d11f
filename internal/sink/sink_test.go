package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/storage"
	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/pkg/types"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Type: TypeLog}, nil, WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, s)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Type = TypePartition
	cfg.Partition.Dir = t.TempDir()
	s, err = Open(ctx, cfg, store, WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.IsType(t, &PartitionSink{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Type: "kafka"}, nil)
	assert.True(t, tserrors.IsConfigurationError(err))

	_, err = Open(ctx, Config{Type: TypeRedis}, nil)
	assert.True(t, tserrors.IsConfigurationError(err), "missing redis addr: %v", err)

	_, err = Open(ctx, Config{Type: TypePostgres}, nil)
	assert.True(t, tserrors.IsConfigurationError(err), "missing dsn: %v", err)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink(WithLogger(zap.New(core).Sugar()))
	ctx := context.Background()

	require.NoError(t, writeRide(ctx, s, 1, 7, hour0))
	require.NoError(t, s.WriteWatermark(ctx, hour0.UnixMilli()))
	require.NoError(t, s.WriteWatermark(ctx, types.MaxWatermark))
	require.NoError(t, s.Finish(ctx))
	require.NoError(t, s.Close())

	assert.Equal(t, int64(1), s.Rows())
	rows := logs.FilterMessage("row").All()
	require.Len(t, rows, 1)
	fields := rows[0].ContextMap()
	assert.Equal(t, int64(7), fields[table.ColTaxiID])
	assert.Equal(t, int64(1007), fields[table.ColDriverID])
	assert.Equal(t, true, fields[table.ColIsStart])
	assert.Equal(t, hour0, fields[table.ColEventTime])
	assert.Equal(t, 2, logs.FilterMessage("watermark").Len())
	assert.Equal(t, 1, logs.FilterMessage("end of stream").Len())
	assert.Equal(t, "sink.log", rows[0].LoggerName)
}

func TestLogSink_RejectsMalformedRow(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink(WithLogger(zap.New(core).Sugar()))

	err := s.WriteRow(context.Background(), types.Row{types.Int64Value(1)}, hour0.UnixMilli())
	require.Error(t, err)
	assert.Equal(t, tserrors.ErrCategorySink, tserrors.GetCategory(err))
	assert.Zero(t, s.Rows())
	assert.Equal(t, 0, logs.FilterMessage("row").Len())
}

func TestLogSink_InfoLevelSkipsRows(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSink(WithLogger(zap.New(core).Sugar()))

	require.NoError(t, writeRide(context.Background(), s, 1, 7, hour0.Add(time.Minute)))
	assert.Equal(t, 0, logs.FilterMessage("row").Len())
	assert.Equal(t, int64(1), s.Rows())
}

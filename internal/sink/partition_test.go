package sink

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/partition"
	"github.com/arkilian/taxistream/internal/storage"
	"github.com/arkilian/taxistream/internal/table"
)

func newPartitionSink(t *testing.T, batchSize int, interval time.Duration) (*PartitionSink, *storage.LocalStorage, *flushRecorder) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Type = TypePartition
	cfg.BatchSize = batchSize
	cfg.FlushInterval = interval
	cfg.Partition.Dir = t.TempDir()

	rec := &flushRecorder{}
	s, err := NewPartitionSink(cfg, store, WithLogger(logging.Nop()), WithFlushObserver(rec))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, store, rec
}

func TestPartitionSink_FinishFlushesByHour(t *testing.T) {
	ctx := context.Background()
	s, store, rec := newPartitionSink(t, 100, time.Hour)

	require.NoError(t, writeRide(ctx, s, 1, 7, hour0.Add(time.Minute)))
	require.NoError(t, writeRide(ctx, s, 2, 8, hour0.Add(2*time.Minute)))
	wm := hour0.Add(10 * time.Minute).UnixMilli()
	require.NoError(t, s.WriteWatermark(ctx, wm))
	require.NoError(t, writeRide(ctx, s, 3, 9, hour0.Add(90*time.Minute)))
	assert.Empty(t, s.Partitions(), "nothing should be flushed before Finish")

	require.NoError(t, s.Finish(ctx))

	infos := s.Partitions()
	require.Len(t, infos, 2)
	assert.Equal(t, "2013010100", infos[0].PartitionKey)
	assert.Equal(t, int64(2), infos[0].RowCount)
	assert.Equal(t, "2013010101", infos[1].PartitionKey)
	assert.Equal(t, int64(1), infos[1].RowCount)
	assert.Equal(t, []string{"2013010100", "2013010101"}, rec.keys)
	assert.Equal(t, int64(3), rec.rows)

	objects, err := store.ListObjects(ctx, "partitions/")
	require.NoError(t, err)
	sort.Strings(objects)
	require.Len(t, objects, 4)
	assert.Equal(t, infos[0].SQLitePath, objects[1])
	assert.Equal(t, infos[0].MetadataPath, objects[0])

	local := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, store.Download(ctx, infos[0].MetadataPath, local))
	sidecar, err := partition.ReadMetadataFromFile(local)
	require.NoError(t, err)
	require.NotNil(t, sidecar.CompleteThrough)
	assert.Equal(t, wm, *sidecar.CompleteThrough)
	assert.Equal(t, hour0.Add(time.Minute).UnixMilli(), sidecar.Stats.MinEventTime)

	ok, err := sidecar.MayContain(table.ColTaxiID, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sidecar.MayContain(table.ColDriverID, 1008)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPartitionSink_BatchSizeFlush(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newPartitionSink(t, 2, time.Hour)

	require.NoError(t, writeRide(ctx, s, 1, 7, hour0))
	assert.Empty(t, s.Partitions())
	require.NoError(t, writeRide(ctx, s, 2, 7, hour0.Add(time.Second)))

	infos := s.Partitions()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(2), infos[0].RowCount)

	// No watermark yet, so the partition claims no completeness.
	sidecarPath := filepath.Join(t.TempDir(), "m.json")
	store := s.store.(*storage.LocalStorage)
	require.NoError(t, store.Download(ctx, infos[0].MetadataPath, sidecarPath))
	sidecar, err := partition.ReadMetadataFromFile(sidecarPath)
	require.NoError(t, err)
	assert.Nil(t, sidecar.CompleteThrough)

	require.NoError(t, s.Finish(ctx))
	assert.Len(t, s.Partitions(), 1, "Finish with an empty buffer writes nothing")
}

func TestPartitionSink_WatermarkIntervalFlush(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newPartitionSink(t, 1000, time.Hour)

	require.NoError(t, s.WriteWatermark(ctx, hour0.UnixMilli()))
	require.NoError(t, writeRide(ctx, s, 1, 7, hour0.Add(time.Minute)))
	require.NoError(t, s.WriteWatermark(ctx, hour0.Add(59*time.Minute).UnixMilli()))
	assert.Empty(t, s.Partitions())

	require.NoError(t, s.WriteWatermark(ctx, hour0.Add(time.Hour).UnixMilli()))
	require.Len(t, s.Partitions(), 1)

	require.NoError(t, writeRide(ctx, s, 2, 7, hour0.Add(61*time.Minute)))
	require.NoError(t, s.WriteWatermark(ctx, hour0.Add(90*time.Minute).UnixMilli()))
	assert.Len(t, s.Partitions(), 1, "interval restarts at the previous flush")

	require.NoError(t, s.WriteWatermark(ctx, hour0.Add(2*time.Hour).UnixMilli()))
	assert.Len(t, s.Partitions(), 2)
}

func TestPartitionSink_StagingFilesRemoved(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Partition.Dir = t.TempDir()
	s, err := NewPartitionSink(cfg, store, WithLogger(logging.Nop()))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, writeRide(ctx, s, 1, 7, hour0))
	require.NoError(t, s.Finish(ctx))

	entries, err := os.ReadDir(cfg.Partition.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPartitionSink_HashRouting(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Partition.Dir = t.TempDir()
	cfg.Partition.Routing = "hash"
	cfg.Partition.HashBuckets = 4
	s, err := NewPartitionSink(cfg, store, WithLogger(logging.Nop()))
	require.NoError(t, err)
	defer s.Close()

	for i := int64(0); i < 20; i++ {
		require.NoError(t, writeRide(ctx, s, i, i, hour0.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.Finish(ctx))

	var total int64
	for _, info := range s.Partitions() {
		assert.Regexp(t, `^bucket_00[0-3]$`, info.PartitionKey)
		total += info.RowCount
	}
	assert.Equal(t, int64(20), total)
}

func TestNewPartitionSink_Validation(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig()
	_, err = NewPartitionSink(cfg, store)
	assert.True(t, tserrors.IsConfigurationError(err), "missing dir: %v", err)

	cfg.Partition.Dir = t.TempDir()
	_, err = NewPartitionSink(cfg, nil)
	assert.True(t, tserrors.IsConfigurationError(err), "missing storage: %v", err)

	cfg.Partition.Routing = "random"
	_, err = NewPartitionSink(cfg, store)
	assert.True(t, tserrors.IsConfigurationError(err), "bad routing: %v", err)
}

package table

import (
	"bytes"
	"compress/gzip"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/replay"
	"github.com/arkilian/taxistream/pkg/types"
)

var t0 = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

func writeRideFile(t *testing.T, rides ...types.RideEvent) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for _, r := range rides {
		_, err := zw.Write([]byte(replay.FormatRide(r) + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "rides.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func sampleRide(id int64, isStart bool, offset time.Duration) types.RideEvent {
	return types.RideEvent{
		RideID:       id,
		IsStart:      isStart,
		StartTime:    t0.Add(offset),
		EndTime:      t0.Add(offset + 12*time.Minute),
		StartLon:     -73.866135,
		StartLat:     40.771091,
		EndLon:       -73.961334,
		EndLat:       40.764912,
		PassengerCnt: 6,
		TaxiID:       2013000006,
		DriverID:     2013000106,
	}
}

func TestSchema(t *testing.T) {
	assert.Equal(t, []string{
		"rideId", "taxiId", "driverId", "isStart",
		"startLon", "startLat", "endLon", "endLat", "passengerCnt",
	}, ReturnType().Names())

	ts := TableSchema()
	require.Equal(t, 10, ts.Arity())
	last := ts.Columns[9]
	assert.Equal(t, ColEventTime, last.Name)
	assert.Equal(t, types.TypeTimestamp, last.Type)
	assert.True(t, last.Rowtime)

	want := []types.ColumnType{
		types.TypeBigInt, types.TypeBigInt, types.TypeBigInt, types.TypeBoolean,
		types.TypeFloat, types.TypeFloat, types.TypeFloat, types.TypeFloat, types.TypeSmallInt,
	}
	for i, c := range ReturnType().Columns {
		assert.Equal(t, want[i], c.Type, c.Name)
	}
}

func TestSchema_CallersGetCopies(t *testing.T) {
	s := TableSchema()
	s.Columns[0].Name = "mutated"
	s.Indexes[0].Columns[0] = "mutated"

	assert.Equal(t, ColRideID, TableSchema().Columns[0].Name)
	assert.Equal(t, ColEventTime, TableSchema().Indexes[0].Columns[0])
}

func TestToRow(t *testing.T) {
	ride := sampleRide(6, true, 0)
	row := ToRow(ride)

	require.NoError(t, ReturnType().Conforms(row))
	assert.Equal(t, int64(6), row[0].Int64())
	assert.Equal(t, int64(2013000006), row[1].Int64())
	assert.Equal(t, int64(2013000106), row[2].Int64())
	assert.True(t, row[3].Bool())
	assert.Equal(t, float32(-73.866135), row[4].Float32())
	assert.Equal(t, float32(40.764912), row[7].Float32())
	assert.Equal(t, int16(6), row[8].Int16())

	full := WithEventTime(row, ride.EventTimeMillis())
	require.NoError(t, TableSchema().Conforms(full))
	assert.Equal(t, ride.EventTimeMillis(), full[9].Timestamp())
	assert.Len(t, row, 9)
}

func TestFromRow_Errors(t *testing.T) {
	_, err := FromRow(types.Row{types.Int64Value(1)})
	assert.ErrorIs(t, err, types.ErrArityMismatch)

	row := ToRow(sampleRide(1, true, 0))
	row[3] = types.Int64Value(1)
	_, err = FromRow(row)
	assert.ErrorIs(t, err, types.ErrColumnTypeMismatch)
}

func TestFromRecord(t *testing.T) {
	start := sampleRide(9, true, time.Hour)
	got, err := FromRecord(ToRow(start), start.EventTimeMillis())
	require.NoError(t, err)
	assert.Equal(t, start.StartTime, got.StartTime)
	assert.True(t, got.EndTime.IsZero())

	end := sampleRide(9, false, time.Hour)
	got, err = FromRecord(ToRow(end), end.EventTimeMillis())
	require.NoError(t, err)
	assert.Equal(t, end.EndTime, got.EndTime)
	assert.Equal(t, end.EventTimeMillis(), got.EventTimeMillis())
}

func TestProperty_RowRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ToRow then FromRow restores every mapped field bit for bit", prop.ForAll(
		func(rideID, taxiID, driverID int64, isStart bool, c1, c2, c3, c4 uint32, cnt int16) bool {
			want := types.RideEvent{
				RideID:       rideID,
				IsStart:      isStart,
				StartLon:     math.Float32frombits(c1),
				StartLat:     math.Float32frombits(c2),
				EndLon:       math.Float32frombits(c3),
				EndLat:       math.Float32frombits(c4),
				PassengerCnt: cnt,
				TaxiID:       taxiID,
				DriverID:     driverID,
			}
			got, err := FromRow(ToRow(want))
			if err != nil {
				return false
			}
			return got.RideID == want.RideID &&
				got.TaxiID == want.TaxiID &&
				got.DriverID == want.DriverID &&
				got.IsStart == want.IsStart &&
				math.Float32bits(got.StartLon) == c1 &&
				math.Float32bits(got.StartLat) == c2 &&
				math.Float32bits(got.EndLon) == c3 &&
				math.Float32bits(got.EndLat) == c4 &&
				got.PassengerCnt == want.PassengerCnt
		},
		gen.Int64(), gen.Int64(), gen.Int64(), gen.Bool(),
		gen.UInt32(), gen.UInt32(), gen.UInt32(), gen.UInt32(),
		gen.Int16(),
	))

	properties.TestingRun(t)
}

func TestTaxiRideTableSource_Capabilities(t *testing.T) {
	src, err := NewTaxiRideTableSource(writeRideFile(t, sampleRide(1, true, 0)))
	require.NoError(t, err)

	assert.Equal(t, "TaxiRides", src.ExplainSource())
	assert.Equal(t, ReturnType(), src.ReturnType())
	assert.Equal(t, TableSchema(), src.TableSchema())
	assert.Equal(t, []RowtimeAttributeDescriptor{{
		Attribute:          "eventTime",
		TimestampExtractor: StreamRecordTimestamp,
		WatermarkStrategy:  PreserveWatermarks,
	}}, src.RowtimeAttributeDescriptors())
}

func TestTaxiRideTableSource_Constructors(t *testing.T) {
	path := writeRideFile(t, sampleRide(1, true, 0))

	src, err := NewTaxiRideTableSourceWithSpeed(path, 30)
	require.NoError(t, err)
	assert.Equal(t, 30.0, src.Replay().Config().ServingSpeedFactor)
	assert.Zero(t, src.Replay().Config().MaxEventDelaySecs)

	src, err = NewTaxiRideTableSourceWithDelay(path, 60, 600)
	require.NoError(t, err)
	assert.Equal(t, 60, src.Replay().Config().MaxEventDelaySecs)

	_, err = NewTaxiRideTableSourceWithDelay(path, -1, 1)
	assert.True(t, tserrors.IsConfigurationError(err))

	_, err = NewTaxiRideTableSourceWithSpeed(path, 0)
	assert.True(t, tserrors.IsConfigurationError(err))

	_, err = NewTaxiRideTableSource(filepath.Join(t.TempDir(), "missing.gz"))
	assert.ErrorIs(t, err, tserrors.ErrFileUnreadable)
}

func TestTaxiRideTableSource_Run(t *testing.T) {
	rides := []types.RideEvent{
		sampleRide(1, true, 0),
		sampleRide(2, true, 5*time.Second),
		sampleRide(1, false, 0),
	}
	path := writeRideFile(t, rides...)

	cfg := replay.DefaultConfig(path)
	cfg.ServingSpeedFactor = math.Inf(1)
	src, err := New(cfg, replay.WithLogger(logging.Nop()))
	require.NoError(t, err)

	sink := NewCollectingSink()
	require.NoError(t, src.Run(context.Background(), sink))

	records := sink.Records()
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, ToRow(rides[i]), rec.Row)
		assert.Equal(t, rides[i].EventTimeMillis(), rec.EventTime)
	}
	// One periodic watermark per 10s of event time up to the drop-off, then the final one.
	var want []int64
	for k := int64(1); k <= 72; k++ {
		want = append(want, t0.UnixMilli()+k*10_000-1)
	}
	want = append(want, types.MaxWatermark)
	assert.Equal(t, want, sink.Watermarks())
	assert.True(t, sink.Finished())
}

type failingSink struct {
	*CollectingSink
}

func (failingSink) WriteRow(context.Context, types.Row, int64) error {
	return assert.AnError
}

func TestTaxiRideTableSource_SinkErrorPropagates(t *testing.T) {
	path := writeRideFile(t, sampleRide(1, true, 0))
	src, err := New(replay.DefaultConfig(path), replay.WithLogger(logging.Nop()))
	require.NoError(t, err)

	sink := failingSink{NewCollectingSink()}
	err = src.Run(context.Background(), sink)
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, tserrors.ErrCallbackFailed)
	assert.False(t, sink.Finished())
}

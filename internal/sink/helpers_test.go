package sink

import (
	"context"
	"sync"
	"time"

	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/pkg/types"
)

var hour0 = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

func rideRow(id, taxiID int64, at time.Time) (types.Row, int64) {
	ride := types.RideEvent{
		RideID:       id,
		IsStart:      true,
		StartTime:    at,
		EndTime:      at.Add(10 * time.Minute),
		StartLon:     -73.99,
		StartLat:     40.75,
		EndLon:       -73.95,
		EndLat:       40.78,
		PassengerCnt: 1,
		TaxiID:       taxiID,
		DriverID:     taxiID + 1000,
	}
	return table.ToRow(ride), ride.EventTimeMillis()
}

func writeRide(ctx context.Context, s table.RowSink, id, taxiID int64, at time.Time) error {
	row, ts := rideRow(id, taxiID, at)
	return s.WriteRow(ctx, row, ts)
}

type flushRecorder struct {
	mu   sync.Mutex
	keys []string
	rows int64
}

func (r *flushRecorder) RecordFlush(key string, rows, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.rows += rows
}

package partition

import (
	"time"

	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/pkg/types"
)

var hour0 = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

func rideRecord(id, taxiID int64, at time.Time) types.Record {
	ride := types.RideEvent{
		RideID:       id,
		IsStart:      true,
		StartTime:    at,
		EndTime:      at.Add(10 * time.Minute),
		StartLon:     -73.99,
		StartLat:     40.75,
		EndLon:       -73.95,
		EndLat:       40.78,
		PassengerCnt: 2,
		TaxiID:       taxiID,
		DriverID:     taxiID + 100,
	}
	return types.Record{Row: table.ToRow(ride), EventTime: ride.EventTimeMillis()}
}

// Package types provides core data types for taxistream.
package types

import (
	"math"
	"time"
)

// MaxWatermark marks the end of event time. It is emitted once the replay is exhausted.
const MaxWatermark int64 = math.MaxInt64

// RideEvent is a single taxi ride event. Every ride produces two events sharing
// the same RideID: a start (pickup) event and an end (drop-off) event.
type RideEvent struct {
	// RideID identifies the ride, not the event
	RideID int64 `json:"ride_id"`

	// IsStart is true for pickup events and false for drop-off events
	IsStart bool `json:"is_start"`

	// StartTime and EndTime are the pickup and drop-off times of the ride
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	StartLon float32 `json:"start_lon"`
	StartLat float32 `json:"start_lat"`
	EndLon   float32 `json:"end_lon"`
	EndLat   float32 `json:"end_lat"`

	// PassengerCnt is the number of passengers on the ride
	PassengerCnt int16 `json:"passenger_cnt"`

	TaxiID   int64 `json:"taxi_id"`
	DriverID int64 `json:"driver_id"`
}

// EventTime returns the time the event happened: the pickup time for start
// events and the drop-off time for end events.
func (r RideEvent) EventTime() time.Time {
	if r.IsStart {
		return r.StartTime
	}
	return r.EndTime
}

// EventTimeMillis returns EventTime as Unix milliseconds.
func (r RideEvent) EventTimeMillis() int64 {
	return r.EventTime().UnixMilli()
}

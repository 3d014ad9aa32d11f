// Package table exposes the ride replay as a typed, event-time stamped
// tabular stream.
package table

import (
	"fmt"
	"time"

	"github.com/arkilian/taxistream/pkg/types"
)

// Column names of the ride table.
const (
	ColRideID       = "rideId"
	ColTaxiID       = "taxiId"
	ColDriverID     = "driverId"
	ColIsStart      = "isStart"
	ColStartLon     = "startLon"
	ColStartLat     = "startLat"
	ColEndLon       = "endLon"
	ColEndLat       = "endLat"
	ColPassengerCnt = "passengerCnt"
	ColEventTime    = "eventTime"
)

// TableName is the name the source is registered under.
const TableName = "TaxiRides"

var (
	returnType  types.Schema
	tableSchema types.Schema
)

func init() {
	returnType = types.Schema{
		Version: 1,
		Columns: []types.ColumnDef{
			{Name: ColRideID, Type: types.TypeBigInt},
			{Name: ColTaxiID, Type: types.TypeBigInt},
			{Name: ColDriverID, Type: types.TypeBigInt},
			{Name: ColIsStart, Type: types.TypeBoolean},
			{Name: ColStartLon, Type: types.TypeFloat},
			{Name: ColStartLat, Type: types.TypeFloat},
			{Name: ColEndLon, Type: types.TypeFloat},
			{Name: ColEndLat, Type: types.TypeFloat},
			{Name: ColPassengerCnt, Type: types.TypeSmallInt},
		},
	}

	tableSchema = returnType.Clone()
	tableSchema.Columns = append(tableSchema.Columns, types.ColumnDef{Name: ColEventTime, Type: types.TypeTimestamp, Rowtime: true})
	tableSchema.Indexes = []types.IndexDef{
		{Name: "idx_rides_event_time", Columns: []string{ColEventTime}},
		{Name: "idx_rides_taxi", Columns: []string{ColTaxiID}},
		{Name: "idx_rides_ride", Columns: []string{ColRideID}},
	}
}

// ReturnType returns the schema of the rows produced by ToRow.
func ReturnType() types.Schema { return returnType.Clone() }

// TableSchema returns ReturnType plus the eventTime rowtime column.
func TableSchema() types.Schema { return tableSchema.Clone() }

// ToRow maps a ride to a row in ReturnType column order.
func ToRow(ride types.RideEvent) types.Row {
	return types.Row{
		types.Int64Value(ride.RideID),
		types.Int64Value(ride.TaxiID),
		types.Int64Value(ride.DriverID),
		types.BoolValue(ride.IsStart),
		types.Float32Value(ride.StartLon),
		types.Float32Value(ride.StartLat),
		types.Float32Value(ride.EndLon),
		types.Float32Value(ride.EndLat),
		types.Int16Value(ride.PassengerCnt),
	}
}

// WithEventTime appends the rowtime cell, producing a row of TableSchema.
func WithEventTime(row types.Row, eventTimeMillis int64) types.Row {
	out := make(types.Row, 0, len(row)+1)
	out = append(out, row...)
	return append(out, types.TimestampValue(eventTimeMillis))
}

// FromRow reads the mapped ride fields back by column name. The ride's
// start and end times are not part of the row and stay zero.
func FromRow(row types.Row) (types.RideEvent, error) {
	if err := returnType.Conforms(row); err != nil {
		return types.RideEvent{}, err
	}

	var ride types.RideEvent
	var err error
	get := func(name string) types.Value {
		if err != nil {
			return types.Value{}
		}
		var v types.Value
		v, err = row.Get(returnType, name)
		return v
	}

	ride.RideID = get(ColRideID).Int64()
	ride.TaxiID = get(ColTaxiID).Int64()
	ride.DriverID = get(ColDriverID).Int64()
	ride.IsStart = get(ColIsStart).Bool()
	ride.StartLon = get(ColStartLon).Float32()
	ride.StartLat = get(ColStartLat).Float32()
	ride.EndLon = get(ColEndLon).Float32()
	ride.EndLat = get(ColEndLat).Float32()
	ride.PassengerCnt = get(ColPassengerCnt).Int16()
	if err != nil {
		return types.RideEvent{}, fmt.Errorf("table: %w", err)
	}
	return ride, nil
}

// FromRecord is FromRow plus the record timestamp, which becomes the start
// time of a start event or the end time of an end event.
func FromRecord(row types.Row, eventTimeMillis int64) (types.RideEvent, error) {
	ride, err := FromRow(row)
	if err != nil {
		return ride, err
	}
	ts := time.UnixMilli(eventTimeMillis).UTC()
	if ride.IsStart {
		ride.StartTime = ts
	} else {
		ride.EndTime = ts
	}
	return ride, nil
}

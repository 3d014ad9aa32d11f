package replay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/taxistream/pkg/types"
)

// numFields is the number of comma-separated fields of an encoded ride:
// rideId,isStart,startTime,endTime,startLon,startLat,endLon,endLat,passengerCnt,taxiId,driverId
const numFields = 11

// legacyTimeLayout is the space-separated UTC layout of the original ride dumps.
const legacyTimeLayout = "2006-01-02 15:04:05"

// ParseRide decodes one encoded ride line.
func ParseRide(line string) (types.RideEvent, error) {
	tokens := strings.Split(strings.TrimRight(line, "\r"), ",")
	if len(tokens) != numFields {
		return types.RideEvent{}, fmt.Errorf("expected %d fields, got %d", numFields, len(tokens))
	}
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}

	var ride types.RideEvent
	var err error

	if ride.RideID, err = strconv.ParseInt(tokens[0], 10, 64); err != nil {
		return types.RideEvent{}, fmt.Errorf("rideId: %w", err)
	}
	if ride.IsStart, err = parseIsStart(tokens[1]); err != nil {
		return types.RideEvent{}, err
	}
	if ride.StartTime, err = parseTime(tokens[2]); err != nil {
		return types.RideEvent{}, fmt.Errorf("startTime: %w", err)
	}
	if ride.EndTime, err = parseTime(tokens[3]); err != nil {
		return types.RideEvent{}, fmt.Errorf("endTime: %w", err)
	}

	coords := []*float32{&ride.StartLon, &ride.StartLat, &ride.EndLon, &ride.EndLat}
	names := []string{"startLon", "startLat", "endLon", "endLat"}
	for i, dst := range coords {
		if *dst, err = parseCoordinate(tokens[4+i]); err != nil {
			return types.RideEvent{}, fmt.Errorf("%s: %w", names[i], err)
		}
	}

	cnt, err := strconv.ParseInt(tokens[8], 10, 16)
	if err != nil {
		return types.RideEvent{}, fmt.Errorf("passengerCnt: %w", err)
	}
	ride.PassengerCnt = int16(cnt)

	if ride.TaxiID, err = strconv.ParseInt(tokens[9], 10, 64); err != nil {
		return types.RideEvent{}, fmt.Errorf("taxiId: %w", err)
	}
	if ride.DriverID, err = strconv.ParseInt(tokens[10], 10, 64); err != nil {
		return types.RideEvent{}, fmt.Errorf("driverId: %w", err)
	}

	if !ride.IsStart && ride.EndTime.Before(ride.StartTime) {
		return types.RideEvent{}, fmt.Errorf("end time %s precedes start time %s", ride.EndTime.Format(time.RFC3339), ride.StartTime.Format(time.RFC3339))
	}

	return ride, nil
}

// FormatRide encodes a ride in the layout ParseRide reads.
func FormatRide(ride types.RideEvent) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(ride.RideID, 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatBool(ride.IsStart))
	sb.WriteByte(',')
	sb.WriteString(formatTime(ride.StartTime))
	sb.WriteByte(',')
	sb.WriteString(formatTime(ride.EndTime))
	for _, f := range []float32{ride.StartLon, ride.StartLat, ride.EndLon, ride.EndLat} {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(int64(ride.PassengerCnt), 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(ride.TaxiID, 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(ride.DriverID, 10))
	return sb.String()
}

func parseIsStart(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "TRUE", "START":
		return true, nil
	case "FALSE", "END":
		return false, nil
	default:
		return false, fmt.Errorf("isStart: invalid flag %q", s)
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse(legacyTimeLayout, s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseCoordinate(s string) (float32, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(f), nil
}

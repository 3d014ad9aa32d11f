package replay

import (
	"bufio"
	"io"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/arkilian/taxistream/pkg/types"
)

// GenerateRides returns the start and end events of n synthetic rides
// picked up from start onwards, sorted by event time. The same seed always
// yields the same rides.
func GenerateRides(n int, start time.Time, seed uint64) []types.RideEvent {
	rnd := rand.New(rand.NewPCG(seed, ^seed))
	start = start.UTC().Truncate(time.Second)

	events := make([]types.RideEvent, 0, 2*n)
	pickup := start
	for i := 0; i < n; i++ {
		pickup = pickup.Add(time.Duration(1+rnd.IntN(30)) * time.Second)
		dropoff := pickup.Add(time.Duration(120+rnd.IntN(38*60)) * time.Second)
		taxi := int64(2013000000 + rnd.IntN(500))
		ride := types.RideEvent{
			RideID:       int64(i + 1),
			IsStart:      true,
			StartTime:    pickup,
			EndTime:      dropoff,
			StartLon:     float32(-74.02 + rnd.Float64()*0.1),
			StartLat:     float32(40.70 + rnd.Float64()*0.1),
			EndLon:       float32(-74.02 + rnd.Float64()*0.1),
			EndLat:       float32(40.70 + rnd.Float64()*0.1),
			PassengerCnt: int16(1 + rnd.IntN(4)),
			TaxiID:       taxi,
			DriverID:     taxi + 1000000,
		}
		end := ride
		end.IsStart = false
		events = append(events, ride, end)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventTimeMillis() < events[j].EventTimeMillis()
	})
	return events
}

// WriteRides encodes rides one per line.
func WriteRides(w io.Writer, rides []types.RideEvent) error {
	bw := bufio.NewWriter(w)
	for _, ride := range rides {
		if _, err := bw.WriteString(FormatRide(ride)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

package replay

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/pkg/types"
)

var baseTime = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

// virtualClock advances only when slept on.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type emitted struct {
	ride      types.RideEvent
	eventTime int64
	at        time.Time
}

// recorder captures everything a Source emits, in order.
type recorder struct {
	clock      Clock
	events     []emitted
	watermarks []int64
	// wmAfter[i] is the number of events emitted before watermarks[i]
	wmAfter []int
	eos     int
	onEvent func(n int) error
}

func (r *recorder) OnEvent(_ context.Context, ride types.RideEvent, eventTime int64) error {
	var at time.Time
	if r.clock != nil {
		at = r.clock.Now()
	}
	r.events = append(r.events, emitted{ride: ride, eventTime: eventTime, at: at})
	if r.onEvent != nil {
		return r.onEvent(len(r.events))
	}
	return nil
}

func (r *recorder) OnWatermark(_ context.Context, wm int64) error {
	r.watermarks = append(r.watermarks, wm)
	r.wmAfter = append(r.wmAfter, len(r.events))
	return nil
}

func (r *recorder) OnEndOfStream(context.Context) error {
	r.eos++
	return nil
}

// startRide returns a start event happening offset after baseTime.
func startRide(id int64, offset time.Duration) types.RideEvent {
	start := baseTime.Add(offset)
	return types.RideEvent{
		RideID:       id,
		IsStart:      true,
		StartTime:    start,
		EndTime:      start.Add(10 * time.Minute),
		StartLon:     -73.99,
		StartLat:     40.75,
		EndLon:       -73.95,
		EndLat:       40.78,
		PassengerCnt: 1,
		TaxiID:       2013000000 + id,
		DriverID:     2013000000 + id,
	}
}

// ridesAt builds one start event per offset, in order.
func ridesAt(offsets ...time.Duration) []types.RideEvent {
	rides := make([]types.RideEvent, len(offsets))
	for i, off := range offsets {
		rides[i] = startRide(int64(i+1), off)
	}
	return rides
}

func encodeLines(rides []types.RideEvent, extra ...string) []byte {
	var sb strings.Builder
	for _, r := range rides {
		sb.WriteString(FormatRide(r))
		sb.WriteByte('\n')
	}
	for _, l := range extra {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func writeGzip(t testing.TB, dir string, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "rides.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeSnappy(t testing.TB, dir string, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	sw := snappy.NewBufferedWriter(&buf)
	_, err := sw.Write(data)
	require.NoError(t, err)
	require.NoError(t, sw.Close())

	path := filepath.Join(dir, "rides.sz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeRides(t testing.TB, rides []types.RideEvent) string {
	t.Helper()
	return writeGzip(t, t.TempDir(), encodeLines(rides))
}

func newTestSource(t testing.TB, cfg Config, clock Clock) *Source {
	t.Helper()
	src, err := New(cfg, WithClock(clock), WithLogger(logging.Nop()))
	require.NoError(t, err)
	return src
}

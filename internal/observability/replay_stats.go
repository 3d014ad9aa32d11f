// Package observability tracks replay progress for the status endpoints.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/taxistream/internal/replay"
)

// ReplayStats counts records and watermarks flowing through a replay and the
// partitions written from it. It is safe for concurrent use.
type ReplayStats struct {
	mu sync.RWMutex

	startedAt     time.Time
	read          int64
	skipped       int64
	emitted       int64
	watermarks    int64
	lastEventTime int64
	lastWatermark int64
	maxLag        time.Duration
	finished      bool

	partitions map[string]*PartitionStats
	now        func() time.Time
}

// PartitionStats aggregates the flushes of one partition key.
type PartitionStats struct {
	Key       string    `json:"key"`
	Flushes   int64     `json:"flushes"`
	Rows      int64     `json:"rows"`
	Bytes     int64     `json:"bytes"`
	LastFlush time.Time `json:"last_flush"`
}

// Snapshot is a point-in-time copy of ReplayStats.
type Snapshot struct {
	StartedAt     time.Time `json:"started_at"`
	Uptime        string    `json:"uptime"`
	RecordsRead   int64     `json:"records_read"`
	Skipped       int64     `json:"records_skipped"`
	Emitted       int64     `json:"events_emitted"`
	Watermarks    int64     `json:"watermarks_emitted"`
	LastEventTime int64     `json:"last_event_time"`
	LastWatermark int64     `json:"last_watermark"`
	MaxLagMillis  int64     `json:"max_serving_lag_ms"`
	Finished      bool      `json:"finished"`
	Partitions    int       `json:"partitions"`
}

var _ replay.Observer = (*ReplayStats)(nil)

// NewReplayStats creates an empty tracker started now.
func NewReplayStats() *ReplayStats {
	return &ReplayStats{
		startedAt:  time.Now(),
		partitions: make(map[string]*PartitionStats),
		now:        time.Now,
	}
}

func (s *ReplayStats) RecordRead() {
	s.mu.Lock()
	s.read++
	s.mu.Unlock()
}

func (s *ReplayStats) RecordSkipped() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

func (s *ReplayStats) EventEmitted(eventTimeMillis int64, lag time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted++
	s.lastEventTime = eventTimeMillis
	if lag > s.maxLag {
		s.maxLag = lag
	}
}

func (s *ReplayStats) WatermarkEmitted(watermarkMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks++
	s.lastWatermark = watermarkMillis
}

// MarkFinished records that the stream reached its end.
func (s *ReplayStats) MarkFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

// RecordFlush records a partition written for key.
// This method is O(1) and thread-safe.
func (s *ReplayStats) RecordFlush(key string, rows, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.partitions[key]
	if !ok {
		ps = &PartitionStats{Key: key}
		s.partitions[key] = ps
	}
	ps.Flushes++
	ps.Rows += rows
	ps.Bytes += bytes
	ps.LastFlush = s.now()
}

// TopPartitions returns the n partition keys with the most rows, largest first.
func (s *ReplayStats) TopPartitions(n int) []PartitionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.partitions) == 0 {
		return []PartitionStats{}
	}

	out := make([]PartitionStats, 0, len(s.partitions))
	for _, ps := range s.partitions {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rows != out[j].Rows {
			return out[i].Rows > out[j].Rows
		}
		return out[i].Key < out[j].Key
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Snapshot copies the current counters.
func (s *ReplayStats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		StartedAt:     s.startedAt,
		Uptime:        s.now().Sub(s.startedAt).Round(time.Millisecond).String(),
		RecordsRead:   s.read,
		Skipped:       s.skipped,
		Emitted:       s.emitted,
		Watermarks:    s.watermarks,
		LastEventTime: s.lastEventTime,
		LastWatermark: s.lastWatermark,
		MaxLagMillis:  s.maxLag.Milliseconds(),
		Finished:      s.finished,
		Partitions:    len(s.partitions),
	}
}

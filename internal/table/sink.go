package table

import (
	"context"
	"sync"

	"github.com/arkilian/taxistream/pkg/types"
)

// RowSink receives the tabular stream. Rows carry ReturnType cells and the
// record timestamp separately.
type RowSink interface {
	WriteRow(ctx context.Context, row types.Row, timestampMillis int64) error
	WriteWatermark(ctx context.Context, watermarkMillis int64) error
	Finish(ctx context.Context) error
}

// CollectingSink keeps everything it receives in memory. It is safe for
// concurrent use.
type CollectingSink struct {
	mu         sync.Mutex
	records    []types.Record
	watermarks []int64
	finished   bool
}

// NewCollectingSink returns an empty sink.
func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

// WriteRow appends the row with its timestamp.
func (s *CollectingSink) WriteRow(_ context.Context, row types.Row, timestampMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, types.Record{Row: row, EventTime: timestampMillis})
	return nil
}

// WriteWatermark appends the watermark.
func (s *CollectingSink) WriteWatermark(_ context.Context, watermarkMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks = append(s.watermarks, watermarkMillis)
	return nil
}

// Finish marks the stream as complete.
func (s *CollectingSink) Finish(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

// Records returns a copy of the collected records.
func (s *CollectingSink) Records() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Record(nil), s.records...)
}

// Watermarks returns a copy of the collected watermarks.
func (s *CollectingSink) Watermarks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.watermarks...)
}

// Finished reports whether Finish was called.
func (s *CollectingSink) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

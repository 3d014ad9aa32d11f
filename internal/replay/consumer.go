package replay

import (
	"context"
	"time"

	"github.com/arkilian/taxistream/pkg/types"
)

// Consumer receives the replayed stream. Callbacks are invoked from the
// goroutine running Source.Run, one at a time.
type Consumer interface {
	// OnEvent delivers a ride with its original event time in Unix milliseconds.
	OnEvent(ctx context.Context, ride types.RideEvent, eventTimeMillis int64) error

	// OnWatermark asserts that no later event has an event time at or below watermarkMillis.
	OnWatermark(ctx context.Context, watermarkMillis int64) error

	// OnEndOfStream is called once after the final watermark.
	OnEndOfStream(ctx context.Context) error
}

// ConsumerFuncs adapts plain functions to Consumer. Nil fields are no-ops.
type ConsumerFuncs struct {
	Event       func(ctx context.Context, ride types.RideEvent, eventTimeMillis int64) error
	Watermark   func(ctx context.Context, watermarkMillis int64) error
	EndOfStream func(ctx context.Context) error
}

func (f ConsumerFuncs) OnEvent(ctx context.Context, ride types.RideEvent, eventTimeMillis int64) error {
	if f.Event == nil {
		return nil
	}
	return f.Event(ctx, ride, eventTimeMillis)
}

func (f ConsumerFuncs) OnWatermark(ctx context.Context, watermarkMillis int64) error {
	if f.Watermark == nil {
		return nil
	}
	return f.Watermark(ctx, watermarkMillis)
}

func (f ConsumerFuncs) OnEndOfStream(ctx context.Context) error {
	if f.EndOfStream == nil {
		return nil
	}
	return f.EndOfStream(ctx)
}

// Observer is notified of replay progress. Implementations must be safe for
// concurrent reads of whatever they expose; the engine calls them from a
// single goroutine.
type Observer interface {
	RecordRead()
	RecordSkipped()
	// EventEmitted reports the event time of an emitted ride and how far
	// behind its serving time the emission happened.
	EventEmitted(eventTimeMillis int64, lag time.Duration)
	WatermarkEmitted(watermarkMillis int64)
}

type nopObserver struct{}

func (nopObserver) RecordRead() {}
func (nopObserver) RecordSkipped() {}
func (nopObserver) EventEmitted(int64, time.Duration) {}
func (nopObserver) WatermarkEmitted(int64) {}

// Package replay replays a recorded taxi ride file as a paced, event-time
// ordered stream with watermarks.
package replay

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/pkg/types"
)

// maxEventDelaySecs is the largest delay that still fits in a time.Duration.
const maxEventDelaySecs = math.MaxInt64 / int64(time.Second)

// minWatermarkInterval is the lower bound of the default watermark interval.
const minWatermarkInterval = 10 * time.Second

// Config holds the replay parameters.
type Config struct {
	// DataFilePath is the gzip, snappy or plain text ride file
	DataFilePath string

	// MaxEventDelaySecs bounds how far an event may be emitted out of order.
	// Zero emits in file order.
	MaxEventDelaySecs int

	// ServingSpeedFactor scales event-time gaps to serving time. +Inf
	// disables pacing.
	ServingSpeedFactor float64

	// WatermarkInterval is the event-time distance between watermarks.
	// Zero means max(10s, MaxEventDelaySecs).
	WatermarkInterval time.Duration

	// Seed seeds the delay generator. Zero means DefaultSeed.
	Seed uint64
}

// DefaultConfig returns the configuration for an in-order, real-time replay of path.
func DefaultConfig(path string) Config {
	return Config{
		DataFilePath:       path,
		ServingSpeedFactor: 1,
		Seed:               DefaultSeed,
	}
}

// Option configures a Source.
type Option func(*Source)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Source) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Source) { s.logger = l }
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(s *Source) { s.observer = o }
}

// WithMalformedHandler registers a callback for skipped lines.
func WithMalformedHandler(fn func(line int, err error)) Option {
	return func(s *Source) { s.onMalformed = fn }
}

// Source replays a ride file. A Source may be run repeatedly but not concurrently.
type Source struct {
	cfg         Config
	maxDelay    int64
	interval    int64
	clock       Clock
	logger      *zap.SugaredLogger
	observer    Observer
	onMalformed func(line int, err error)
	running     atomic.Bool
}

// New validates cfg and returns a Source. The data file is opened once to
// check that its header is readable.
func New(cfg Config, opts ...Option) (*Source, error) {
	if cfg.MaxEventDelaySecs < 0 {
		return nil, tserrors.NewConfigurationError("max event delay must be non-negative").
			WithDetails(map[string]interface{}{"max_event_delay_secs": cfg.MaxEventDelaySecs})
	}
	if int64(cfg.MaxEventDelaySecs) > maxEventDelaySecs {
		return nil, tserrors.NewConfigurationError("max event delay is too large").
			WithDetails(map[string]interface{}{"max_event_delay_secs": cfg.MaxEventDelaySecs, "limit": maxEventDelaySecs})
	}
	if math.IsNaN(cfg.ServingSpeedFactor) || cfg.ServingSpeedFactor <= 0 {
		return nil, tserrors.NewConfigurationError("serving speed factor must be positive").
			WithDetails(map[string]interface{}{"serving_speed_factor": cfg.ServingSpeedFactor})
	}
	if cfg.WatermarkInterval < 0 {
		return nil, tserrors.NewConfigurationError("watermark interval must be positive").
			WithDetails(map[string]interface{}{"watermark_interval": cfg.WatermarkInterval.String()})
	}
	if cfg.DataFilePath == "" {
		return nil, tserrors.NewConfigurationError("data file path is required")
	}

	r, err := openRideFile(cfg.DataFilePath)
	if err != nil {
		return nil, err
	}
	r.Close()

	maxDelay := time.Duration(cfg.MaxEventDelaySecs) * time.Second
	if cfg.WatermarkInterval == 0 {
		cfg.WatermarkInterval = max(minWatermarkInterval, maxDelay)
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}

	s := &Source{
		cfg:      cfg,
		maxDelay: maxDelay.Milliseconds(),
		interval: cfg.WatermarkInterval.Milliseconds(),
		clock:    SystemClock,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Named(nil, "replay")
	}
	if s.interval <= 0 {
		return nil, tserrors.NewConfigurationError("watermark interval must be at least one millisecond")
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Source) Config() Config { return s.cfg }

// Run replays the file into c and blocks until the file is exhausted or ctx
// ends. Cancellation is not an error: Run returns nil without calling
// OnEndOfStream.
func (s *Source) Run(ctx context.Context, c Consumer) (err error) {
	if !s.running.CompareAndSwap(false, true) {
		return tserrors.New(tserrors.ErrCategoryInternal, tserrors.CodeAlreadyRunning, "replay is already running")
	}
	defer s.running.Store(false)

	ctx, span := otel.Tracer("github.com/arkilian/taxistream/internal/replay").Start(ctx, "replay.Run")
	span.SetAttributes(
		attribute.String("replay.file", s.cfg.DataFilePath),
		attribute.Int("replay.max_delay_secs", s.cfg.MaxEventDelaySecs),
		attribute.Float64("replay.speed", s.cfg.ServingSpeedFactor),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	r, err := openRideFile(s.cfg.DataFilePath)
	if err != nil {
		return err
	}
	defer r.Close()
	stop := context.AfterFunc(ctx, func() { r.file.Close() })
	defer stop()

	s.logger.Infow("Starting replay",
		"file", s.cfg.DataFilePath,
		"codec", r.codec.String(),
		"max_delay_secs", s.cfg.MaxEventDelaySecs,
		"speed", s.cfg.ServingSpeedFactor,
		"watermark_interval", s.cfg.WatermarkInterval)

	run := &replayRun{
		Source:   s,
		reader:   r,
		consumer: c,
		delays:   newDelayGenerator(s.maxDelay, s.cfg.Seed),
		lastWM:   math.MinInt64,
	}
	err = run.loop(ctx)
	if ctx.Err() != nil {
		s.logger.Infow("Replay cancelled", "emitted", run.emitted, "skipped", run.skipped)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Infow("Replay finished", "emitted", run.emitted, "skipped", run.skipped)
	return nil
}

// replayRun is the state of a single Run.
type replayRun struct {
	*Source
	reader   *rideReader
	consumer Consumer
	delays   *delayGenerator
	sched    schedule

	servingStart time.Time
	dataStart    int64
	lastWM       int64
	emitted      int64
	skipped      int64
}

func (r *replayRun) loop(ctx context.Context) error {
	next, ok, err := r.read()
	if err != nil {
		return err
	}
	if !ok {
		if ctx.Err() != nil {
			return nil
		}
		return r.endOfStream(ctx, false)
	}

	r.servingStart = r.clock.Now()
	r.dataStart = next.EventTimeMillis()
	r.sched.pushRide(r.dataStart+r.delays.next(), next)
	r.sched.pushWatermark(r.dataStart + r.interval)

	next, ok, err = r.read()
	if err != nil {
		return err
	}

	for ok || r.sched.pendingRides() > 0 {
		// Read ahead while the next ride could still be due before the head.
		for ok && (r.sched.empty() || next.EventTimeMillis() < r.sched.peek().at+r.maxDelay) {
			r.sched.pushRide(next.EventTimeMillis()+r.delays.next(), next)
			if next, ok, err = r.read(); err != nil {
				return err
			}
		}

		head := r.sched.pop()
		target := r.servingTime(head.at)
		if err := r.waitUntil(ctx, target); err != nil {
			return err
		}

		switch head.kind {
		case itemRide:
			eventTime := head.ride.EventTimeMillis()
			if err := r.consumer.OnEvent(ctx, head.ride, eventTime); err != nil {
				return tserrors.NewCallbackError("event callback failed", err)
			}
			r.emitted++
			r.observer.EventEmitted(eventTime, r.clock.Now().Sub(target))
		case itemWatermark:
			if err := r.emitWatermark(ctx, head.at-r.maxDelay-1); err != nil {
				return err
			}
			r.sched.pushWatermark(head.at + r.interval)
		}
	}

	return r.endOfStream(ctx, true)
}

func (r *replayRun) read() (types.RideEvent, bool, error) {
	ride, ok, err := r.reader.next(r.malformed)
	if err != nil {
		return ride, false, err
	}
	if ok {
		r.observer.RecordRead()
	}
	return ride, ok, nil
}

func (r *replayRun) malformed(line int, err error) {
	r.skipped++
	r.observer.RecordSkipped()
	r.logger.Warnw("Skipping malformed record", "line", line, "error", err)
	if r.onMalformed != nil {
		r.onMalformed(line, err)
	}
}

func (r *replayRun) emitWatermark(ctx context.Context, wm int64) error {
	if wm <= r.lastWM {
		return nil
	}
	if err := r.consumer.OnWatermark(ctx, wm); err != nil {
		return tserrors.NewCallbackError("watermark callback failed", err)
	}
	r.lastWM = wm
	r.observer.WatermarkEmitted(wm)
	return nil
}

func (r *replayRun) endOfStream(ctx context.Context, finalWatermark bool) error {
	if finalWatermark {
		if err := r.emitWatermark(ctx, types.MaxWatermark); err != nil {
			return err
		}
	}
	if err := r.consumer.OnEndOfStream(ctx); err != nil {
		return tserrors.NewCallbackError("end of stream callback failed", err)
	}
	return nil
}

// servingTime maps a delayed event time to the wall time it is due.
func (r *replayRun) servingTime(at int64) time.Time {
	if math.IsInf(r.cfg.ServingSpeedFactor, 1) {
		return r.servingStart
	}
	offset := float64(at-r.dataStart) * float64(time.Millisecond) / r.cfg.ServingSpeedFactor
	if offset >= math.MaxInt64 {
		return r.servingStart.Add(time.Duration(math.MaxInt64))
	}
	return r.servingStart.Add(time.Duration(offset))
}

func (r *replayRun) waitUntil(ctx context.Context, target time.Time) error {
	if d := target.Sub(r.clock.Now()); d > 0 {
		return r.clock.Sleep(ctx, d)
	}
	return ctx.Err()
}

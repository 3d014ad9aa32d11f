package sink

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/pkg/types"
)

// LogSink decodes each row back into a ride and logs it at debug level.
// Watermarks are logged at info level. Rows that do not decode are rejected.
type LogSink struct {
	logger *zap.SugaredLogger
	rows   atomic.Int64
}

func NewLogSink(opts ...Option) *LogSink {
	o := buildOptions(opts)
	return &LogSink{logger: logging.Named(o.logger, "sink.log")}
}

func (s *LogSink) WriteRow(_ context.Context, row types.Row, timestampMillis int64) error {
	ride, err := table.FromRecord(row, timestampMillis)
	if err != nil {
		return writeError("log", err)
	}
	s.rows.Add(1)
	s.logger.Debugw("row",
		table.ColRideID, ride.RideID,
		table.ColTaxiID, ride.TaxiID,
		table.ColDriverID, ride.DriverID,
		table.ColIsStart, ride.IsStart,
		table.ColStartLon, ride.StartLon,
		table.ColStartLat, ride.StartLat,
		table.ColEndLon, ride.EndLon,
		table.ColEndLat, ride.EndLat,
		table.ColPassengerCnt, ride.PassengerCnt,
		table.ColEventTime, time.UnixMilli(timestampMillis).UTC(),
	)
	return nil
}

func (s *LogSink) WriteWatermark(_ context.Context, watermarkMillis int64) error {
	if watermarkMillis == types.MaxWatermark {
		s.logger.Infow("watermark", "watermark", "max", "rows", s.rows.Load())
		return nil
	}
	s.logger.Infow("watermark",
		"watermark", time.UnixMilli(watermarkMillis).UTC(),
		"rows", s.rows.Load(),
	)
	return nil
}

func (s *LogSink) Finish(context.Context) error {
	s.logger.Infow("end of stream", "rows", s.rows.Load())
	return nil
}

// Rows returns the number of rows written so far.
func (s *LogSink) Rows() int64 { return s.rows.Load() }

func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

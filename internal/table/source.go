package table

import (
	"context"

	"github.com/arkilian/taxistream/internal/replay"
	"github.com/arkilian/taxistream/pkg/types"
)

// StreamTableSource is a source that a query engine can register as a table.
type StreamTableSource interface {
	// ReturnType is the schema of the emitted rows.
	ReturnType() types.Schema
	// TableSchema is the schema of the table, including derived columns.
	TableSchema() types.Schema
	ExplainSource() string
	Run(ctx context.Context, sink RowSink) error
}

// DefinedRowtimeAttributes is implemented by sources that declare event-time attributes.
type DefinedRowtimeAttributes interface {
	RowtimeAttributeDescriptors() []RowtimeAttributeDescriptor
}

// TimestampExtractor tells the engine where a rowtime attribute's value comes from.
type TimestampExtractor string

// WatermarkStrategy tells the engine how watermarks for a rowtime attribute are produced.
type WatermarkStrategy string

const (
	// StreamRecordTimestamp takes the timestamp attached to each record.
	StreamRecordTimestamp TimestampExtractor = "StreamRecordTimestamp"

	// PreserveWatermarks forwards the watermarks emitted by the source unchanged.
	PreserveWatermarks WatermarkStrategy = "PreserveWatermarks"
)

// RowtimeAttributeDescriptor describes one event-time attribute.
type RowtimeAttributeDescriptor struct {
	Attribute          string             `json:"attribute"`
	TimestampExtractor TimestampExtractor `json:"timestamp_extractor"`
	WatermarkStrategy  WatermarkStrategy  `json:"watermark_strategy"`
}

// TaxiRideTableSource adapts a replay.Source to StreamTableSource.
type TaxiRideTableSource struct {
	source *replay.Source
}

var (
	_ StreamTableSource        = (*TaxiRideTableSource)(nil)
	_ DefinedRowtimeAttributes = (*TaxiRideTableSource)(nil)
)

// NewTaxiRideTableSource replays path in order at real-time speed.
func NewTaxiRideTableSource(path string) (*TaxiRideTableSource, error) {
	return NewTaxiRideTableSourceWithDelay(path, 0, 1)
}

// NewTaxiRideTableSourceWithSpeed replays path in order, speed times faster than real time.
func NewTaxiRideTableSourceWithSpeed(path string, speed float64) (*TaxiRideTableSource, error) {
	return NewTaxiRideTableSourceWithDelay(path, 0, speed)
}

// NewTaxiRideTableSourceWithDelay replays path with events delayed by at most
// maxEventDelaySecs, speed times faster than real time.
func NewTaxiRideTableSourceWithDelay(path string, maxEventDelaySecs int, speed float64) (*TaxiRideTableSource, error) {
	cfg := replay.DefaultConfig(path)
	cfg.MaxEventDelaySecs = maxEventDelaySecs
	cfg.ServingSpeedFactor = speed
	return New(cfg)
}

// New builds a table source from a full replay configuration.
func New(cfg replay.Config, opts ...replay.Option) (*TaxiRideTableSource, error) {
	src, err := replay.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &TaxiRideTableSource{source: src}, nil
}

func (s *TaxiRideTableSource) ReturnType() types.Schema { return ReturnType() }

func (s *TaxiRideTableSource) TableSchema() types.Schema { return TableSchema() }

func (s *TaxiRideTableSource) ExplainSource() string { return TableName }

func (s *TaxiRideTableSource) RowtimeAttributeDescriptors() []RowtimeAttributeDescriptor {
	return []RowtimeAttributeDescriptor{{
		Attribute:          ColEventTime,
		TimestampExtractor: StreamRecordTimestamp,
		WatermarkStrategy:  PreserveWatermarks,
	}}
}

// Replay returns the underlying replay source.
func (s *TaxiRideTableSource) Replay() *replay.Source { return s.source }

// Run replays the file into sink until it is exhausted or ctx ends.
func (s *TaxiRideTableSource) Run(ctx context.Context, sink RowSink) error {
	return s.source.Run(ctx, rowConsumer{sink: sink})
}

// rowConsumer turns replay callbacks into sink writes.
type rowConsumer struct {
	sink RowSink
}

func (c rowConsumer) OnEvent(ctx context.Context, ride types.RideEvent, eventTimeMillis int64) error {
	return c.sink.WriteRow(ctx, ToRow(ride), eventTimeMillis)
}

func (c rowConsumer) OnWatermark(ctx context.Context, watermarkMillis int64) error {
	return c.sink.WriteWatermark(ctx, watermarkMillis)
}

func (c rowConsumer) OnEndOfStream(ctx context.Context) error {
	return c.sink.Finish(ctx)
}

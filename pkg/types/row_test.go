package types

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestValue_Accessors(t *testing.T) {
	if got := Int64Value(-42).Int64(); got != -42 {
		t.Errorf("Int64 = %d, want -42", got)
	}
	if !BoolValue(true).Bool() || BoolValue(false).Bool() {
		t.Error("Bool accessor mismatch")
	}
	if got := Int16Value(-7).Int16(); got != -7 {
		t.Errorf("Int16 = %d, want -7", got)
	}
	if got := Float32Value(-73.99).Float32(); got != -73.99 {
		t.Errorf("Float32 = %v, want -73.99", got)
	}
	if got := TimestampValue(1356998400000).Interface(); !got.(time.Time).Equal(time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp Interface = %v", got)
	}
}

func TestValue_String(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Int64Value(123), "123"},
		{BoolValue(true), "true"},
		{Float32Value(40.7128), "40.7128"},
		{Int16Value(3), "3"},
		{TimestampValue(60000), "60000"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%s String() = %q, want %q", tt.v.Kind(), got, tt.want)
		}
	}
}

func TestValue_Float32NaNKeepsBits(t *testing.T) {
	nan := math.Float32frombits(0x7fc00001)
	v := Float32Value(nan)
	if math.Float32bits(v.Float32()) != 0x7fc00001 {
		t.Errorf("NaN payload lost: %x", math.Float32bits(v.Float32()))
	}
}

func TestProperty_Float32BitExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("float32 cells keep their exact bit pattern", prop.ForAll(
		func(bits uint32) bool {
			f := math.Float32frombits(bits)
			return math.Float32bits(Float32Value(f).Float32()) == bits
		},
		gen.UInt32(),
	))

	properties.Property("int16 cells keep sign", prop.ForAll(
		func(v int16) bool {
			return Int16Value(v).Int16() == v
		},
		gen.Int16(),
	))

	properties.TestingRun(t)
}

func TestSchema_Conforms(t *testing.T) {
	schema := Schema{Columns: []ColumnDef{
		{Name: "id", Type: TypeBigInt},
		{Name: "flag", Type: TypeBoolean},
	}}

	if err := schema.Conforms(Row{Int64Value(1), BoolValue(true)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := schema.Conforms(Row{Int64Value(1)}); !errors.Is(err, ErrArityMismatch) {
		t.Errorf("expected ErrArityMismatch, got %v", err)
	}
	if err := schema.Conforms(Row{Int64Value(1), Int64Value(2)}); !errors.Is(err, ErrColumnTypeMismatch) {
		t.Errorf("expected ErrColumnTypeMismatch, got %v", err)
	}
}

func TestRow_Get(t *testing.T) {
	schema := Schema{Columns: []ColumnDef{{Name: "a", Type: TypeBigInt}, {Name: "b", Type: TypeSmallInt}}}
	row := Row{Int64Value(9), Int16Value(2)}

	v, err := row.Get(schema, "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int16() != 2 {
		t.Errorf("got %d, want 2", v.Int16())
	}
	if _, err := row.Get(schema, "missing"); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestSchema_CloneIsIndependent(t *testing.T) {
	s := Schema{Version: 1, Columns: []ColumnDef{{Name: "a", Type: TypeBigInt}}}
	cp := s.Clone()
	cp.Columns[0].Name = "changed"
	if s.Columns[0].Name != "a" {
		t.Error("Clone shares column storage with the original")
	}
}

func TestRideEvent_EventTime(t *testing.T) {
	start := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	ride := RideEvent{RideID: 1, IsStart: true, StartTime: start, EndTime: end}

	if !ride.EventTime().Equal(start) {
		t.Errorf("start event time = %v, want %v", ride.EventTime(), start)
	}
	ride.IsStart = false
	if ride.EventTimeMillis() != end.UnixMilli() {
		t.Errorf("end event millis = %d, want %d", ride.EventTimeMillis(), end.UnixMilli())
	}
}

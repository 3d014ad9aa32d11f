package types

import (
	"math"
	"strconv"
	"time"
)

// Value is a single typed cell of a row. The payload is kept as raw bits so
// float values survive a round trip with their exact bit pattern.
type Value struct {
	kind ColumnType
	bits uint64
}

// Int64Value returns a BIGINT cell.
func Int64Value(v int64) Value { return Value{kind: TypeBigInt, bits: uint64(v)} }

// BoolValue returns a BOOLEAN cell.
func BoolValue(v bool) Value {
	if v {
		return Value{kind: TypeBoolean, bits: 1}
	}
	return Value{kind: TypeBoolean}
}

// Float32Value returns a FLOAT cell.
func Float32Value(v float32) Value {
	return Value{kind: TypeFloat, bits: uint64(math.Float32bits(v))}
}

// Int16Value returns a SMALLINT cell.
func Int16Value(v int16) Value { return Value{kind: TypeSmallInt, bits: uint64(int64(v))} }

// TimestampValue returns a TIMESTAMP cell holding Unix milliseconds.
func TimestampValue(millis int64) Value { return Value{kind: TypeTimestamp, bits: uint64(millis)} }

// Kind returns the cell type.
func (v Value) Kind() ColumnType { return v.kind }

// Int64 returns the BIGINT payload.
func (v Value) Int64() int64 { return int64(v.bits) }

// Bool returns the BOOLEAN payload.
func (v Value) Bool() bool { return v.bits != 0 }

// Float32 returns the FLOAT payload.
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.bits)) }

// Int16 returns the SMALLINT payload.
func (v Value) Int16() int16 { return int16(int64(v.bits)) }

// Timestamp returns the TIMESTAMP payload as Unix milliseconds.
func (v Value) Timestamp() int64 { return int64(v.bits) }

// Bits returns the raw payload.
func (v Value) Bits() uint64 { return v.bits }

// Interface returns the payload as its natural Go type. Timestamps are
// returned as UTC time.Time values.
func (v Value) Interface() interface{} {
	switch v.kind {
	case TypeBigInt:
		return v.Int64()
	case TypeBoolean:
		return v.Bool()
	case TypeFloat:
		return v.Float32()
	case TypeSmallInt:
		return v.Int16()
	case TypeTimestamp:
		return time.UnixMilli(v.Timestamp()).UTC()
	default:
		return nil
	}
}

// String formats the payload for text transports.
func (v Value) String() string {
	switch v.kind {
	case TypeBigInt:
		return strconv.FormatInt(v.Int64(), 10)
	case TypeBoolean:
		return strconv.FormatBool(v.Bool())
	case TypeFloat:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case TypeSmallInt:
		return strconv.FormatInt(int64(v.Int16()), 10)
	case TypeTimestamp:
		return strconv.FormatInt(v.Timestamp(), 10)
	default:
		return ""
	}
}

// Row is a fixed-arity tuple of typed cells, ordered like its schema.
type Row []Value

// Get returns the cell for the named column of schema.
func (r Row) Get(schema Schema, name string) (Value, error) {
	i := schema.IndexOf(name)
	if i < 0 {
		return Value{}, ErrUnknownColumn
	}
	if i >= len(r) {
		return Value{}, ErrArityMismatch
	}
	return r[i], nil
}

// Record is a row together with the event-time timestamp attached by the
// streaming runtime.
type Record struct {
	Row       Row
	EventTime int64
}

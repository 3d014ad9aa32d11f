package partition

import (
	"math"

	"github.com/arkilian/taxistream/pkg/types"
)

// MinMax holds min/max values for a column.
type MinMax struct {
	Min interface{} `json:"min"`
	Max interface{} `json:"max"`
}

// StatsTracker tracks min/max statistics of the numeric columns of a schema
// during partition build. Booleans and NaN floats are not tracked.
type StatsTracker struct {
	schema   types.Schema
	rowCount int64
	min      []types.Value
	max      []types.Value
	set      []bool
}

// NewStatsTracker creates a tracker for rows of schema.
func NewStatsTracker(schema types.Schema) *StatsTracker {
	n := schema.Arity()
	return &StatsTracker{
		schema: schema,
		min:    make([]types.Value, n),
		max:    make([]types.Value, n),
		set:    make([]bool, n),
	}
}

// Update folds a conforming row into the statistics.
func (s *StatsTracker) Update(row types.Row) {
	s.rowCount++
	for i, v := range row {
		if i >= len(s.min) {
			break
		}
		switch v.Kind() {
		case types.TypeBoolean:
			continue
		case types.TypeFloat:
			if math.IsNaN(float64(v.Float32())) {
				continue
			}
		}
		if !s.set[i] {
			s.min[i], s.max[i], s.set[i] = v, v, true
			continue
		}
		if less(v, s.min[i]) {
			s.min[i] = v
		}
		if less(s.max[i], v) {
			s.max[i] = v
		}
	}
}

func less(a, b types.Value) bool {
	switch a.Kind() {
	case types.TypeFloat:
		return a.Float32() < b.Float32()
	case types.TypeSmallInt:
		return a.Int16() < b.Int16()
	case types.TypeBigInt, types.TypeTimestamp:
		return a.Int64() < b.Int64()
	default:
		return false
	}
}

// MinMaxStats returns the min/max of every tracked column, keyed by name.
func (s *StatsTracker) MinMaxStats() map[string]MinMax {
	stats := make(map[string]MinMax)
	for i, c := range s.schema.Columns {
		if !s.set[i] {
			continue
		}
		stats[c.Name] = MinMax{Min: s.min[i].Interface(), Max: s.max[i].Interface()}
	}
	return stats
}

// Int64Range returns the min and max of a BIGINT or TIMESTAMP column as Unix
// milliseconds or raw integers. ok is false when nothing was tracked.
func (s *StatsTracker) Int64Range(column string) (lo, hi int64, ok bool) {
	i := s.schema.IndexOf(column)
	if i < 0 || !s.set[i] {
		return 0, 0, false
	}
	switch s.schema.Columns[i].Type {
	case types.TypeBigInt, types.TypeTimestamp:
		return s.min[i].Int64(), s.max[i].Int64(), true
	default:
		return 0, 0, false
	}
}

// RowCount returns the number of rows tracked.
func (s *StatsTracker) RowCount() int64 {
	return s.rowCount
}

package types

import "fmt"

// ColumnType is the logical type of a table column.
type ColumnType string

const (
	TypeBigInt    ColumnType = "BIGINT"
	TypeBoolean   ColumnType = "BOOLEAN"
	TypeFloat     ColumnType = "FLOAT"
	TypeSmallInt  ColumnType = "SMALLINT"
	TypeTimestamp ColumnType = "TIMESTAMP"
)

// SQLiteType returns the SQLite storage class used to persist the column.
// Timestamps are stored as Unix milliseconds.
func (t ColumnType) SQLiteType() string {
	switch t {
	case TypeFloat:
		return "REAL"
	default:
		return "INTEGER"
	}
}

// PostgresType returns the Postgres column type used to persist the column.
func (t ColumnType) PostgresType() string {
	switch t {
	case TypeBigInt:
		return "BIGINT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeFloat:
		return "REAL"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// Schema defines the ordered, typed columns of a table.
type Schema struct {
	// Version tracks schema evolution for backward compatibility
	Version int `json:"version"`

	// Columns defines the columns in the schema
	Columns []ColumnDef `json:"columns"`

	// Indexes defines the indexes to create when the table is materialized
	Indexes []IndexDef `json:"indexes,omitempty"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the logical column type
	Type ColumnType `json:"type"`

	// Rowtime marks the column as the event-time attribute of the table
	Rowtime bool `json:"rowtime,omitempty"`
}

// IndexDef defines an index on a materialized table.
type IndexDef struct {
	// Name is the index name
	Name string `json:"name"`

	// Columns lists the columns included in the index
	Columns []string `json:"columns"`
}

// IndexOf returns the position of the named column, or -1.
func (s Schema) IndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Arity returns the number of columns.
func (s Schema) Arity() int {
	return len(s.Columns)
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	cp := Schema{Version: s.Version}
	cp.Columns = append([]ColumnDef(nil), s.Columns...)
	for _, idx := range s.Indexes {
		cp.Indexes = append(cp.Indexes, IndexDef{Name: idx.Name, Columns: append([]string(nil), idx.Columns...)})
	}
	return cp
}

// Conforms checks that the row has the schema's arity and that every cell
// carries the declared column type.
func (s Schema) Conforms(row Row) error {
	if len(row) != len(s.Columns) {
		return fmt.Errorf("%w: row has %d cells, schema has %d columns", ErrArityMismatch, len(row), len(s.Columns))
	}
	for i, c := range s.Columns {
		if row[i].Kind() != c.Type {
			return fmt.Errorf("%w: column %q is %s, cell is %s", ErrColumnTypeMismatch, c.Name, c.Type, row[i].Kind())
		}
	}
	return nil
}

package partition

import (
	"fmt"
	"strings"

	"github.com/arkilian/taxistream/pkg/types"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	RowIndex int
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d, field %q: %s", e.RowIndex, e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// SchemaValidator validates materialized rows against a table schema.
type SchemaValidator struct {
	schema  types.Schema
	rowtime int
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(schema types.Schema) *SchemaValidator {
	return &SchemaValidator{schema: schema, rowtime: rowtimeIndex(schema)}
}

// ValidateRow validates a single row against the schema.
func (v *SchemaValidator) ValidateRow(row types.Row, rowIndex int) []*ValidationError {
	if len(row) != v.schema.Arity() {
		return []*ValidationError{{
			RowIndex: rowIndex,
			Field:    "*",
			Message:  fmt.Sprintf("expected %d cells, got %d", v.schema.Arity(), len(row)),
		}}
	}

	var errs []*ValidationError
	for i, c := range v.schema.Columns {
		if row[i].Kind() != c.Type {
			errs = append(errs, &ValidationError{
				RowIndex: rowIndex,
				Field:    c.Name,
				Message:  fmt.Sprintf("expected %s, got %s", c.Type, row[i].Kind()),
			})
		}
	}
	if v.rowtime >= 0 && row[v.rowtime].Kind() == types.TypeTimestamp && row[v.rowtime].Timestamp() <= 0 {
		errs = append(errs, &ValidationError{
			RowIndex: rowIndex,
			Field:    v.schema.Columns[v.rowtime].Name,
			Message:  "event time must be a positive Unix timestamp",
		})
	}
	return errs
}

// ValidateRows validates multiple rows against the schema.
func (v *SchemaValidator) ValidateRows(rows []types.Row) ValidationErrors {
	var all ValidationErrors
	for i, row := range rows {
		all = append(all, v.ValidateRow(row, i)...)
	}
	return all
}

// Validate validates rows and returns an error if any validation fails.
func (v *SchemaValidator) Validate(rows []types.Row) error {
	if errs := v.ValidateRows(rows); len(errs) > 0 {
		return errs
	}
	return nil
}

var validColumnTypes = map[types.ColumnType]bool{
	types.TypeBigInt:    true,
	types.TypeBoolean:   true,
	types.TypeFloat:     true,
	types.TypeSmallInt:  true,
	types.TypeTimestamp: true,
}

// ValidateSchema validates the schema definition itself.
func ValidateSchema(schema types.Schema) error {
	if schema.Version < 1 {
		return fmt.Errorf("schema version must be >= 1, got %d", schema.Version)
	}
	if len(schema.Columns) == 0 {
		return fmt.Errorf("schema must have at least one column")
	}

	names := make(map[string]bool)
	rowtimes := 0
	for _, col := range schema.Columns {
		if col.Name == "" {
			return fmt.Errorf("column name cannot be empty")
		}
		if names[col.Name] {
			return fmt.Errorf("duplicate column name: %s", col.Name)
		}
		names[col.Name] = true

		if !validColumnTypes[col.Type] {
			return fmt.Errorf("invalid column type %q for column %q", col.Type, col.Name)
		}
		if col.Rowtime {
			if col.Type != types.TypeTimestamp {
				return fmt.Errorf("rowtime column %q must be %s", col.Name, types.TypeTimestamp)
			}
			rowtimes++
		}
	}
	if rowtimes > 1 {
		return fmt.Errorf("schema declares %d rowtime columns, at most one allowed", rowtimes)
	}

	for _, idx := range schema.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("index name cannot be empty")
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("index %q must have at least one column", idx.Name)
		}
		for _, name := range idx.Columns {
			if !names[name] {
				return fmt.Errorf("index %q references unknown column %q", idx.Name, name)
			}
		}
	}
	return nil
}

func rowtimeIndex(schema types.Schema) int {
	for i, c := range schema.Columns {
		if c.Rowtime {
			return i
		}
	}
	return -1
}

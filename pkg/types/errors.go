package types

import "errors"

// Row-related errors
var (
	// ErrArityMismatch is returned when a row does not have one cell per schema column
	ErrArityMismatch = errors.New("row arity mismatch")

	// ErrColumnTypeMismatch is returned when a cell's type differs from its column's declared type
	ErrColumnTypeMismatch = errors.New("column type mismatch")

	// ErrUnknownColumn is returned when a column name is not part of the schema
	ErrUnknownColumn = errors.New("unknown column")
)

// Package errors defines the error kinds surfaced by the matching engine.
//
// Both kinds are fatal for a run. An unmatched case is never an error.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation error")

	// ErrCompute matches every *ComputeError via errors.Is.
	ErrCompute = errors.New("compute error")
)

// ValidationError reports a missing or mistyped column, or a row index outside a table.
type ValidationError struct {
	// Table is the logical table name, e.g. "cases" or "controls".
	Table  string
	Column string
	// Index and RowCount are set for out-of-bounds row selections; Index is -1 otherwise.
	Index    int
	RowCount int64
	Reason   string
}

func (e *ValidationError) Error() string {
	var where string
	switch {
	case e.Table != "" && e.Column != "":
		where = fmt.Sprintf("%s: column %q", e.Table, e.Column)
	case e.Table != "":
		where = e.Table
	case e.Column != "":
		where = fmt.Sprintf("column %q", e.Column)
	}

	msg := e.Reason
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s: row index %d out of bounds for %d rows", msg, e.Index, e.RowCount)
	}
	if where == "" {
		return msg
	}
	return where + ": " + msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// MissingColumn returns a ValidationError for a column absent from table.
func MissingColumn(table, column string) *ValidationError {
	return &ValidationError{Table: table, Column: column, Index: -1, Reason: "missing required column"}
}

// MistypedColumn returns a ValidationError for a column whose type cannot be used.
func MistypedColumn(table, column, got, want string) *ValidationError {
	return &ValidationError{
		Table:  table,
		Column: column,
		Index:  -1,
		Reason: fmt.Sprintf("unsupported type %s, want %s", got, want),
	}
}

// IndexOutOfBounds returns a ValidationError for a row selection past the end of a table.
func IndexOutOfBounds(table string, index int, rowCount int64) *ValidationError {
	return &ValidationError{Table: table, Index: index, RowCount: rowCount, Reason: "invalid selection"}
}

// Invalid returns a ValidationError carrying a free-form reason.
func Invalid(table, reason string) *ValidationError {
	return &ValidationError{Table: table, Index: -1, Reason: reason}
}

// ComputeError wraps a failure of an underlying columnar kernel (filter, take).
type ComputeError struct {
	Op     string
	Column string
	Err    error
}

func (e *ComputeError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s column %q: %v", e.Op, e.Column, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

func (e *ComputeError) Is(target error) bool {
	return target == ErrCompute
}

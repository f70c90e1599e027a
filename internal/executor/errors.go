package executor

import "fmt"

// TypeMismatchError means a column exists but holds the wrong kind of data.
type TypeMismatchError struct {
	Column string
	Want   string
	Got    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("column %q must be %s, but it is %s", e.Column, e.Want, e.Got)
}

// MissingColumnError means an operation could not find a column it needs.
// Role describes what the column was for, e.g. "date column".
type MissingColumnError struct {
	Role   string
	Column string
}

func (e *MissingColumnError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("no suitable %s found", e.Role)
	}
	return fmt.Sprintf("%s %q not found", e.Role, e.Column)
}

// ExecutionFailureError wraps an unexpected failure inside an operation.
type ExecutionFailureError struct {
	Op  string
	Err error
}

func (e *ExecutionFailureError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExecutionFailureError) Unwrap() error { return e.Err }

package services

import (
	"errors"
	"fmt"
)

// IntegrityError reports a foreign key whose target is missing, or a
// reference that would attribute a row to the wrong case file.
type IntegrityError struct {
	Table  string // table being written
	Column string // referencing column
	Key    int64  // referenced key
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("integrity error on %s.%s=%d: %s", e.Table, e.Column, e.Key, e.Reason)
	}
	return fmt.Sprintf("integrity error on %s.%s=%d: referenced row not found", e.Table, e.Column, e.Key)
}

// ConstraintError reports a required field that is missing or a field
// value that breaks a row invariant.
type ConstraintError struct {
	Table  string
	Field  string
	Reason string
}

func (e *ConstraintError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "required field missing"
	}
	return fmt.Sprintf("constraint error on %s.%s: %s", e.Table, e.Field, reason)
}

// DateParseError reports date or time text that is unparseable or
// ambiguous. Line is the source line, 0 when unknown.
type DateParseError struct {
	Field     string
	Value     string
	Line      int
	Ambiguous bool
}

func (e *DateParseError) Error() string {
	what := "unparseable"
	if e.Ambiguous {
		what = "ambiguous"
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s %s value %q", e.Line, what, e.Field, e.Value)
	}
	return fmt.Sprintf("%s %s value %q", what, e.Field, e.Value)
}

// RowError ties a failure to the source line it came from
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	var dateErr *DateParseError
	if errors.As(e.Err, &dateErr) && dateErr.Line == e.Line {
		return e.Err.Error()
	}
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err is or wraps an IntegrityError
func IsIntegrityError(err error) bool {
	var target *IntegrityError
	return errors.As(err, &target)
}

// IsConstraintError reports whether err is or wraps a ConstraintError
func IsConstraintError(err error) bool {
	var target *ConstraintError
	return errors.As(err, &target)
}

// IsDateParseError reports whether err is or wraps a DateParseError
func IsDateParseError(err error) bool {
	var target *DateParseError
	return errors.As(err, &target)
}

// IsBatchFatal reports whether err must abort and roll back an import
func IsBatchFatal(err error) bool {
	return IsIntegrityError(err) || IsConstraintError(err) || IsDateParseError(err)
}

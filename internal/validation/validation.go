// Package validation checks scope setups and endpoint settings before a
// provider is touched.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
)

// Error represents a validation failure with context.
type Error struct {
	// Field is the name of the field or component that failed validation
	Field string
	// Message describes the validation failure
	Message string
	// Err is the underlying error (if any)
	Err error
}

// Error returns a formatted validation error message.
func (ve *Error) Error() string {
	if ve.Err != nil {
		return fmt.Sprintf("validation failed for %q: %s: %v", ve.Field, ve.Message, ve.Err)
	}
	return fmt.Sprintf("validation failed for %q: %s", ve.Field, ve.Message)
}

// Unwrap returns the underlying error for errors.Is/As.
func (ve *Error) Unwrap() error {
	return ve.Err
}

// Errors collects multiple validation errors.
type Errors []error

// Error returns a formatted error message for all validation failures.
func (ve Errors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors:\n- %s", len(ve), errors.Join(ve...))
}

// Result contains the outcome of a validation check.
type Result struct {
	// Valid indicates whether all validations passed
	Valid bool
	// Warnings contains non-fatal validation issues
	Warnings []string
	// Errors contains validation failures that prevent the operation
	Errors []error
}

// NewResult returns a passing result.
func NewResult() *Result {
	return &Result{Valid: true}
}

// AddError adds an error to the validation result. A nil err is ignored.
func (r *Result) AddError(err error) {
	if err == nil {
		return
	}
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// AddWarning adds a warning to the validation result.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Merge appends the findings of other.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	for _, err := range other.Errors {
		r.AddError(err)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasErrors returns true if there are any validation errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns the combined validation error message.
func (r *Result) Error() error {
	if !r.HasErrors() {
		return nil
	}
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	return Errors(r.Errors)
}

// Summary returns a human-readable summary of the validation result.
func (r *Result) Summary() string {
	if r.Valid && len(r.Warnings) == 0 {
		return "All validations passed"
	}
	var msg string
	if r.Valid {
		msg = "Validation passed with warnings"
	} else {
		msg = "Validation failed"
	}
	if len(r.Warnings) > 0 {
		msg += fmt.Sprintf(" (%d warning(s))", len(r.Warnings))
	}
	return msg
}

// ValidateSetup checks that a setup names at least one table, that table
// names are unique, that directions are known and that every filter points
// at a setup table and names a column and a parameter.
func ValidateSetup(s *schema.Setup) *Result {
	result := NewResult()
	if !s.HasTables() {
		result.AddError(&Error{Field: "scope.tables", Message: "at least one table is required"})
		return result
	}

	seen := make(map[string]bool)
	for i, t := range s.Tables {
		field := fmt.Sprintf("scope.tables[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			result.AddError(&Error{Field: field + ".name", Message: "table name cannot be empty"})
			continue
		}
		key := strings.ToLower(t.FullName())
		if seen[key] {
			result.AddError(&Error{Field: field + ".name", Message: fmt.Sprintf("table %s is listed twice", t.FullName())})
		}
		seen[key] = true

		if t.Direction != "" && !t.Direction.IsValid() {
			result.AddError(&Error{Field: field + ".direction", Message: fmt.Sprintf("unknown direction %q", t.Direction)})
		}
		cols := make(map[string]bool)
		for _, c := range t.Columns {
			if cols[strings.ToLower(c)] {
				result.AddError(&Error{Field: field + ".columns", Message: fmt.Sprintf("column %q is listed twice", c)})
			}
			cols[strings.ToLower(c)] = true
		}
	}

	for i, f := range s.Filters {
		field := fmt.Sprintf("scope.filters[%d]", i)
		if _, ok := s.Table(f.Table, f.SchemaName); !ok {
			result.AddError(&Error{Field: field + ".table", Message: fmt.Sprintf("table %s is not part of the scope", schema.QualifiedName(f.Table, f.SchemaName))})
		}
		if f.Column == "" {
			result.AddError(&Error{Field: field + ".column", Message: "filter column cannot be empty"})
		}
		if f.Parameter == "" {
			result.AddError(&Error{Field: field + ".parameter", Message: "filter parameter cannot be empty"})
		}
	}
	if len(s.Filters) > 0 {
		result.AddWarning("Filtered tables need their parameters on every sync")
	}
	return result
}

// ValidateProvider checks that name is a registered backend and that a
// connection string is set.
func ValidateProvider(field, name, conn string) error {
	if name == "" {
		return &Error{Field: field + ".provider", Message: "provider cannot be empty"}
	}
	if !slices.Contains(provider.Names(), name) {
		return &Error{
			Field:   field + ".provider",
			Message: fmt.Sprintf("unknown provider %q (available: %s)", name, strings.Join(provider.Names(), ", ")),
		}
	}
	if strings.TrimSpace(conn) == "" {
		return &Error{Field: field + ".connection_string", Message: "connection string cannot be empty"}
	}
	return nil
}

// ValidateURL checks that raw is an absolute http or https URL.
func ValidateURL(field, raw string) error {
	if raw == "" {
		return &Error{Field: field, Message: "URL cannot be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &Error{Field: field, Message: "invalid URL", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Error{Field: field, Message: fmt.Sprintf("unsupported scheme %q (expected http or https)", u.Scheme)}
	}
	if u.Host == "" {
		return &Error{Field: field, Message: "URL has no host"}
	}
	return nil
}

// ValidateBatchBounds checks the batch size limits. At least one bound must
// be positive, otherwise a change set is never split.
func ValidateBatchBounds(maxBytes int64, maxRows int) error {
	if maxBytes < 0 || maxRows < 0 {
		return &Error{Field: "options.batch", Message: "batch bounds cannot be negative"}
	}
	if maxBytes == 0 && maxRows == 0 {
		return &Error{Field: "options.batch", Message: "set batch_max_bytes or batch_max_rows"}
	}
	return nil
}

package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks f for constraint violations. The coordinator accepts any
// filter; Validate is for boundaries that want to reject filters which would
// match everything.
func (f *Filter) Validate() error {
	var ve ValidationError

	if f.IsEmpty() {
		ve.Errors = append(ve.Errors, FieldError{Field: "filter", Message: "must constrain at least one field"})
	}
	if f.Since != nil && f.Until != nil && *f.Since > *f.Until {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "since",
			Message: fmt.Sprintf("must not be after until (%d > %d)", *f.Since, *f.Until),
		})
	}
	if f.Limit < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "limit", Message: "must not be negative"})
	}
	for name := range f.Tags {
		if name == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: "tags", Message: "tag name is required"})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateEvent checks the structural fields an event needs before it can be
// indexed or published. It does not verify the signature.
func ValidateEvent(ev *Event) error {
	var ve ValidationError

	if strings.TrimSpace(ev.ID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "is required"})
	}
	if strings.TrimSpace(ev.Author) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "pubkey", Message: "is required"})
	}
	if ev.Kind < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "kind", Message: fmt.Sprintf("must not be negative, got %d", ev.Kind)})
	}
	if ev.CreatedAt < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "created_at", Message: "must not be negative"})
	}
	for i, tag := range ev.Tags {
		if len(tag) == 0 {
			ve.Errors = append(ve.Errors, FieldError{Field: "tags", Message: fmt.Sprintf("tag %d is empty", i)})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

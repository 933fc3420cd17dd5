// Package schema defines the narrow validation contract consumed by the
// entity pipeline, plus adapters implementing it.
package schema

import "context"

// Issue is one field-level violation reported by a schema.
type Issue struct {
	// Path is the dotted path to the offending field, "" for whole-value
	// violations.
	Path string

	// Message describes the violation.
	Message string

	// Code identifies the violation class, validator specific.
	Code string
}

// Schema validates a property set. Check returns one Issue per violation; a
// non-nil error reports a failure of the validator itself, not of the value.
// A create schema is never reused as an update schema: create schemas may
// require fields absent from a partial update.
type Schema interface {
	Check(ctx context.Context, value map[string]any) ([]Issue, error)
}

// Func adapts a plain function to the Schema interface.
type Func func(ctx context.Context, value map[string]any) ([]Issue, error)

func (f Func) Check(ctx context.Context, value map[string]any) ([]Issue, error) {
	return f(ctx, value)
}

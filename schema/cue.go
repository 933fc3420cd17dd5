package schema

import (
	"context"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueSchema validates property sets against a CUE definition using the CUE
// SDK's Go API directly (not a CLI subprocess).
type CueSchema struct {
	val cue.Value
}

// CompileCue compiles CUE source into a schema. The source's top-level value
// is the constraint items are unified with, e.g.:
//
//	s, err := schema.CompileCue(`{name: string, total?: number & >=0}`)
func CompileCue(source string) (*CueSchema, error) {
	val := cuecontext.New().CompileString(source)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("schema: compile cue: %w", err)
	}
	return &CueSchema{val: val}, nil
}

// CompileCueAt compiles CUE source and selects the constraint at path, for
// sources that declare several definitions.
func CompileCueAt(source, path string) (*CueSchema, error) {
	val := cuecontext.New().CompileString(source)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("schema: compile cue: %w", err)
	}
	at := val.LookupPath(cue.ParsePath(path))
	if err := at.Err(); err != nil {
		return nil, fmt.Errorf("schema: lookup %q: %w", path, err)
	}
	if !at.Exists() {
		return nil, fmt.Errorf("schema: no value at %q", path)
	}
	return &CueSchema{val: at}, nil
}

// Check unifies value with the schema and translates every CUE error into an
// Issue carrying the dotted field path.
func (s *CueSchema) Check(_ context.Context, value map[string]any) ([]Issue, error) {
	data := s.val.Context().Encode(value)
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("schema: encode value: %w", err)
	}

	// Concrete validation makes required fields without data a violation,
	// which is what a create schema needs.
	unified := s.val.Unify(data)
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil, nil
	}

	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issues = append(issues, Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    "cue",
		})
	}
	return issues, nil
}

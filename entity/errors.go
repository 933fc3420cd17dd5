package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jacentio/arbor/key"
)

var (
	// ErrNotFound is returned when an item doesn't exist or is deleted.
	// Backends must return it (or wrap it) from Get so upsert can branch.
	ErrNotFound = errors.New("arbor: item not found")

	// ErrAlreadyExists is returned when creating an item whose key is taken.
	ErrAlreadyExists = errors.New("arbor: item already exists")

	// ErrConcurrentModification is returned when an optimistic version
	// check fails during update.
	ErrConcurrentModification = errors.New("arbor: item was modified concurrently")
)

// ErrorKind classifies pipeline and resolution failures.
type ErrorKind string

const (
	KindInvalidKeyType   ErrorKind = "invalid key type"
	KindLocationOrder    ErrorKind = "location order"
	KindNotFound         ErrorKind = "not found"
	KindCreateValidation ErrorKind = "create validation"
	KindUpdateValidation ErrorKind = "update validation"
	KindRemoveValidation ErrorKind = "remove validation"
	KindValidation       ErrorKind = "validation"
	KindHook             ErrorKind = "hook"
	KindGet              ErrorKind = "get"
	KindUpdate           ErrorKind = "update"
	KindRemove           ErrorKind = "remove"
	KindConfig           ErrorKind = "configuration"
)

// Error is the pipeline's failure record: the kind, the operation, the
// entity coordinate, a message, optional field-level issues, and the
// original cause. Errors are constructed at the failure site and never
// mutated afterward.
type Error struct {
	Kind       ErrorKind
	Op         string
	Coordinate key.Coordinate
	Message    string
	Issues     []Issue
	Cause      error
}

// Issue is one field-level validation failure, translated from the schema
// validator's error shape.
type Issue struct {
	Path    string
	Message string
	Code    string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "arbor: %s %s", e.Op, e.Kind)
	if len(e.Coordinate) > 0 {
		fmt.Fprintf(&b, " [%s]", e.Coordinate)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	for _, iss := range e.Issues {
		fmt.Fprintf(&b, "; %s: %s", iss.Path, iss.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrNotFound) match a not-found Error even when the
// backend's sentinel was translated away.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// IsNotFound reports whether err represents a missing item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func newError(kind ErrorKind, op string, coord key.Coordinate, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Coordinate: coord, Message: msg, Cause: cause}
}

// wrapKeyError maps the key validator's typed errors into the taxonomy.
func wrapKeyError(err error, op string, coord key.Coordinate) error {
	if err == nil {
		return nil
	}
	var typeErr *key.TypeError
	if errors.As(err, &typeErr) {
		return newError(KindInvalidKeyType, op, coord, "", err)
	}
	var orderErr *key.OrderError
	if errors.As(err, &orderErr) {
		return newError(KindLocationOrder, op, coord, "", err)
	}
	return newError(KindValidation, op, coord, "", err)
}

// wrapBackendError maps the backend's ErrNotFound to the not-found kind and
// tags everything else with the given kind. The given kind must never be
// KindNotFound: upsert branches on the not-found kind, and a connectivity or
// permission failure masked as not-found would turn an outage into a create.
func wrapBackendError(err error, kind ErrorKind, op string, coord key.Coordinate) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return newError(KindNotFound, op, coord, "", err)
	}
	return newError(kind, op, coord, "", err)
}

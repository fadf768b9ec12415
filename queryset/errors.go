package queryset

import "errors"

var (
	// ErrCircularDependency is returned when a property's annotation or filter
	// resolves back to a property already being resolved
	ErrCircularDependency = errors.New("circular property dependency")

	// ErrNotSelected is returned when a values query names a property that was
	// not selected beforehand
	ErrNotSelected = errors.New("property is not selected")

	// ErrConflictingUpdate is returned when two update assignments resolve to
	// different values for the same column
	ErrConflictingUpdate = errors.New("conflicting column assignments")

	// ErrMultipleResults is returned when a single-record lookup matches more
	// than one row
	ErrMultipleResults = errors.New("multiple records match")

	// ErrUnknownProperty is returned when a named property is not bound to the
	// model
	ErrUnknownProperty = errors.New("unknown property")
)

package properties

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedOperation is returned when a property is used in a query
	// operation it declares no implementation for
	ErrUnsupportedOperation = errors.New("operation not supported by property")

	// ErrInvalidProperty is returned when a descriptor fails validation
	ErrInvalidProperty = errors.New("invalid property descriptor")

	// ErrNotCached is returned when a cached-only read finds no cached value
	ErrNotCached = errors.New("property value is not cached")

	// ErrUnknownAttribute is returned when an attribute path cannot be walked
	ErrUnknownAttribute = errors.New("unknown attribute")
)

// UnsupportedOperationError reports which capability a property is missing
type UnsupportedOperationError struct {
	Property   string
	Capability string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("property %q does not support %s", e.Property, e.Capability)
}

func (e *UnsupportedOperationError) Unwrap() error {
	return ErrUnsupportedOperation
}

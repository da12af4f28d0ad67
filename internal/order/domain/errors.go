package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrProductNotFound covers both unknown and disabled products; carts
	// with any invalid product fail whole.
	ErrProductNotFound = errors.New("one or more products do not exist")

	// ErrInvalidTransition marks a status change on a non-pending order.
	ErrInvalidTransition = errors.New("order status can be updated only when it is pending")

	// ErrAllocationMismatch means an item's bound-key count does not equal
	// its quantity at completion time.
	ErrAllocationMismatch = errors.New("order item key allocation does not match quantity")
)

// ValidationError carries per-field messages for malformed request shape.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msgs := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

package entities

import (
	"fmt"
	"strings"
)

// CyclicCompositionError is returned when inserting an edge would make a
// product (transitively) contain itself. Path runs from the proposed child
// back to the proposed parent.
type CyclicCompositionError struct {
	ParentProductID ProductID
	ChildProductID  ProductID
	Path            []ProductID
}

func (e *CyclicCompositionError) Error() string {
	return fmt.Sprintf("adding %s -> %s would create a cycle: %s",
		e.ParentProductID, e.ChildProductID, formatPath(e.Path))
}

// CyclicTraversalError signals that stored data already contains a cycle.
// It is a data-integrity fault, never a client error.
type CyclicTraversalError struct {
	RootProductID ProductID
	Path          []ProductID
}

func (e *CyclicTraversalError) Error() string {
	return fmt.Sprintf("cycle found while exploding %s: %s", e.RootProductID, formatPath(e.Path))
}

// MaxDepthExceededError is returned when an explosion goes deeper than the configured limit
type MaxDepthExceededError struct {
	RootProductID ProductID
	MaxDepth      int
	Path          []ProductID
}

func (e *MaxDepthExceededError) Error() string {
	return fmt.Sprintf("structure of %s exceeds max depth %d at %s",
		e.RootProductID, e.MaxDepth, formatPath(e.Path))
}

// VersionConflictError is returned when two writers raced to open the same
// version of a parent. The losing caller must redo the whole operation.
type VersionConflictError struct {
	ParentProductID ProductID
	Version         int
}

func (e *VersionConflictError) Error() string {
	if e.ParentProductID == "" {
		return "composition was modified concurrently"
	}
	return fmt.Sprintf("version %d of %s was modified concurrently", e.Version, e.ParentProductID)
}

// NotFoundError is returned when a referenced edge, product or version is absent
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError is returned for input that breaks an edge or generation invariant
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func formatPath(path []ProductID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}

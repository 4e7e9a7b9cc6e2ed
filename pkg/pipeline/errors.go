package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for orchestrator misuse.
var (
	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrEmptyPlan is returned when a plan declares no stages.
	ErrEmptyPlan = errors.New("plan has no stages")
)

// PlanError indicates an invalid plan declaration.
type PlanError struct {
	// StageID is the offending stage, if stage-scoped.
	StageID string
	// Detail describes the problem.
	Detail string
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("invalid plan: stage %s: %s", e.StageID, e.Detail)
	}
	return fmt.Sprintf("invalid plan: %s", e.Detail)
}

// StageError wraps a failure inside a stage body with the stage it
// occurred in. The orchestrator attributes every halt to a stage.
type StageError struct {
	// StageID is the stage that failed.
	StageID string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.StageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// PanicError wraps a panic recovered from a stage body.
type PanicError struct {
	// StageID is the stage that panicked.
	StageID string
	// Value is the recovered panic value.
	Value any
	// Stack is the goroutine stack at the point of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.StageID, e.Value)
}

// GroupConflictError indicates two members of one parallel group wrote
// the same state field. Grouped stages must own disjoint fields; this is
// a plan defect, not a transient condition.
type GroupConflictError struct {
	// Group is the parallel-group tag.
	Group string
	// StageA and StageB are the conflicting members.
	StageA, StageB string
	// Fields are the state fields both stages wrote.
	Fields []string
}

// Error implements the error interface.
func (e *GroupConflictError) Error() string {
	return fmt.Sprintf("parallel group %s: stages %s and %s both write %s",
		e.Group, e.StageA, e.StageB, strings.Join(e.Fields, ", "))
}

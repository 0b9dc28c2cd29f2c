package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is wrapped by CyclicDependencyError.
	ErrCycle = errors.New("cyclic task dependency")
	// ErrUnknownRequirement is returned when a task requires a key that no
	// task provides and that is not a task name either.
	ErrUnknownRequirement = errors.New("unknown task requirement")
	// ErrDuplicateProvider is returned when two tasks provide the same key.
	ErrDuplicateProvider = errors.New("cache key provided by more than one task")
)

// CyclicDependencyError is returned when no valid order exists.
type CyclicDependencyError struct {
	// Members are all tasks that could not be ordered, in registration order.
	Members []string
	// Cycle is one witness cycle, first element repeated at the end.
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic task dependency: %s (unordered tasks: %s)",
		strings.Join(e.Cycle, " -> "), strings.Join(e.Members, ", "))
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCycle }

package store

import (
	"context"
	"errors"
	"fmt"
)

// MaxRepairs is the repair ceiling shared between the gateway and the answer
// orchestrator: four total execution attempts (initial + 3 repairs).
const MaxRepairs = 3

var (
	ErrInvalidInput       = errors.New("query text is required")
	ErrForbiddenOperation = errors.New("query contains a forbidden SQL verb")
	ErrRetryLimitExceeded = errors.New("query retry limit exceeded")
)

// ExecutionError wraps an engine-level SQL failure (syntax error, missing
// table, type mismatch). It is the only recoverable kind: the orchestrator
// feeds it back to the model for repair. Keeping the kind closed here means
// repair logic never depends on a specific engine's error hierarchy.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute query: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Result is a full tabular query outcome: ordered named columns and their
// rows. Partial results are never returned.
type Result struct {
	Columns []string
	Rows    [][]any
}

func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// Gateway executes SQL text against the data store, enforcing the write-verb
// denylist and the retry ceiling before anything reaches the engine.
type Gateway interface {
	Execute(ctx context.Context, query string, iteration int) (Result, error)
}

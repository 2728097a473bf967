package deployments

import (
	"fmt"
	"strings"
)

// RollbackProgressError reports a stabilization wait that failed or ended in
// an error status. It is retried internally only when forced recovery
// applies to a continuation state; otherwise it reaches the caller with
// guidance.
type RollbackProgressError struct {
	StackName   string
	Message     string
	EventErrors []string
}

func (e *RollbackProgressError) Error() string {
	msg := e.Message
	if len(e.EventErrors) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.EventErrors, ", "))
	}
	return fmt.Sprintf("%s: %s (fix the failure and retry, or orphan the stuck resources with --orphan or --force)", e.StackName, msg)
}

// RollbackExhaustedError reports that the recovery loop hit its iteration
// bound without reaching a terminal state. Distinct from the per-iteration
// error so callers can tell a broken stack from a non-terminating loop.
type RollbackExhaustedError struct {
	StackName  string
	Iterations int
}

func (e *RollbackExhaustedError) Error() string {
	return fmt.Sprintf("%s: rollback did not finish after %d iterations; the stack is making no progress", e.StackName, e.Iterations)
}

// AssetOperationError reports a publisher whose failure flag was set after a
// build or publish call.
type AssetOperationError struct {
	AssetID   string
	Operation string
	Failures  []string
}

func (e *AssetOperationError) Error() string {
	msg := fmt.Sprintf("failed to %s asset %s", e.Operation, e.AssetID)
	if len(e.Failures) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Failures, ", "))
	}
	return msg
}

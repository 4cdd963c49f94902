// api/schemas/interfaces.go
package schemas

import "context"

// JobRegistry is the external source of truth for job definitions.
// Read-only from this process's point of view.
type JobRegistry interface {
	// ListEnabled returns the current set of enabled, automatable jobs.
	ListEnabled(ctx context.Context) ([]JobSpec, error)
	// Get fetches one job by identity. Implementations return an error
	// wrapping ErrNotFound when the job does not exist.
	Get(ctx context.Context, id string) (*JobSpec, error)
}

// Reasoner submits state to the remote reasoning service and drains its
// response stream. Exactly one of initial/resume is non-nil per call:
// initial on the first turn of a session, resume afterwards. A non-nil
// error wrapping ErrStream means the service reported a stream-level
// error event.
type Reasoner interface {
	Submit(ctx context.Context, sessionID string, initial *InitialState, resume *ToolResult) (*TurnResult, error)
}

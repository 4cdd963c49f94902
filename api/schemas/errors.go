// api/schemas/errors.go
package schemas

import "errors"

// Failure taxonomy for the run pipeline. Everything here is fatal for
// the current run except ErrAlreadyRunning, which is an admission
// refusal and not a failure at all. Tool execution failures are
// deliberately absent: they are encoded as outcome text and fed back to
// the reasoning service, which decides how to react.
var (
	// ErrValidation rejects a trigger before admission: wrong kind,
	// disabled, or missing target/instruction.
	ErrValidation = errors.New("job validation failed")

	// ErrNotFound means the registry has no such job.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyRunning means the run tracker holds an entry for the
	// job. Triggers that hit it skip silently; nothing is queued.
	ErrAlreadyRunning = errors.New("job already running")

	// ErrSurfaceCreation covers failures to create or register a tab.
	ErrSurfaceCreation = errors.New("surface creation failed")

	// ErrSurfaceLoadTimeout means the page never reached readiness
	// within the load wait budget.
	ErrSurfaceLoadTimeout = errors.New("surface load timed out")

	// ErrStream is a stream-level error event from the reasoning
	// service. It aborts the loop immediately.
	ErrStream = errors.New("reasoning stream error")

	// ErrIterationCap marks a run that hit the iteration cap without the
	// service ever declaring completion. Logged as a warning, distinct
	// from hard errors.
	ErrIterationCap = errors.New("iteration cap exceeded")
)

package contract

import "errors"

// Capability failures. Callers match with errors.Is; the wrapped message
// carries the capability name and the underlying cause.
var (
	// ErrModelInvoke covers provider failures after retries are spent.
	ErrModelInvoke = errors.New("capability model call failed")
	// ErrSchemaViolation means the model answered but not in the agreed shape.
	ErrSchemaViolation = errors.New("capability output does not match schema")
	ErrPromptMissing   = errors.New("capability prompt template is missing")
	ErrValidation      = errors.New("invalid capability input")
	// ErrPrecondition is a supervisor bug: a stage ran without the state it needs.
	ErrPrecondition  = errors.New("capability precondition not met")
	ErrToolExecution = errors.New("tool call failed")
)

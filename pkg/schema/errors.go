package schema

import "errors"

// Request validation errors.
var (
	ErrEmptyToolName    = errors.New("schema: tool_name must be non-empty")
	ErrEmptyAgentID     = errors.New("schema: agent_id must be non-empty")
	ErrEmptyEnvironment = errors.New("schema: environment must be non-empty")
)

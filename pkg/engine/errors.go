package engine

import (
	"errors"
	"fmt"

	"github.com/agentguard/agentguard/pkg/schema"
)

var (
	// ErrNotInitialized is returned by Check when an async policy source
	// was configured but Init has not yet completed successfully.
	ErrNotInitialized = errors.New("engine: not initialized")
	// ErrAlreadyInitialized guards against a second Init call.
	ErrAlreadyInitialized = errors.New("engine: already initialized")
	// ErrNoPolicySource is returned by New when zero or more than one of
	// the PolicySource fields is set.
	ErrNoPolicySource = errors.New("engine: exactly one policy source must be configured")
	// ErrDuplicatePluginName is returned by New when two configured
	// plugins share a name.
	ErrDuplicatePluginName = errors.New("engine: plugin names must be unique within an engine")
)

// SecurityBlockedError is returned by Protect when the wrapped call is
// blocked by the decision engine. It carries the decision so callers can
// inspect the reason without re-parsing an error string.
type SecurityBlockedError struct {
	Decision schema.Decision
}

func (e *SecurityBlockedError) Error() string {
	return fmt.Sprintf("agentguard: security blocked (%s)", e.Decision.Outcome)
}

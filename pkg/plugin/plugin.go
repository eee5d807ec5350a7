// Package plugin defines the pipeline plugin contract: a minimal addressable
// capability plus a set of optional capability interfaces the engine probes
// for via type assertion, never reflection.
package plugin

import (
	"context"

	"github.com/agentguard/agentguard/pkg/schema"
)

// Plugin is the contract every pipeline participant implements. Name must
// be unique within a single engine. FailOpen governs the plugin's own
// error handling in beforeCheck/afterDecision: true swallows errors and
// continues the pipeline, false (the default for security-critical
// plugins) synthesizes a DENY decision attributed to the plugin.
type Plugin interface {
	Name() string
	FailOpen() bool
}

// BeforeCheckResult is the outcome of a beforeCheck hook. At most one of
// Decision or ModifiedRequest is set; both nil means "proceed unchanged".
type BeforeCheckResult struct {
	Decision        *schema.Decision
	ModifiedRequest *schema.AgentActionRequest
}

// BeforeChecker is the optional Phase 1 hook.
type BeforeChecker interface {
	Plugin
	BeforeCheck(ctx context.Context, req *schema.AgentActionRequest) (*BeforeCheckResult, error)
}

// AfterDecisionResult is the outcome of an afterDecision hook. A nil
// Decision leaves the current decision untouched.
type AfterDecisionResult struct {
	Decision *schema.Decision
}

// AfterDecider is the optional Phase 3 hook.
type AfterDecider interface {
	Plugin
	AfterDecision(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) (*AfterDecisionResult, error)
}

// AfterExecutor is the optional Phase 5 hook, invoked only through
// Engine.Protect. It is side-effect only: its return value is never used
// to change the decision already acted on. Result is the value the
// wrapped call returned, even when it also returned an error (for a
// failed call this is typically its type's zero value, not nil);
// execErr is the wrapped call's error, if any.
type AfterExecutor interface {
	Plugin
	AfterExecution(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision, result any, execErr error) error
}

// Initializer runs once, in plugin declaration order, before the engine
// accepts its first check call.
type Initializer interface {
	Plugin
	Initialize(ctx context.Context) error
}

// Destroyer runs at engine shutdown, in plugin declaration order.
type Destroyer interface {
	Plugin
	Destroy(ctx context.Context) error
}

package engine

import (
	"context"
	"time"

	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

// PolicySource names exactly one way to obtain the initial (and, for
// AsyncLoader, every reloaded) policy bundle.
type PolicySource struct {
	FilePath string
	JSON     []byte
	Bundle   *schema.PolicyBundle
	// AsyncLoader fetches raw policy JSON from a host-defined source (a
	// database row, a remote config service, ...). It is re-validated
	// through the same pipeline as every other source on every call.
	AsyncLoader func(ctx context.Context) ([]byte, error)
}

func (s PolicySource) count() int {
	n := 0
	if s.FilePath != "" {
		n++
	}
	if s.JSON != nil {
		n++
	}
	if s.Bundle != nil {
		n++
	}
	if s.AsyncLoader != nil {
		n++
	}
	return n
}

// Callbacks are the host hooks the engine fires during resolution and
// auditing. All are optional; a nil callback for a required resolution
// outcome falls through to OnDeny.
type Callbacks struct {
	OnApprovalRequired func(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) (bool, error)
	OnStepUpRequired   func(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) (bool, error)
	OnTicketRequired   func(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) (string, error)
	OnHumanRequired    func(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) (bool, error)
	OnAllow            func(req *schema.AgentActionRequest, decision *schema.Decision)
	OnDeny             func(req *schema.AgentActionRequest, decision *schema.Decision)
	OnAuditEvent       func(event schema.Event)
	OnError            func(err error, source string)
}

// Telemetry is the optional observer an engine reports decision outcomes,
// evaluator latency, and audit evictions to. internal/telemetry provides
// an OpenTelemetry-backed implementation; it is nil by default.
type Telemetry interface {
	ObserveDecision(outcome schema.Outcome)
	ObserveEvalDuration(d time.Duration)
	ObserveAuditEviction()
}

// Options configures a new Engine. Exactly one PolicySource field must be
// set. Plugins run in the given order for every phase.
type Options struct {
	PolicySource PolicySource
	// Secret, if non-empty, is the HMAC-SHA256 key the bundle loader
	// verifies every loaded bundle's signature against.
	Secret []byte
	// BaseDir constrains file-source loads, per pkg/bundle.Loader.
	BaseDir string

	Plugins []plugin.Plugin

	Callbacks Callbacks

	DefaultEnvironment string
	DefaultOwner       string

	// ApprovalTimeout bounds every resolution callback. Zero means no
	// timeout.
	ApprovalTimeout time.Duration

	// MaxAuditLogSize bounds the audit log (FIFO eviction). Zero applies
	// the default of 10,000; a negative value means unbounded and should
	// be used sparingly, since the log otherwise grows without bound.
	MaxAuditLogSize int

	Telemetry Telemetry
}

const defaultMaxAuditLogSize = 10000

// Package event builds the tamper-evident audit record emitted for every
// decision: a fresh id, the decision's outcome and reasons, and a redacted
// safe payload that never carries tool_args or free-form user input.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentguard/agentguard/pkg/schema"
)

// Build produces an Event for req and decision. pluginSource, if non-empty,
// attributes the event to the plugin that produced it (a short-circuit in
// Phase 1 or Phase 3); the primary per-request event leaves it empty.
func Build(req *schema.AgentActionRequest, decision *schema.Decision, pluginSource string) schema.Event {
	return schema.Event{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		RequestID: req.RequestID,
		AgentID:   req.Agent.AgentID,
		ToolName:  req.Action.ToolName,
		Outcome:   decision.Outcome,
		Reasons:   append([]schema.Reason(nil), decision.Reasons...),
		SafePayload: schema.SafePayload{
			AgentID:     req.Agent.AgentID,
			ToolName:    req.Action.ToolName,
			Environment: req.Agent.Environment,
			Outcome:     decision.Outcome,
		},
		PluginSource: pluginSource,
	}
}

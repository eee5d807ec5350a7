package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentguard/agentguard/pkg/event"
	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

// CheckParams is the caller-supplied view of a proposed tool invocation.
// Agent.Environment and Agent.Owner, if empty, are filled from the
// engine's configured defaults before validation.
type CheckParams struct {
	Agent   schema.Agent
	Action  schema.Action
	Context schema.RequestContext
}

// CheckResult is the outcome of a single Check call.
type CheckResult struct {
	Allowed  bool
	Decision schema.Decision
	Event    schema.Event
	// Request is the exact request the decision was made on, including
	// any Phase-1 plugin ModifiedRequest view. Protect threads it into
	// Phase 5 so afterExecution hooks see what the engine actually
	// evaluated rather than a freshly rebuilt request.
	Request *schema.AgentActionRequest
}

// Check runs the five-phase pipeline (minus afterExecution, which only
// runs through Protect) over params and returns the resulting decision.
// Check acquires the engine mutex for its entire duration, serializing
// every pipeline entry against every other.
func (e *Engine) Check(ctx context.Context, params CheckParams) (CheckResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return CheckResult{}, ErrNotInitialized
	}

	req := e.buildRequest(params)
	if err := req.Validate(); err != nil {
		return CheckResult{}, err
	}

	if result, done := e.runBeforeCheck(ctx, req); done {
		return result, nil
	}

	evalStart := time.Now()
	decision, err := e.evaluator.Evaluate(req)
	if e.telemetry != nil {
		e.telemetry.ObserveEvalDuration(time.Since(evalStart))
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("engine: %w", err)
	}

	if result, done := e.runAfterDecision(ctx, req, &decision); done {
		return result, nil
	}

	primary := event.Build(req, &decision, "")
	e.recordEvent(primary)

	allowed := e.resolve(ctx, req, &decision)
	return CheckResult{Allowed: allowed, Decision: decision, Event: primary, Request: req}, nil
}

func (e *Engine) buildRequest(params CheckParams) *schema.AgentActionRequest {
	agent := params.Agent
	if agent.Environment == "" {
		agent.Environment = e.defaultEnvironment
	}
	if agent.Owner == "" {
		agent.Owner = e.defaultOwner
	}
	return &schema.AgentActionRequest{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Action:    params.Action,
		Context:   params.Context,
	}
}

// runBeforeCheck executes Phase 1. done is true when a plugin
// short-circuited the pipeline (either by returning a decision or by
// failing closed); in that case result is the final CheckResult.
func (e *Engine) runBeforeCheck(ctx context.Context, req *schema.AgentActionRequest) (CheckResult, bool) {
	for _, p := range e.plugins {
		bc, ok := p.(plugin.BeforeChecker)
		if !ok {
			continue
		}

		result, err := bc.BeforeCheck(ctx, req)
		if err != nil {
			e.reportError(err, fmt.Sprintf("plugin:%s:beforeCheck", p.Name()))
			if bc.FailOpen() {
				continue
			}
			decision := schema.Decision{
				Outcome: schema.Deny,
				Reasons: []schema.Reason{{Code: "PLUGIN_ERROR", Message: err.Error()}},
			}
			ev := event.Build(req, &decision, p.Name())
			e.recordEvent(ev)
			return CheckResult{Allowed: false, Decision: decision, Event: ev, Request: req}, true
		}
		if result == nil {
			continue
		}
		if result.Decision != nil {
			ev := event.Build(req, result.Decision, p.Name())
			e.recordEvent(ev)
			return CheckResult{Allowed: result.Decision.Outcome == schema.Allow, Decision: *result.Decision, Event: ev, Request: req}, true
		}
		if result.ModifiedRequest != nil {
			*req = *result.ModifiedRequest
		}
	}
	return CheckResult{}, false
}

// runAfterDecision executes Phase 3.
func (e *Engine) runAfterDecision(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) (CheckResult, bool) {
	for _, p := range e.plugins {
		ad, ok := p.(plugin.AfterDecider)
		if !ok {
			continue
		}

		result, err := ad.AfterDecision(ctx, req, decision)
		if err != nil {
			e.reportError(err, fmt.Sprintf("plugin:%s:afterDecision", p.Name()))
			if ad.FailOpen() {
				continue
			}
			failed := schema.Decision{
				Outcome: schema.Deny,
				Reasons: []schema.Reason{{Code: "PLUGIN_ERROR", Message: err.Error()}},
			}
			ev := event.Build(req, &failed, p.Name())
			e.recordEvent(ev)
			return CheckResult{Allowed: false, Decision: failed, Event: ev, Request: req}, true
		}
		if result != nil && result.Decision != nil {
			*decision = *result.Decision
		}
	}
	return CheckResult{}, false
}

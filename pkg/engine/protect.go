package engine

import (
	"context"
	"fmt"

	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

// ProtectOptions carries the request shape through to Protect's Check
// call, since the wrapped tool call itself has no uniform signature.
type ProtectOptions struct {
	Agent   schema.Agent
	Action  schema.Action
	Context schema.RequestContext
}

// Protect calls Check first. If the decision denies the call, it returns
// a *SecurityBlockedError carrying the decision without invoking fn. If
// allowed, it invokes fn and then, regardless of fn's outcome, runs every
// plugin's optional AfterExecution hook (Phase 5). Errors from
// AfterExecution hooks are reported via on_error but never propagate:
// the tool has already run.
func Protect[T any](ctx context.Context, e *Engine, toolName string, opts ProtectOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	opts.Action.ToolName = toolName
	result, err := e.Check(ctx, CheckParams{Agent: opts.Agent, Action: opts.Action, Context: opts.Context})
	if err != nil {
		return zero, err
	}
	if !result.Allowed {
		return zero, &SecurityBlockedError{Decision: result.Decision}
	}

	val, execErr := fn(ctx)
	e.runAfterExecution(ctx, result.Request, &result.Decision, val, execErr)
	return val, execErr
}

func (e *Engine) runAfterExecution(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision, result any, execErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.plugins {
		ae, ok := p.(plugin.AfterExecutor)
		if !ok {
			continue
		}
		if err := ae.AfterExecution(ctx, req, decision, result, execErr); err != nil {
			e.reportError(fmt.Errorf("plugin %q: %w", p.Name(), err), fmt.Sprintf("plugin:%s:afterExecution", p.Name()))
		}
	}
}

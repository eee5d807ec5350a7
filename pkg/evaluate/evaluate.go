// Package evaluate implements the first-match policy rule engine: a fixed
// matcher order (tool name, environment, agent type, trust level, roles,
// provider, then an optional guarded predicate clause) plus a ReDoS-safe
// regex cache shared across rules in a single bundle.
package evaluate

import (
	"fmt"

	"github.com/agentguard/agentguard/pkg/schema"
)

// Diagnostic describes a rule whose matches_regex pattern was rejected at
// bundle registration, so operators can spot dead conditions early.
type Diagnostic struct {
	RuleID  string
	Pattern string
	Reason  string
}

// Evaluator holds the current policy bundle and its derived regex cache.
// It is not safe for concurrent use on its own; callers (pkg/engine)
// serialize access via an external mutex.
type Evaluator struct {
	bundle      *schema.PolicyBundle
	regexCache  *regexCache
	diagnostics []Diagnostic
}

// New creates an Evaluator with no bundle loaded. Evaluate returns an
// error if called before UpdateBundle.
func New() *Evaluator {
	return &Evaluator{regexCache: newRegexCache()}
}

// UpdateBundle atomically swaps in a new policy bundle, clears the regex
// cache (so no entry from the prior bundle survives), and pre-compiles
// every rule's matches_regex pattern, recording a Diagnostic for any
// pattern the safety cache rejects.
func (e *Evaluator) UpdateBundle(bundle *schema.PolicyBundle) {
	e.bundle = bundle
	e.regexCache.reset()
	e.diagnostics = nil

	for i := range bundle.Rules {
		rule := &bundle.Rules[i]
		if rule.When == nil || rule.When.MatchesRegex == "" {
			continue
		}
		if e.regexCache.getSafeRegex(rule.When.MatchesRegex) == nil {
			e.diagnostics = append(e.diagnostics, Diagnostic{
				RuleID:  rule.ID,
				Pattern: rule.When.MatchesRegex,
				Reason:  "pattern rejected by the regex safety cache (length, shape, compile, or probe-time check)",
			})
		}
	}
}

// Diagnostics returns the rejected-regex diagnostics recorded by the most
// recent UpdateBundle call.
func (e *Evaluator) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), e.diagnostics...)
}

// Bundle returns the currently loaded bundle, or nil if none has been set.
func (e *Evaluator) Bundle() *schema.PolicyBundle {
	return e.bundle
}

// Evaluate returns the decision for req: the outcome of the first rule
// whose matchers all succeed, or the bundle's default outcome if none
// match. Evaluate requires a bundle to have been set via UpdateBundle.
func (e *Evaluator) Evaluate(req *schema.AgentActionRequest) (schema.Decision, error) {
	if e.bundle == nil {
		return schema.Decision{}, fmt.Errorf("evaluate: no policy bundle loaded")
	}

	for i := range e.bundle.Rules {
		rule := &e.bundle.Rules[i]
		if !e.matchRule(rule, req) {
			continue
		}
		return schema.Decision{
			Outcome:      rule.Outcome,
			Reasons:      []schema.Reason{{Code: rule.ID, Message: rule.Description}},
			ApproverRole: rule.ApproverRole,
			Constraints:  rule.Constraints,
		}, nil
	}

	outcome := e.bundle.Defaults.Outcome
	return schema.Decision{
		Outcome: outcome,
		Reasons: []schema.Reason{{
			Code:    "DEFAULT_" + string(outcome),
			Message: "no rule matched; applied bundle default outcome",
		}},
	}, nil
}

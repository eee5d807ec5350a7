package evaluate

import (
	"strings"

	"github.com/agentguard/agentguard/pkg/schema"
)

// matchRule runs the rule's match clauses in a fixed order. The first
// matcher to fail short-circuits evaluation of the rest.
func (e *Evaluator) matchRule(rule *schema.PolicyRule, req *schema.AgentActionRequest) bool {
	if !matchToolName(rule.Match.ToolName, req.Action.ToolName) {
		return false
	}
	if !matchEnvironment(rule.Match.Environment, req.Agent.Environment) {
		return false
	}
	if !matchAgentType(rule.Match.AgentType, req.Agent.AgentType) {
		return false
	}
	if !matchTrustLevelMin(rule.Match.TrustLevelMin, req.Agent.TrustLevel) {
		return false
	}
	if !matchAgentRolesAny(rule.Match.AgentRolesAny, req.Agent.Roles) {
		return false
	}
	if !matchToolProvider(rule.Match.ToolProvider, req.Action.ToolProvider) {
		return false
	}
	if rule.When != nil {
		if !e.matchWhen(rule.When, req) {
			return false
		}
	}
	return true
}

// matchToolName implements exact match, "*" wildcard, list membership, and
// a single trailing-"*" glob prefix (at least one literal character before
// the "*"). Embedded or non-trailing "*" characters are never treated as
// glob metacharacters; they are literal.
func matchToolName(rule schema.StringOrList, toolName string) bool {
	if rule.IsWildcard() {
		return true
	}
	if len(rule) > 1 {
		return rule.Contains(toolName)
	}
	if len(rule) == 1 {
		pattern := rule[0]
		if strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
			prefix := strings.TrimSuffix(pattern, "*")
			return strings.HasPrefix(toolName, prefix)
		}
		return pattern == toolName
	}
	return false
}

func matchEnvironment(rule string, env string) bool {
	return rule == "*" || rule == env
}

func matchAgentType(rule schema.StringOrList, agentType string) bool {
	if len(rule) == 0 {
		return true
	}
	if agentType == "" {
		return false
	}
	return rule.Contains(agentType)
}

func matchTrustLevelMin(min schema.TrustLevel, have schema.TrustLevel) bool {
	if min == "" {
		return true
	}
	minRank := min.Rank()
	haveRank := have.Rank()
	if minRank < 0 || haveRank < 0 {
		return false
	}
	return haveRank >= minRank
}

func matchAgentRolesAny(required []string, have []string) bool {
	if len(required) == 0 {
		return true
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, r := range have {
		haveSet[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := haveSet[r]; ok {
			return true
		}
	}
	return false
}

func matchToolProvider(rule schema.StringOrList, provider string) bool {
	if len(rule) == 0 {
		return true
	}
	if provider == "" {
		return false
	}
	return rule.Contains(provider)
}

// matchWhen evaluates the optional guarded-predicate clause. Every
// sub-condition present must hold (logical AND across contains_any,
// not_contains, matches_regex, data_labels_any, and tool_args_match).
func (e *Evaluator) matchWhen(when *schema.When, req *schema.AgentActionRequest) bool {
	values := schema.ExtractStringValues(req.Context.UserInput, req.Action.ToolArgs)

	if len(when.ContainsAny) > 0 && !containsAny(values, when.ContainsAny) {
		return false
	}
	if len(when.NotContains) > 0 && containsAny(values, when.NotContains) {
		return false
	}
	if when.MatchesRegex != "" {
		re := e.regexCache.getSafeRegex(when.MatchesRegex)
		if re == nil {
			// An unsafe or uncompilable pattern fails closed for the
			// condition; it never matches.
			return false
		}
		text := strings.Join(values, " ")
		if !re.MatchString(text) {
			return false
		}
	}
	if len(when.DataLabelsAny) > 0 && !intersects(when.DataLabelsAny, req.Context.DataLabels) {
		return false
	}
	if len(when.ToolArgsMatch) > 0 && !matchToolArgs(when.ToolArgsMatch, req.Action.ToolArgs) {
		return false
	}
	return true
}

func containsAny(haystack []string, terms []string) bool {
	for _, term := range terms {
		lowerTerm := strings.ToLower(term)
		for _, v := range haystack {
			if strings.Contains(strings.ToLower(v), lowerTerm) {
				return true
			}
		}
	}
	return false
}

func intersects(a []string, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func matchToolArgs(required map[string]any, toolArgs map[string]any) bool {
	for key, expected := range required {
		actual, ok := toolArgs[key]
		if !ok {
			return false
		}
		if !schema.MatchToolArgsField(actual, expected) {
			return false
		}
	}
	return true
}

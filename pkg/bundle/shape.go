package bundle

import (
	"fmt"

	"github.com/agentguard/agentguard/pkg/schema"
)

// maxRuleCount is the maximum number of rules a bundle may declare.
const maxRuleCount = 1000

// validOutcomes is the closed set a rule or the bundle defaults may use.
var validOutcomes = map[schema.Outcome]bool{
	schema.Allow:           true,
	schema.Deny:            true,
	schema.RequireApproval: true,
	schema.StepUp:          true,
	schema.RequireTicket:   true,
	schema.RequireHuman:    true,
}

// validateShape enforces presence and type of every mandatory bundle and
// rule field, rejecting with field-qualified messages, operating on the
// generic decoded JSON value so it runs before (and independent of) the
// strongly-typed PolicyBundle decode.
func validateShape(raw map[string]any) error {
	if err := requireString(raw, "version"); err != nil {
		return err
	}
	if err := requireString(raw, "generated_at"); err != nil {
		return err
	}
	if err := requireString(raw, "expires_at"); err != nil {
		return err
	}

	rulesRaw, ok := raw["rules"]
	if !ok {
		return fieldErr("rules", "is required")
	}
	// A JSON null is how encoding/json writes a nil []PolicyRule; it is
	// accepted as an empty rule list.
	rules, ok := rulesRaw.([]any)
	if !ok && rulesRaw != nil {
		return fieldErr("rules", "must be an array")
	}
	if len(rules) > maxRuleCount {
		return ErrTooManyRules
	}
	for i, r := range rules {
		rule, ok := r.(map[string]any)
		if !ok {
			return fieldErr(fmt.Sprintf("rules[%d]", i), "must be an object")
		}
		if err := validateRuleShape(i, rule); err != nil {
			return err
		}
	}

	defaultsRaw, ok := raw["defaults"]
	if !ok {
		return fieldErr("defaults", "is required")
	}
	defaults, ok := defaultsRaw.(map[string]any)
	if !ok {
		return fieldErr("defaults", "must be an object")
	}
	if err := requireOutcome(defaults, "defaults.outcome"); err != nil {
		return err
	}

	if sig, ok := raw["signature"]; ok {
		if _, ok := sig.(string); !ok {
			return fieldErr("signature", "must be a string")
		}
	}

	return nil
}

func validateRuleShape(index int, rule map[string]any) error {
	prefix := fmt.Sprintf("rules[%d]", index)

	id, ok := rule["id"].(string)
	if !ok || id == "" {
		return fieldErr(prefix+".id", "must be a non-empty string")
	}

	matchRaw, ok := rule["match"]
	if !ok {
		return fieldErr(prefix+".match", "is required")
	}
	match, ok := matchRaw.(map[string]any)
	if !ok {
		return fieldErr(prefix+".match", "must be an object")
	}
	if err := validateMatchShape(prefix+".match", match); err != nil {
		return err
	}

	if err := requireOutcome(rule, prefix+".outcome"); err != nil {
		return err
	}

	return nil
}

func validateMatchShape(prefix string, match map[string]any) error {
	toolName, ok := match["tool_name"]
	if !ok {
		return fieldErr(prefix+".tool_name", "is required")
	}
	if err := requireStringOrList(toolName, prefix+".tool_name"); err != nil {
		return err
	}

	env, ok := match["environment"]
	if !ok {
		return fieldErr(prefix+".environment", "is required")
	}
	if s, ok := env.(string); !ok || s == "" {
		return fieldErr(prefix+".environment", "must be a non-empty string")
	}

	return nil
}

func requireString(m map[string]any, key string) error {
	v, ok := m[key]
	if !ok {
		return fieldErr(key, "is required")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fieldErr(key, "must be a non-empty string")
	}
	return nil
}

func requireStringOrList(v any, field string) error {
	switch val := v.(type) {
	case string:
		if val == "" {
			return fieldErr(field, "must be a non-empty string")
		}
		return nil
	case []any:
		for _, item := range val {
			if s, ok := item.(string); !ok || s == "" {
				return fieldErr(field, "list entries must be non-empty strings")
			}
		}
		return nil
	default:
		return fieldErr(field, "must be a string or a list of strings")
	}
}

func requireOutcome(m map[string]any, field string) error {
	v, ok := m["outcome"]
	if !ok {
		return fieldErr(field, "is required")
	}
	s, ok := v.(string)
	if !ok || !validOutcomes[schema.Outcome(s)] {
		return fieldErr(field, "must be one of ALLOW, DENY, REQUIRE_APPROVAL, STEP_UP, REQUIRE_TICKET, REQUIRE_HUMAN")
	}
	return nil
}

func fieldErr(field, reason string) error {
	return fmt.Errorf("bundle: field %q %s", field, reason)
}

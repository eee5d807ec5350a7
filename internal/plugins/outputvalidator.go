package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentguard/agentguard/pkg/schema"
)

// OutputValidator is an afterExecution-only plugin: it never blocks,
// since the tool has already run by the time it sees output, but it
// records a violation for any later audit or alerting surface to pick up.
type OutputValidator struct {
	mu sync.Mutex

	ForbiddenPatterns []*regexp.Regexp
	ForbiddenKeywords []string

	violations []Violation
}

// Violation is a recorded output-validation failure.
type Violation struct {
	RequestID string
	AgentID   string
	ToolName  string
	Reason    string
}

// NewOutputValidator compiles patterns and keywords into a validator.
// Invalid patterns are skipped with a logged warning rather than failing
// construction; a single bad pattern should not disable the rest.
func NewOutputValidator(patterns []string, keywords []string) *OutputValidator {
	v := &OutputValidator{ForbiddenKeywords: keywords}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("agentguard: output validator pattern rejected")
			continue
		}
		v.ForbiddenPatterns = append(v.ForbiddenPatterns, re)
	}
	return v
}

func (v *OutputValidator) Name() string   { return "output_validator" }
func (v *OutputValidator) FailOpen() bool { return true }

// AfterExecution scans the serialized tool result against the configured
// patterns and keywords and records any match. It never returns an error
// that would be surfaced as anything but a logged diagnostic.
func (v *OutputValidator) AfterExecution(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision, result any, execErr error) error {
	if execErr != nil || result == nil {
		return nil
	}

	text, err := serialize(result)
	if err != nil {
		return nil
	}

	var reasons []string
	lower := strings.ToLower(text)
	for _, kw := range v.ForbiddenKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			reasons = append(reasons, fmt.Sprintf("forbidden keyword %q", kw))
		}
	}
	for _, re := range v.ForbiddenPatterns {
		if re.MatchString(text) {
			reasons = append(reasons, fmt.Sprintf("forbidden pattern %q", re.String()))
		}
	}
	if len(reasons) == 0 {
		return nil
	}

	v.mu.Lock()
	v.violations = append(v.violations, Violation{
		RequestID: req.RequestID,
		AgentID:   req.Agent.AgentID,
		ToolName:  req.Action.ToolName,
		Reason:    strings.Join(reasons, "; "),
	})
	v.mu.Unlock()
	return nil
}

// Violations returns a copy of the recorded violations.
func (v *OutputValidator) Violations() []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Violation(nil), v.violations...)
}

func serialize(result any) (string, error) {
	if s, ok := result.(string); ok {
		return s, nil
	}
	if b, ok := result.([]byte); ok {
		return string(b), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

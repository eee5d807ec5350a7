package plugins

import (
	"context"
	"sync"
	"time"

	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

const defaultWindow = 60 * time.Second

// RateLimiter enforces sliding-window request caps per agent and per
// (agent, tool) pair. Window entries older than Window are pruned on
// every check; a timestamp is recorded only for a request that is not
// itself denied, so a denied burst never counts against its own window.
type RateLimiter struct {
	mu sync.Mutex

	// Window is the sliding window duration. Zero applies defaultWindow.
	Window time.Duration
	// MaxPerAgent and MaxPerAgentTool bound requests within Window. Zero
	// means unlimited for that dimension.
	MaxPerAgent     int
	MaxPerAgentTool int

	perAgent     map[string][]time.Time
	perAgentTool map[string][]time.Time

	now func() time.Time
}

// NewRateLimiter constructs a RateLimiter with the given caps.
func NewRateLimiter(maxPerAgent, maxPerAgentTool int) *RateLimiter {
	return &RateLimiter{
		MaxPerAgent:     maxPerAgent,
		MaxPerAgentTool: maxPerAgentTool,
		perAgent:        make(map[string][]time.Time),
		perAgentTool:    make(map[string][]time.Time),
		now:             time.Now,
	}
}

func (r *RateLimiter) Name() string   { return "rate_limiter" }
func (r *RateLimiter) FailOpen() bool { return false }

func (r *RateLimiter) window() time.Duration {
	if r.Window > 0 {
		return r.Window
	}
	return defaultWindow
}

func agentToolKey(agentID, toolName string) string {
	return agentID + "\x00" + toolName
}

// BeforeCheck denies with RATE_LIMIT_AGENT or RATE_LIMIT_TOOL when the
// calling agent, or the agent+tool pair, is at capacity; otherwise it
// records the current timestamp against both windows.
func (r *RateLimiter) BeforeCheck(ctx context.Context, req *schema.AgentActionRequest) (*plugin.BeforeCheckResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window())

	agentKey := req.Agent.AgentID
	toolKey := agentToolKey(req.Agent.AgentID, req.Action.ToolName)

	agentTimes := prune(r.perAgent[agentKey], cutoff)
	toolTimes := prune(r.perAgentTool[toolKey], cutoff)
	r.perAgent[agentKey] = agentTimes
	r.perAgentTool[toolKey] = toolTimes

	if r.MaxPerAgent > 0 && len(agentTimes) >= r.MaxPerAgent {
		return &plugin.BeforeCheckResult{Decision: &schema.Decision{
			Outcome: schema.Deny,
			Reasons: []schema.Reason{{Code: "RATE_LIMIT_AGENT", Message: "agent request rate exceeded"}},
		}}, nil
	}
	if r.MaxPerAgentTool > 0 && len(toolTimes) >= r.MaxPerAgentTool {
		return &plugin.BeforeCheckResult{Decision: &schema.Decision{
			Outcome: schema.Deny,
			Reasons: []schema.Reason{{Code: "RATE_LIMIT_TOOL", Message: "agent+tool request rate exceeded"}},
		}}, nil
	}

	r.perAgent[agentKey] = append(agentTimes, now)
	r.perAgentTool[toolKey] = append(toolTimes, now)
	return nil, nil
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}

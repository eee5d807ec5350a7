package plugins

import (
	"context"
	"sync"
	"time"

	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

const defaultSessionTTL = 30 * time.Minute

type sessionRecord struct {
	counts     map[string]int
	lastSeenAt time.Time
}

// SessionBudget caps how many times a session may invoke a given tool.
// BeforeCheck denies once a tool's count reaches MaxPerSession;
// AfterDecision increments the count, but only for requests whose
// decision at that phase is not DENY, so a call denied by policy or by an
// earlier plugin never consumes its own budget. A call that is counted
// and later rejected by a resolution callback (approval, step-up, ticket,
// human review) still consumes budget. Session records expire TTL after
// their last activity; Destroy
// cancels the background sweep.
type SessionBudget struct {
	mu sync.Mutex

	MaxPerSession int
	TTL           time.Duration

	sessions map[string]*sessionRecord

	now func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewSessionBudget constructs a SessionBudget with the given per-tool cap
// and starts its background expiry sweep.
func NewSessionBudget(maxPerSession int) *SessionBudget {
	b := &SessionBudget{
		MaxPerSession: maxPerSession,
		sessions:      make(map[string]*sessionRecord),
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

func (b *SessionBudget) Name() string   { return "session_budget" }
func (b *SessionBudget) FailOpen() bool { return false }

func (b *SessionBudget) ttl() time.Duration {
	if b.TTL > 0 {
		return b.TTL
	}
	return defaultSessionTTL
}

// BeforeCheck denies with SESSION_LIMIT_EXCEEDED once the session's count
// for this tool has reached MaxPerSession.
func (b *SessionBudget) BeforeCheck(ctx context.Context, req *schema.AgentActionRequest) (*plugin.BeforeCheckResult, error) {
	if req.Context.SessionID == "" || b.MaxPerSession <= 0 {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.sessions[req.Context.SessionID]
	if rec != nil && rec.counts[req.Action.ToolName] >= b.MaxPerSession {
		return &plugin.BeforeCheckResult{Decision: &schema.Decision{
			Outcome: schema.Deny,
			Reasons: []schema.Reason{{Code: "SESSION_LIMIT_EXCEEDED", Message: "per-session tool budget exhausted"}},
		}}, nil
	}
	return nil, nil
}

// AfterDecision increments the session's per-tool counter, but only when
// the final decision is not DENY.
func (b *SessionBudget) AfterDecision(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) (*plugin.AfterDecisionResult, error) {
	if req.Context.SessionID == "" || decision.Outcome == schema.Deny {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.sessions[req.Context.SessionID]
	if rec == nil {
		rec = &sessionRecord{counts: make(map[string]int)}
		b.sessions[req.Context.SessionID] = rec
	}
	rec.counts[req.Action.ToolName]++
	rec.lastSeenAt = b.now()
	return nil, nil
}

// Destroy stops the background expiry sweep and waits for it to exit.
func (b *SessionBudget) Destroy(ctx context.Context) error {
	close(b.stop)
	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (b *SessionBudget) sweepLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.ttl() / 2)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *SessionBudget) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-b.ttl())
	for id, rec := range b.sessions {
		if rec.lastSeenAt.Before(cutoff) {
			delete(b.sessions, id)
		}
	}
}

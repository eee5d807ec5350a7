package plugins

import (
	"context"
	"testing"
	"time"

	"github.com/agentguard/agentguard/pkg/schema"
)

func TestSessionBudgetDeniesAtLimit(t *testing.T) {
	b := NewSessionBudget(2)
	defer b.Destroy(context.Background())
	ctx := context.Background()
	req := &schema.AgentActionRequest{
		Agent:   schema.Agent{AgentID: "a1"},
		Action:  schema.Action{ToolName: "query_db"},
		Context: schema.RequestContext{SessionID: "s1"},
	}
	allow := &schema.Decision{Outcome: schema.Allow}

	for i := 0; i < 2; i++ {
		if result, err := b.BeforeCheck(ctx, req); err != nil || result != nil {
			t.Fatalf("iteration %d: expected to pass, got %+v, %v", i, result, err)
		}
		if _, err := b.AfterDecision(ctx, req, allow); err != nil {
			t.Fatalf("after decision: %v", err)
		}
	}

	result, err := b.BeforeCheck(ctx, req)
	if err != nil || result == nil || result.Decision.Reasons[0].Code != "SESSION_LIMIT_EXCEEDED" {
		t.Fatalf("expected SESSION_LIMIT_EXCEEDED, got %+v, %v", result, err)
	}
}

func TestSessionBudgetSkipsIncrementOnDeny(t *testing.T) {
	b := NewSessionBudget(1)
	defer b.Destroy(context.Background())
	ctx := context.Background()
	req := &schema.AgentActionRequest{
		Agent:   schema.Agent{AgentID: "a1"},
		Action:  schema.Action{ToolName: "query_db"},
		Context: schema.RequestContext{SessionID: "s1"},
	}

	deny := &schema.Decision{Outcome: schema.Deny}
	for i := 0; i < 5; i++ {
		if _, err := b.AfterDecision(ctx, req, deny); err != nil {
			t.Fatalf("after decision: %v", err)
		}
	}

	if result, _ := b.BeforeCheck(ctx, req); result != nil {
		t.Fatalf("denied decisions must not consume budget, got %+v", result)
	}
}

func TestSessionBudgetExpiresViaSweep(t *testing.T) {
	b := NewSessionBudget(1)
	b.TTL = 5 * time.Millisecond
	defer b.Destroy(context.Background())

	base := time.Now()
	b.now = func() time.Time { return base }

	ctx := context.Background()
	req := &schema.AgentActionRequest{
		Agent:   schema.Agent{AgentID: "a1"},
		Action:  schema.Action{ToolName: "t"},
		Context: schema.RequestContext{SessionID: "s1"},
	}
	allow := &schema.Decision{Outcome: schema.Allow}
	if _, err := b.AfterDecision(ctx, req, allow); err != nil {
		t.Fatalf("after decision: %v", err)
	}

	b.now = func() time.Time { return base.Add(time.Hour) }
	b.sweep()

	b.mu.Lock()
	_, exists := b.sessions["s1"]
	b.mu.Unlock()
	if exists {
		t.Fatalf("expected expired session to be swept")
	}
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentguard/agentguard/pkg/bundle"
	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

func bundleJSON(t *testing.T, rules []schema.PolicyRule, defaultOutcome schema.Outcome) []byte {
	t.Helper()
	b := &schema.PolicyBundle{
		Version:     "1",
		GeneratedAt: time.Now().Add(-time.Hour),
		ExpiresAt:   time.Now().Add(time.Hour),
		Rules:       rules,
		Defaults:    schema.Defaults{Outcome: defaultOutcome},
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestCheckAllowFiresOnAllow(t *testing.T) {
	var fired bool
	e := newTestEngine(t, Options{
		PolicySource: PolicySource{JSON: bundleJSON(t, nil, schema.Allow)},
		Callbacks: Callbacks{
			OnAllow: func(req *schema.AgentActionRequest, d *schema.Decision) { fired = true },
		},
	})

	result, err := e.Check(context.Background(), CheckParams{
		Agent:  schema.Agent{AgentID: "a1", Environment: "dev"},
		Action: schema.Action{ToolName: "read_file"},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed || !fired {
		t.Fatalf("expected allow + OnAllow fired, got allowed=%v fired=%v", result.Allowed, fired)
	}
}

func TestCheckDenyFiresOnDeny(t *testing.T) {
	var fired bool
	rules := []schema.PolicyRule{
		{ID: "deny-x", Match: schema.Match{ToolName: schema.StringOrList{"x"}, Environment: "*"}, Outcome: schema.Deny},
	}
	e := newTestEngine(t, Options{
		PolicySource: PolicySource{JSON: bundleJSON(t, rules, schema.Allow)},
		Callbacks: Callbacks{
			OnDeny: func(req *schema.AgentActionRequest, d *schema.Decision) { fired = true },
		},
	})

	result, err := e.Check(context.Background(), CheckParams{
		Agent:  schema.Agent{AgentID: "a1", Environment: "dev"},
		Action: schema.Action{ToolName: "x"},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Allowed || !fired {
		t.Fatalf("expected deny + OnDeny fired, got allowed=%v fired=%v", result.Allowed, fired)
	}
}

func TestCheckRequiresInitialization(t *testing.T) {
	e := newTestEngine(t, Options{
		PolicySource: PolicySource{AsyncLoader: func(ctx context.Context) ([]byte, error) {
			return bundleJSON(t, nil, schema.Allow), nil
		}},
	})

	_, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "t"}})
	if err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "t"}}); err != nil {
		t.Fatalf("check after init: %v", err)
	}
}

func TestApprovalRequiredSuccessAndTimeout(t *testing.T) {
	rules := []schema.PolicyRule{
		{ID: "needs-approval", Match: schema.Match{ToolName: schema.StringOrList{"risky"}, Environment: "*"}, Outcome: schema.RequireApproval},
	}

	t.Run("approved", func(t *testing.T) {
		e := newTestEngine(t, Options{
			PolicySource: PolicySource{JSON: bundleJSON(t, rules, schema.Allow)},
			Callbacks: Callbacks{
				OnApprovalRequired: func(ctx context.Context, req *schema.AgentActionRequest, d *schema.Decision) (bool, error) {
					return true, nil
				},
			},
		})
		result, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "risky"}})
		if err != nil || !result.Allowed {
			t.Fatalf("expected approved allow, got allowed=%v err=%v", result.Allowed, err)
		}
	})

	t.Run("timeout denies", func(t *testing.T) {
		e := newTestEngine(t, Options{
			PolicySource:    PolicySource{JSON: bundleJSON(t, rules, schema.Allow)},
			ApprovalTimeout: 10 * time.Millisecond,
			Callbacks: Callbacks{
				OnApprovalRequired: func(ctx context.Context, req *schema.AgentActionRequest, d *schema.Decision) (bool, error) {
					<-ctx.Done()
					return false, ctx.Err()
				},
			},
		})
		result, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "risky"}})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if result.Allowed {
			t.Fatalf("expected timeout to deny")
		}
	})

	t.Run("unconfigured falls through to deny", func(t *testing.T) {
		e := newTestEngine(t, Options{PolicySource: PolicySource{JSON: bundleJSON(t, rules, schema.Allow)}})
		result, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "risky"}})
		if err != nil || result.Allowed {
			t.Fatalf("expected deny fallthrough, got allowed=%v err=%v", result.Allowed, err)
		}
	})
}

type stubBeforeCheckPlugin struct {
	name     string
	failOpen bool
	decision *schema.Decision
	err      error
}

func (p *stubBeforeCheckPlugin) Name() string   { return p.name }
func (p *stubBeforeCheckPlugin) FailOpen() bool { return p.failOpen }
func (p *stubBeforeCheckPlugin) BeforeCheck(ctx context.Context, req *schema.AgentActionRequest) (*plugin.BeforeCheckResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.decision != nil {
		return &plugin.BeforeCheckResult{Decision: p.decision}, nil
	}
	return nil, nil
}

func TestBeforeCheckShortCircuitDecision(t *testing.T) {
	deny := &schema.Decision{Outcome: schema.Deny, Reasons: []schema.Reason{{Code: "KILL_SWITCH"}}}
	killSwitch := &stubBeforeCheckPlugin{name: "kill_switch", decision: deny}

	e := newTestEngine(t, Options{
		PolicySource: PolicySource{JSON: bundleJSON(t, nil, schema.Allow)},
		Plugins:      []plugin.Plugin{killSwitch},
	})

	result, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "t"}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected short-circuit deny")
	}
	if result.Event.PluginSource != "kill_switch" {
		t.Fatalf("expected event attributed to kill_switch, got %q", result.Event.PluginSource)
	}
}

func TestBeforeCheckFailClosedOnError(t *testing.T) {
	failing := &stubBeforeCheckPlugin{name: "flaky", failOpen: false, err: errors.New("boom")}
	e := newTestEngine(t, Options{
		PolicySource: PolicySource{JSON: bundleJSON(t, nil, schema.Allow)},
		Plugins:      []plugin.Plugin{failing},
	})

	result, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "t"}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Allowed || result.Decision.Reasons[0].Code != "PLUGIN_ERROR" {
		t.Fatalf("expected fail-closed PLUGIN_ERROR deny, got %+v", result.Decision)
	}
}

func TestBeforeCheckFailOpenSwallowsError(t *testing.T) {
	failing := &stubBeforeCheckPlugin{name: "flaky", failOpen: true, err: errors.New("boom")}
	e := newTestEngine(t, Options{
		PolicySource: PolicySource{JSON: bundleJSON(t, nil, schema.Allow)},
		Plugins:      []plugin.Plugin{failing},
	})

	result, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "t"}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected fail-open to continue to default allow")
	}
}

func TestDuplicatePluginNameRejected(t *testing.T) {
	a := &stubBeforeCheckPlugin{name: "dup"}
	b := &stubBeforeCheckPlugin{name: "dup"}
	_, err := New(Options{
		PolicySource: PolicySource{JSON: bundleJSON(t, nil, schema.Allow)},
		Plugins:      []plugin.Plugin{a, b},
	})
	if !errors.Is(err, ErrDuplicatePluginName) {
		t.Fatalf("expected ErrDuplicatePluginName, got %v", err)
	}
}

func TestHotReload(t *testing.T) {
	e := newTestEngine(t, Options{PolicySource: PolicySource{JSON: bundleJSON(t, nil, schema.Allow)}})

	rules := []schema.PolicyRule{
		{ID: "deny-all", Match: schema.Match{ToolName: schema.StringOrList{"*"}, Environment: "*"}, Outcome: schema.Deny},
	}
	err := e.ReloadPolicy(context.Background(), bundle.Source{JSON: bundleJSON(t, rules, schema.Allow)})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	result, err := e.Check(context.Background(), CheckParams{Agent: schema.Agent{AgentID: "a1", Environment: "dev"}, Action: schema.Action{ToolName: "anything"}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected reloaded policy to deny")
	}
}

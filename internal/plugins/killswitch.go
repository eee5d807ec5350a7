// Package plugins provides the reference pipeline plugins: a kill-switch,
// a sliding-window rate limiter, a per-session tool budget, and an output
// validator.
package plugins

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

// KillSwitchState is the persisted shape of a KillSwitch's state, passed
// to StateStore.OnStateChange and returned by StateStore.LoadState.
type KillSwitchState struct {
	KilledAgents map[string]string `json:"killed_agents"`
	GlobalKill   bool              `json:"global_kill"`
	GlobalReason string            `json:"global_reason"`
}

// StateStore is the optional persistence port a KillSwitch calls on every
// state change and at startup, so a kill decision survives a process
// restart. internal/persistence/postgres provides one implementation.
type StateStore interface {
	OnStateChange(ctx context.Context, state KillSwitchState) error
	LoadState(ctx context.Context) (KillSwitchState, error)
}

// KillSwitch denies every request for a globally- or agent-killed agent.
// It is fail-closed by default: a plugin this security-critical must not
// silently let requests through on its own error.
type KillSwitch struct {
	mu sync.Mutex

	killedAgents map[string]string
	globalKill   bool
	globalReason string

	store StateStore
}

// NewKillSwitch constructs a KillSwitch. store may be nil, in which case
// state does not survive a process restart.
func NewKillSwitch(store StateStore) *KillSwitch {
	return &KillSwitch{killedAgents: make(map[string]string), store: store}
}

func (k *KillSwitch) Name() string   { return "kill_switch" }
func (k *KillSwitch) FailOpen() bool { return false }

// Initialize loads persisted state, if a store is configured.
func (k *KillSwitch) Initialize(ctx context.Context) error {
	if k.store == nil {
		return nil
	}
	state, err := k.store.LoadState(ctx)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if state.KilledAgents != nil {
		k.killedAgents = state.KilledAgents
	}
	k.globalKill = state.GlobalKill
	k.globalReason = state.GlobalReason
	return nil
}

// BeforeCheck denies with GLOBAL_KILL_SWITCH or AGENT_KILL_SWITCH when
// the request's agent is killed; otherwise it proceeds.
func (k *KillSwitch) BeforeCheck(ctx context.Context, req *schema.AgentActionRequest) (*plugin.BeforeCheckResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.globalKill {
		return &plugin.BeforeCheckResult{Decision: &schema.Decision{
			Outcome: schema.Deny,
			Reasons: []schema.Reason{{Code: "GLOBAL_KILL_SWITCH", Message: k.globalReason}},
		}}, nil
	}
	if reason, killed := k.killedAgents[req.Agent.AgentID]; killed {
		return &plugin.BeforeCheckResult{Decision: &schema.Decision{
			Outcome: schema.Deny,
			Reasons: []schema.Reason{{Code: "AGENT_KILL_SWITCH", Message: reason}},
		}}, nil
	}
	return nil, nil
}

// Kill marks a single agent as killed.
func (k *KillSwitch) Kill(ctx context.Context, agentID, reason string) error {
	k.mu.Lock()
	k.killedAgents[agentID] = reason
	state := k.stateLocked()
	k.mu.Unlock()
	return k.persist(ctx, state)
}

// Revive clears a single agent's killed state.
func (k *KillSwitch) Revive(ctx context.Context, agentID string) error {
	k.mu.Lock()
	delete(k.killedAgents, agentID)
	state := k.stateLocked()
	k.mu.Unlock()
	return k.persist(ctx, state)
}

// KillAll sets the global kill flag, denying every agent regardless of
// per-agent state.
func (k *KillSwitch) KillAll(ctx context.Context, reason string) error {
	k.mu.Lock()
	k.globalKill = true
	k.globalReason = reason
	state := k.stateLocked()
	k.mu.Unlock()
	return k.persist(ctx, state)
}

// ReviveAll clears the global kill flag. Per-agent kills are untouched.
func (k *KillSwitch) ReviveAll(ctx context.Context) error {
	k.mu.Lock()
	k.globalKill = false
	k.globalReason = ""
	state := k.stateLocked()
	k.mu.Unlock()
	return k.persist(ctx, state)
}

// IsKilled reports whether agentID is currently denied, globally or
// individually.
func (k *KillSwitch) IsKilled(agentID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.globalKill {
		return true
	}
	_, killed := k.killedAgents[agentID]
	return killed
}

// GetState returns a copy of the current state.
func (k *KillSwitch) GetState() KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stateLocked()
}

func (k *KillSwitch) stateLocked() KillSwitchState {
	agents := make(map[string]string, len(k.killedAgents))
	for id, reason := range k.killedAgents {
		agents[id] = reason
	}
	return KillSwitchState{KilledAgents: agents, GlobalKill: k.globalKill, GlobalReason: k.globalReason}
}

func (k *KillSwitch) persist(ctx context.Context, state KillSwitchState) error {
	if k.store == nil {
		return nil
	}
	if err := k.store.OnStateChange(ctx, state); err != nil {
		log.Error().Err(err).Msg("agentguard: kill switch state persistence failed")
		return err
	}
	return nil
}

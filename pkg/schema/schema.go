// Package schema defines the typed records exchanged between hosts and the
// AgentGuard decision engine: requests, policy rules and bundles, decisions,
// and audit events.
package schema

import "time"

// TrustLevel is an ordered enumeration of agent trust. Comparisons between
// levels use Rank, never string equality.
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustBasic     TrustLevel = "basic"
	TrustVerified  TrustLevel = "verified"
	TrustPrivileged TrustLevel = "privileged"
	TrustSystem    TrustLevel = "system"
)

// trustRank orders trust levels for the trust_level_min matcher. Unknown
// levels rank below TrustUntrusted so they never satisfy a minimum.
var trustRank = map[TrustLevel]int{
	TrustUntrusted:  0,
	TrustBasic:      1,
	TrustVerified:   2,
	TrustPrivileged: 3,
	TrustSystem:     4,
}

// Rank returns the ordinal position of a trust level, or -1 if unknown.
func (t TrustLevel) Rank() int {
	if r, ok := trustRank[t]; ok {
		return r
	}
	return -1
}

// Outcome is a decision outcome. The set below is closed; callers must
// not introduce new outcome values.
type Outcome string

const (
	Allow            Outcome = "ALLOW"
	Deny             Outcome = "DENY"
	RequireApproval  Outcome = "REQUIRE_APPROVAL"
	StepUp           Outcome = "STEP_UP"
	RequireTicket    Outcome = "REQUIRE_TICKET"
	RequireHuman     Outcome = "REQUIRE_HUMAN"
)

// Event outcomes extend Outcome with resolution/lifecycle states that never
// appear as a PolicyRule or PolicyBundle default outcome.
const (
	EventApproved    Outcome = "APPROVED"
	EventRejected    Outcome = "REJECTED"
	EventKillSwitch  Outcome = "KILL_SWITCH"
	EventRateLimited Outcome = "RATE_LIMITED"
	EventTimeout     Outcome = "TIMEOUT"
)

// Agent describes the calling agent.
type Agent struct {
	AgentID            string         `json:"agent_id"`
	Name               string         `json:"name"`
	Owner              string         `json:"owner"`
	Environment        string         `json:"environment"`
	AgentType          string         `json:"agent_type,omitempty"`
	TrustLevel         TrustLevel     `json:"trust_level,omitempty"`
	Roles              []string       `json:"roles,omitempty"`
	Capabilities       []string       `json:"capabilities,omitempty"`
	MaxDelegationDepth int            `json:"max_delegation_depth,omitempty"`
	Attestation        map[string]any `json:"attestation,omitempty"`
}

// Action describes the proposed tool invocation.
type Action struct {
	Type         string         `json:"type"`
	ToolName     string         `json:"tool_name"`
	ToolArgs     map[string]any `json:"tool_args"`
	ToolIdentity string         `json:"tool_identity,omitempty"`
	ToolProvider string         `json:"tool_provider,omitempty"`
}

// RequestContext carries request metadata used by text and label matchers.
// It is open for host-specific extension via Extra.
type RequestContext struct {
	UserInput       string         `json:"user_input,omitempty"`
	DataLabels      []string       `json:"data_labels,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	ParentAgentID   string         `json:"parent_agent_id,omitempty"`
	DelegationChain []string       `json:"delegation_chain,omitempty"`
	Extra           map[string]any `json:"-"`
}

// AgentActionRequest is the immutable input to a decision. Requests are
// never mutated after construction; plugins that need to alter the view
// seen by later pipeline phases build a copy (see pkg/engine).
type AgentActionRequest struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Agent     Agent          `json:"agent"`
	Action    Action         `json:"action"`
	Context   RequestContext `json:"context"`
}

// Validate rejects a request missing any of its required fields.
func (r *AgentActionRequest) Validate() error {
	if r.Action.ToolName == "" {
		return ErrEmptyToolName
	}
	if r.Agent.AgentID == "" {
		return ErrEmptyAgentID
	}
	if r.Agent.Environment == "" {
		return ErrEmptyEnvironment
	}
	return nil
}

// Clone returns a deep-enough copy of the request for copy-on-modify
// mutation by plugins in Phase 1 of the pipeline. Maps and slices are
// copied one level deep, which is sufficient since matchers never write
// back into nested containers.
func (r *AgentActionRequest) Clone() *AgentActionRequest {
	clone := *r
	clone.Agent.Roles = append([]string(nil), r.Agent.Roles...)
	clone.Agent.Capabilities = append([]string(nil), r.Agent.Capabilities...)
	clone.Action.ToolArgs = cloneMap(r.Action.ToolArgs)
	clone.Context.DataLabels = append([]string(nil), r.Context.DataLabels...)
	clone.Context.DelegationChain = append([]string(nil), r.Context.DelegationChain...)
	clone.Context.Extra = cloneMap(r.Context.Extra)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Reason is a single decision reason code and human-readable message.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decision is the engine's verdict for a single request.
type Decision struct {
	Outcome      Outcome        `json:"outcome"`
	Reasons      []Reason       `json:"reasons"`
	ApproverRole string         `json:"approver_role,omitempty"`
	Constraints  map[string]any `json:"constraints,omitempty"`
}

// Event is the audit record emitted for a decision (or a resolution
// outcome, or a plugin short-circuit).
type Event struct {
	EventID      string         `json:"event_id"`
	Timestamp    time.Time      `json:"timestamp"`
	RequestID    string         `json:"request_id"`
	AgentID      string         `json:"agent_id"`
	ToolName     string         `json:"tool_name"`
	Outcome      Outcome        `json:"outcome"`
	Reasons      []Reason       `json:"reasons"`
	SafePayload  SafePayload    `json:"safe_payload"`
	PluginSource string         `json:"plugin_source,omitempty"`
}

// SafePayload is the redacted summary carried by an Event. It must never
// include tool_args, user_input, or any other free-form content.
type SafePayload struct {
	AgentID     string  `json:"agent_id"`
	ToolName    string  `json:"tool_name"`
	Environment string  `json:"environment"`
	Outcome     Outcome `json:"outcome"`
}

// Match is a PolicyRule's match clause.
type Match struct {
	ToolName      StringOrList `json:"tool_name"`
	Environment   string       `json:"environment"`
	AgentType     StringOrList `json:"agent_type,omitempty"`
	TrustLevelMin TrustLevel   `json:"trust_level_min,omitempty"`
	AgentRolesAny []string     `json:"agent_roles_any,omitempty"`
	ToolProvider  StringOrList `json:"tool_provider,omitempty"`
}

// When is a PolicyRule's optional guarded predicate clause.
type When struct {
	ContainsAny   []string       `json:"contains_any,omitempty"`
	NotContains   []string       `json:"not_contains,omitempty"`
	MatchesRegex  string         `json:"matches_regex,omitempty"`
	DataLabelsAny []string       `json:"data_labels_any,omitempty"`
	ToolArgsMatch map[string]any `json:"tool_args_match,omitempty"`
}

// PolicyRule is a single rule in a bundle's ordered rule sequence.
type PolicyRule struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	Match        Match          `json:"match"`
	When         *When          `json:"when,omitempty"`
	Outcome      Outcome        `json:"outcome"`
	ApproverRole string         `json:"approver_role,omitempty"`
	Constraints  map[string]any `json:"constraints,omitempty"`
}

// Defaults holds the bundle-wide fallback outcome.
type Defaults struct {
	Outcome Outcome `json:"outcome"`
}

// PolicyBundle is a validated, optionally signed policy artifact. Once
// accepted by the loader it is treated as frozen; callers that need to
// change it build a new bundle via the loader rather than mutating one in
// place (see pkg/engine.Engine.ReloadPolicy).
type PolicyBundle struct {
	Version     string       `json:"version"`
	GeneratedAt time.Time    `json:"generated_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Rules       []PolicyRule `json:"rules"`
	Defaults    Defaults     `json:"defaults"`
	Signature   string       `json:"signature,omitempty"`
}

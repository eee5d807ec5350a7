package engine

import (
	"context"

	"github.com/agentguard/agentguard/pkg/event"
	"github.com/agentguard/agentguard/pkg/schema"
)

// Reason codes for Phase 4 resolution outcomes.
const (
	reasonApproved         = "APPROVED"
	reasonRejected         = "REJECTED"
	reasonStepUpPassed     = "STEP_UP_PASSED"
	reasonStepUpFailed     = "STEP_UP_FAILED"
	reasonTicketValidated  = "TICKET_VALIDATED"
	reasonTicketMissing    = "TICKET_MISSING"
	reasonHumanApproved    = "HUMAN_APPROVED"
	reasonHumanRejected    = "HUMAN_REJECTED"
	reasonApprovalTimeout  = "APPROVAL_TIMEOUT"
	reasonStepUpError      = "STEP_UP_ERROR"
	reasonTicketError      = "TICKET_ERROR"
	reasonHumanReviewError = "HUMAN_REVIEW_ERROR"
)

// resolve runs Phase 4: dispatch on decision.Outcome, invoking the
// matching resolution callback (bounded by the approval timeout) when
// one is required. It returns whether the request is ultimately allowed.
func (e *Engine) resolve(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) bool {
	switch decision.Outcome {
	case schema.Allow:
		if e.callbacks.OnAllow != nil {
			e.callbacks.OnAllow(req, decision)
		}
		return true

	case schema.Deny:
		if e.callbacks.OnDeny != nil {
			e.callbacks.OnDeny(req, decision)
		}
		return false

	case schema.RequireApproval:
		return e.resolveBoolCallback(ctx, req, decision, e.callbacks.OnApprovalRequired,
			reasonApproved, reasonRejected, reasonApprovalTimeout, "on_approval_required")

	case schema.StepUp:
		return e.resolveBoolCallback(ctx, req, decision, e.callbacks.OnStepUpRequired,
			reasonStepUpPassed, reasonStepUpFailed, reasonStepUpError, "on_step_up_required")

	case schema.RequireHuman:
		return e.resolveBoolCallback(ctx, req, decision, e.callbacks.OnHumanRequired,
			reasonHumanApproved, reasonHumanRejected, reasonHumanReviewError, "on_human_required")

	case schema.RequireTicket:
		return e.resolveTicketCallback(ctx, req, decision)

	default:
		// An outcome outside the closed set falls through to deny, same
		// as an unconfigured resolution callback.
		if e.callbacks.OnDeny != nil {
			e.callbacks.OnDeny(req, decision)
		}
		return false
	}
}

func (e *Engine) resolveBoolCallback(
	ctx context.Context,
	req *schema.AgentActionRequest,
	decision *schema.Decision,
	callback func(context.Context, *schema.AgentActionRequest, *schema.Decision) (bool, error),
	passedReason, failedReason, errorReason, callbackName string,
) bool {
	if callback == nil {
		if e.callbacks.OnDeny != nil {
			e.callbacks.OnDeny(req, decision)
		}
		return false
	}

	ok, err := callWithTimeout(ctx, e.approvalTimeout, func(cctx context.Context) (bool, error) {
		return callback(cctx, req, decision)
	})
	if err != nil {
		e.reportError(err, callbackName)
		e.recordEvent(event.Build(req, &schema.Decision{Outcome: schema.Deny, Reasons: []schema.Reason{{Code: errorReason, Message: err.Error()}}}, ""))
		return false
	}

	if ok {
		e.recordEvent(event.Build(req, &schema.Decision{Outcome: schema.Allow, Reasons: []schema.Reason{{Code: passedReason}}}, ""))
		return true
	}
	e.recordEvent(event.Build(req, &schema.Decision{Outcome: schema.Deny, Reasons: []schema.Reason{{Code: failedReason}}}, ""))
	return false
}

func (e *Engine) resolveTicketCallback(ctx context.Context, req *schema.AgentActionRequest, decision *schema.Decision) bool {
	if e.callbacks.OnTicketRequired == nil {
		if e.callbacks.OnDeny != nil {
			e.callbacks.OnDeny(req, decision)
		}
		return false
	}

	ticketID, err := callWithTimeout(ctx, e.approvalTimeout, func(cctx context.Context) (string, error) {
		return e.callbacks.OnTicketRequired(cctx, req, decision)
	})
	if err != nil {
		e.reportError(err, "on_ticket_required")
		e.recordEvent(event.Build(req, &schema.Decision{Outcome: schema.Deny, Reasons: []schema.Reason{{Code: reasonTicketError, Message: err.Error()}}}, ""))
		return false
	}
	if ticketID == "" {
		e.recordEvent(event.Build(req, &schema.Decision{Outcome: schema.Deny, Reasons: []schema.Reason{{Code: reasonTicketMissing}}}, ""))
		return false
	}
	e.recordEvent(event.Build(req, &schema.Decision{Outcome: schema.Allow, Reasons: []schema.Reason{{Code: reasonTicketValidated, Message: ticketID}}}, ""))
	return true
}

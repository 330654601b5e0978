// Package llmresponder is the Coordinator's seam for the user-visible reply
// text. Responder is implemented by whatever natural-language generator a
// deployment wires in; TemplateResponder is the deterministic default that
// needs no real LLM.
package llmresponder

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/intent"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

// Request is everything the Coordinator assembles for one reply: the system
// prompt, recent messages, intent, and the next-action tag.
type Request struct {
	SystemPrompt   string
	RecentMessages []session.Message
	Text           string
	Intent         intent.Intent
	Confidence     float64
	Action         convstate.Action
	ActionMessage  string
}

// Responder produces the user-visible reply text for one Coordinator turn.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// TemplateResponder renders a canned, next_action-keyed response. It never
// errors and needs no external service, so the orchestrator is runnable and
// testable end to end without a real LLM wired in.
type TemplateResponder struct{}

// NewTemplateResponder creates the default Responder.
func NewTemplateResponder() *TemplateResponder {
	return &TemplateResponder{}
}

// Respond implements Responder. Most actions reply with the State Tracker's
// next_action message as is; the workflow actions reply with fixed text
// instead, and the modification reply quotes the user's text back.
func (r *TemplateResponder) Respond(_ context.Context, req Request) (string, error) {
	switch req.Action {
	case convstate.ActionReplyGreeting:
		return req.ActionMessage, nil
	case convstate.ActionStartGathering, convstate.ActionGatherOrConfirm:
		return req.ActionMessage, nil
	case convstate.ActionStartProcessing:
		return req.ActionMessage, nil
	case convstate.ActionRunCreation:
		return "Got it — I'm generating your project now. I'll keep you posted on progress.", nil
	case convstate.ActionRunModification, convstate.ActionResumeModification:
		return fmt.Sprintf("Applying your change: %q. I'll let you know when it's done.", req.Text), nil
	case convstate.ActionReplyAwaiting:
		return req.ActionMessage, nil
	case convstate.ActionReset:
		return req.ActionMessage, nil
	default:
		return req.ActionMessage, nil
	}
}

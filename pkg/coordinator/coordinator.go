// Package coordinator implements the top-level per-message routine: classify
// the inbound message, decide the next action, produce a reply, kick off any
// project workflow, and persist both conversation turns. Workflows run
// asynchronously; the caller is never blocked on their completion.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/intent"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/llmresponder"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/workflow"
)

const systemPrompt = "You are a conversational assistant that helps a user create and evolve a software project. " +
	"Be concise, confirm what you are about to do, and narrate lifecycle progress as it happens."

const recentHistoryForResponder = 10

// Events is the subset of the Event Bus producer the Coordinator needs.
type Events interface {
	EmitConversation(ctx context.Context, eventType, sessionID string, data map[string]any) error
}

// Coordinator runs the per-message routine.
type Coordinator struct {
	store      session.Store
	ctxMgr     *convcontext.Manager
	classifier *intent.Classifier
	tracker    *convstate.Tracker
	driver     *workflow.Driver
	responder  llmresponder.Responder
	events     Events
	logger     *slog.Logger
}

// New wires every dependency the Coordinator needs.
func New(
	store session.Store,
	ctxMgr *convcontext.Manager,
	classifier *intent.Classifier,
	tracker *convstate.Tracker,
	driver *workflow.Driver,
	responder llmresponder.Responder,
	events Events,
) *Coordinator {
	return &Coordinator{
		store:      store,
		ctxMgr:     ctxMgr,
		classifier: classifier,
		tracker:    tracker,
		driver:     driver,
		responder:  responder,
		events:     events,
		logger:     slog.Default().With("component", "coordinator"),
	}
}

// Response is the per-turn output shape.
type Response struct {
	Response  string            `json:"response"`
	SessionID string            `json:"session_id"`
	Intent    intent.Intent     `json:"intent"`
	StateInfo convstate.Summary `json:"state_info"`
	Timestamp time.Time         `json:"timestamp"`
}

// Handle runs the full routine for one inbound message. On a cancelled
// context it rolls back the user message it already appended rather than
// leave the session with a user turn and no matching assistant turn.
func (c *Coordinator) Handle(ctx context.Context, sessionID, text string, contextPatch map[string]any) (*Response, error) {
	// Step 1: load-or-create.
	if _, err := c.store.Create(ctx, sessionID); err != nil {
		return nil, err
	}

	// Step 2: append user message.
	userMsg := session.Message{
		ID:        uuid.NewString(),
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
		Metadata:  contextPatch,
	}
	if _, err := c.store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		return nil, err
	}

	resp, err := c.respond(ctx, sessionID, text)
	if err != nil {
		if ctx.Err() != nil {
			c.rollbackMessage(context.Background(), sessionID, userMsg.ID)
		}
		return nil, err
	}
	return resp, nil
}

// respond runs steps 3-11 once the user message is durable.
func (c *Coordinator) respond(ctx context.Context, sessionID, text string) (*Response, error) {
	// Step 3: emit conversation.message.received.
	if err := c.events.EmitConversation(ctx, "conversation.message.received", sessionID, map[string]any{"text": text}); err != nil {
		c.logger.Warn("emit message.received failed", "error", err)
	}

	// Step 4: classify.
	result, err := c.classifier.Classify(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}

	// Step 5: current conversation state.
	current, err := c.tracker.ConversationState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Step 6: next action.
	next, err := c.tracker.NextAction(ctx, sessionID, result.Intent)
	if err != nil {
		return nil, err
	}

	// Step 7: produce the response text via the Responder seam.
	history, err := c.store.History(ctx, sessionID, recentHistoryForResponder)
	if err != nil {
		return nil, err
	}
	responseText, err := c.responder.Respond(ctx, llmresponder.Request{
		SystemPrompt:   systemPrompt,
		RecentMessages: history,
		Text:           text,
		Intent:         result.Intent,
		Confidence:     result.Confidence,
		Action:         next.Action,
		ActionMessage:  next.Message,
	})
	if err != nil {
		return nil, err
	}

	// Step 8: kick off a workflow if next.action calls for one. Uses a
	// detached context — the driver continues independently of this call.
	c.maybeKickoffWorkflow(sessionID, text, next)

	// Step 9: append assistant message.
	assistantMsg := session.Message{
		ID:        uuid.NewString(),
		Role:      session.RoleAssistant,
		Content:   responseText,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"intent":     string(result.Intent),
			"confidence": result.Confidence,
			"action":     string(next.Action),
		},
	}
	if _, err := c.store.AppendMessage(ctx, sessionID, assistantMsg); err != nil {
		return nil, err
	}

	// Step 10: transition state if needed; a rejected transition is logged,
	// not fatal.
	if next.NextState != current {
		ok, err := c.tracker.TransitionConversation(ctx, sessionID, next.NextState)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.logger.Warn("rejected conversation state transition", "session", sessionID, "from", current, "to", next.NextState)
		}
	}

	// Step 11: emit conversation.response.generated.
	if err := c.events.EmitConversation(ctx, "conversation.response.generated", sessionID, map[string]any{"response": responseText}); err != nil {
		c.logger.Warn("emit response.generated failed", "error", err)
	}

	summary, err := c.tracker.Summary(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Response{
		Response:  responseText,
		SessionID: sessionID,
		Intent:    result.Intent,
		StateInfo: summary,
		Timestamp: time.Now().UTC(),
	}, nil
}

// rollbackMessage removes msgID from sessionID's message list. Used only to
// undo the user append when the call was cancelled before an assistant reply
// could be produced, so a user message is never left orphaned without its
// assistant counterpart.
func (c *Coordinator) rollbackMessage(ctx context.Context, sessionID, msgID string) {
	_, err := c.store.UpdateContext(ctx, sessionID, func(s *session.Session) {
		kept := s.Messages[:0]
		for _, m := range s.Messages {
			if m.ID != msgID {
				kept = append(kept, m)
			}
		}
		s.Messages = kept
	})
	if err != nil {
		c.logger.Error("rollback user message failed", "session", sessionID, "error", err)
	}
}

// maybeKickoffWorkflow invokes the Workflow Driver asynchronously when
// next.Action calls for it. For start_processing, creation vs. modification
// is decided by whether the session's ProjectContext already has a project
// id; a ProjectContext without one still gets the creation workflow.
func (c *Coordinator) maybeKickoffWorkflow(sessionID, text string, next convstate.NextAction) {
	switch next.Action {
	case convstate.ActionStartProcessing:
		go func() {
			ctx := context.Background()
			pc, err := c.ctxMgr.ProjectContext(ctx, sessionID)
			if err != nil {
				c.logger.Error("workflow kickoff: load project context failed", "session", sessionID, "error", err)
				return
			}
			if pc != nil && pc.ProjectID != "" {
				if _, err := c.driver.RunModification(ctx, sessionID, text); err != nil {
					c.logger.Error("modification workflow failed", "session", sessionID, "error", err)
				}
				return
			}
			if err := c.driver.RunCreation(ctx, sessionID); err != nil {
				c.logger.Error("creation workflow failed", "session", sessionID, "error", err)
			}
		}()

	case convstate.ActionRunCreation:
		go func() {
			if err := c.driver.RunCreation(context.Background(), sessionID); err != nil {
				c.logger.Error("creation workflow failed", "session", sessionID, "error", err)
			}
		}()

	case convstate.ActionRunModification:
		go func() {
			if _, err := c.driver.RunModification(context.Background(), sessionID, text); err != nil {
				c.logger.Error("modification workflow failed", "session", sessionID, "error", err)
			}
		}()

	case convstate.ActionResumeModification:
		go func() {
			if _, err := c.driver.ResumeModification(context.Background(), sessionID); err != nil {
				c.logger.Error("resume modification workflow failed", "session", sessionID, "error", err)
			}
		}()
	}
}

// HandleChat satisfies pkg/wshub.ChatHandler.
func (c *Coordinator) HandleChat(ctx context.Context, sessionID, text string, contextPatch map[string]any) (map[string]any, error) {
	resp, err := c.Handle(ctx, sessionID, text, contextPatch)
	if err != nil {
		return nil, err
	}
	return toMap(resp), nil
}

// Stats satisfies pkg/wshub.StatsHandler ({type: get_status}).
func (c *Coordinator) Stats(ctx context.Context, sessionID string) (map[string]any, error) {
	summary, err := c.tracker.Summary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id":         sessionID,
		"conversation_state": summary.ConversationState,
		"project_state":      summary.ProjectState,
		"message_count":      summary.MessageCount,
	}, nil
}

func toMap(r *Response) map[string]any {
	return map[string]any{
		"response":   r.Response,
		"session_id": r.SessionID,
		"intent":     r.Intent,
		"state_info": r.StateInfo,
		"timestamp":  r.Timestamp,
	}
}

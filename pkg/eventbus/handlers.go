package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

// Pusher is the subset of the WebSocket Hub the core handlers need — pushing
// a framed payload to every connection of one session. Defined here,
// satisfied structurally by pkg/wshub.Hub, so this package has no dependency
// on the WebSocket transport.
type Pusher interface {
	SendToSession(ctx context.Context, sessionID string, payload map[string]any) error
}

// CoreHandlers implements the handlers the core registers with the Event Bus
// consumer.
type CoreHandlers struct {
	store   session.Store
	ctxMgr  *convcontext.Manager
	tracker *convstate.Tracker
	push    Pusher
	logger  *slog.Logger
}

// NewCoreHandlers wires the core handlers to their dependencies.
func NewCoreHandlers(store session.Store, ctxMgr *convcontext.Manager, tracker *convstate.Tracker, push Pusher) *CoreHandlers {
	return &CoreHandlers{
		store:   store,
		ctxMgr:  ctxMgr,
		tracker: tracker,
		push:    push,
		logger:  slog.Default().With("component", "eventbus-handlers"),
	}
}

// Register attaches every core handler to c.
func (h *CoreHandlers) Register(c *Consumer) {
	c.Register("project.updated", h.handleProjectUpdated)
	c.Register("project.generation.complete", h.handleGenerationComplete)
	c.Register("validation.complete", h.handleValidationComplete)
	c.Register("error", h.handleError)
	c.Register("progress.update", h.handleProgress)
	c.Register("external.update", h.handleExternalUpdate)
	c.Register("*", h.handleWildcard)
}

func sessionIDOf(ev Event) string {
	sid, _ := ev.Data["sessionId"].(string)
	return sid
}

func (h *CoreHandlers) handleProjectUpdated(ctx context.Context, ev Event) error {
	sessionID := sessionIDOf(ev)
	if sessionID == "" {
		return fmt.Errorf("project.updated event missing sessionId")
	}

	current, err := h.tracker.ProjectState(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := h.ctxMgr.UpdateProjectState(ctx, sessionID, current, ev.Data); err != nil {
		return err
	}
	return h.push.SendToSession(ctx, sessionID, map[string]any{"type": "project_update", "data": ev.Data})
}

func (h *CoreHandlers) handleGenerationComplete(ctx context.Context, ev Event) error {
	sessionID := sessionIDOf(ev)
	if sessionID == "" {
		return fmt.Errorf("project.generation.complete event missing sessionId")
	}

	target := session.ProjectCompleted
	if status, _ := ev.Data["status"].(string); status == "failed" {
		target = session.ProjectFailed
	}
	ok, err := h.tracker.UpdateProject(ctx, sessionID, target, nil)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Warn("rejected project.generation.complete transition", "session", sessionID, "target", target)
	}
	return h.push.SendToSession(ctx, sessionID, map[string]any{"type": "generation_complete", "data": ev.Data})
}

func (h *CoreHandlers) handleValidationComplete(ctx context.Context, ev Event) error {
	sessionID := sessionIDOf(ev)
	if sessionID == "" {
		return fmt.Errorf("validation.complete event missing sessionId")
	}

	_, err := h.store.UpdateContext(ctx, sessionID, func(s *session.Session) {
		if s.Project == nil {
			s.Project = &session.ProjectContext{CurrentState: map[string]any{}, Requirements: map[string]any{}}
		}
		s.Project.LastValidation = ev.Data
	})
	if err != nil {
		return err
	}

	if issues, ok := ev.Data["issues"].([]any); ok && len(issues) > 0 {
		return h.push.SendToSession(ctx, sessionID, map[string]any{"type": "validation_issues", "data": ev.Data})
	}
	return nil
}

func (h *CoreHandlers) handleError(ctx context.Context, ev Event) error {
	sessionID := sessionIDOf(ev)
	if sessionID == "" {
		return fmt.Errorf("error event missing sessionId")
	}

	message, _ := ev.Data["message"].(string)
	_, err := h.store.AppendMessage(ctx, sessionID, session.Message{
		ID:        fmt.Sprintf("sys-%d", ev.Timestamp.UnixNano()),
		Role:      session.RoleSystem,
		Content:   message,
		Timestamp: ev.Timestamp,
		Metadata:  ev.Data,
	})
	if err != nil {
		return err
	}
	return h.push.SendToSession(ctx, sessionID, map[string]any{"type": "error", "data": ev.Data})
}

func (h *CoreHandlers) handleProgress(ctx context.Context, ev Event) error {
	sessionID := sessionIDOf(ev)
	if sessionID == "" {
		return fmt.Errorf("progress.update event missing sessionId")
	}
	return h.push.SendToSession(ctx, sessionID, map[string]any{"type": "progress", "data": ev.Data})
}

func (h *CoreHandlers) handleExternalUpdate(ctx context.Context, ev Event) error {
	sessionID := sessionIDOf(ev)
	if sessionID == "" {
		return fmt.Errorf("external.update event missing sessionId")
	}
	return h.push.SendToSession(ctx, sessionID, map[string]any{"type": "external_update", "data": ev.Data})
}

func (h *CoreHandlers) handleWildcard(_ context.Context, ev Event) error {
	h.logger.Debug("event received", "type", ev.Type, "source", ev.Source)
	return nil
}

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

type fakePusher struct {
	pushes []map[string]any
}

func (f *fakePusher) SendToSession(ctx context.Context, sessionID string, payload map[string]any) error {
	f.pushes = append(f.pushes, payload)
	return nil
}

func newTestHandlers(t *testing.T) (*CoreHandlers, session.Store, *fakePusher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStore(client, 24*time.Hour)
	ctxMgr := convcontext.NewManager(store)
	tracker := convstate.NewTracker(store)
	push := &fakePusher{}
	return NewCoreHandlers(store, ctxMgr, tracker, push), store, push
}

func TestHandleProjectUpdated_PatchesContext(t *testing.T) {
	h, store, push := newTestHandlers(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.Project = &session.ProjectContext{ProjectID: "p1", CurrentState: map[string]any{}}
	})
	require.NoError(t, err)

	err = h.handleProjectUpdated(ctx, Event{Type: "project.updated", Data: map[string]any{"sessionId": "s1", "step": "backend_generated"}})
	require.NoError(t, err)

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "backend_generated", sess.Project.CurrentState["step"])
	require.Len(t, push.pushes, 1)
	require.Equal(t, "project_update", push.pushes[0]["type"])
}

func TestHandleGenerationComplete_SetsCompleted(t *testing.T) {
	h, store, push := newTestHandlers(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.Project = &session.ProjectContext{ProjectID: "p1", State: session.ProjectInProgress}
	})
	require.NoError(t, err)

	err = h.handleGenerationComplete(ctx, Event{Type: "project.generation.complete", Data: map[string]any{"sessionId": "s1", "status": "success"}})
	require.NoError(t, err)

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.ProjectCompleted, sess.Project.State)
	require.Len(t, push.pushes, 1)
	require.Equal(t, "generation_complete", push.pushes[0]["type"])
}

func TestHandleGenerationComplete_SetsFailed(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.Project = &session.ProjectContext{ProjectID: "p1", State: session.ProjectInProgress}
	})
	require.NoError(t, err)

	err = h.handleGenerationComplete(ctx, Event{Type: "project.generation.complete", Data: map[string]any{"sessionId": "s1", "status": "failed"}})
	require.NoError(t, err)

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.ProjectFailed, sess.Project.State)
}

func TestHandleValidationComplete_PushesOnlyWithIssues(t *testing.T) {
	h, store, push := newTestHandlers(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	err = h.handleValidationComplete(ctx, Event{Type: "validation.complete", Data: map[string]any{"sessionId": "s1", "status": "ok"}})
	require.NoError(t, err)
	require.Empty(t, push.pushes)

	err = h.handleValidationComplete(ctx, Event{Type: "validation.complete", Data: map[string]any{"sessionId": "s1", "issues": []any{"missing env var"}}})
	require.NoError(t, err)
	require.Len(t, push.pushes, 1)
	require.Equal(t, "validation_issues", push.pushes[0]["type"])

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, sess.Project.LastValidation)
}

func TestHandleError_AppendsSystemMessage(t *testing.T) {
	h, store, push := newTestHandlers(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	err = h.handleError(ctx, Event{Type: "error", Timestamp: time.Now(), Data: map[string]any{"sessionId": "s1", "message": "mcp unreachable"}})
	require.NoError(t, err)

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sess.Messages, 1)
	require.Equal(t, session.RoleSystem, sess.Messages[0].Role)
	require.Equal(t, "mcp unreachable", sess.Messages[0].Content)
	require.Len(t, push.pushes, 1)
}

func TestHandleWildcard_NeverErrors(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	err := h.handleWildcard(context.Background(), Event{Type: "whatever"})
	require.NoError(t, err)
}

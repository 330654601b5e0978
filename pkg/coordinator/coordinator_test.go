package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/intent"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/llmresponder"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/mcpclient"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/workflow"
)

// recordingEvents is a minimal Events double recording every emitted type.
type recordingEvents struct {
	mu      sync.Mutex
	emitted []string
}

func (r *recordingEvents) EmitConversation(ctx context.Context, eventType, sessionID string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, eventType)
	return nil
}

func (r *recordingEvents) EmitProgress(ctx context.Context, sessionID, projectID string, progress float64, message string) error {
	return nil
}

func (r *recordingEvents) Emit(ctx context.Context, eventType, sessionID, projectID string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, eventType)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.emitted...)
}

// mcpHandler builds a fake MCP server dispatching by operation path.
func mcpHandler(t *testing.T, responses map[string]any) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, ok := responses[r.URL.Path]
		require.True(t, ok, "unexpected mcp call: %s", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
}

func newTestCoordinator(t *testing.T, mcpURL string) (*Coordinator, session.Store, *recordingEvents) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStore(client, 24*time.Hour)
	ctxMgr := convcontext.NewManager(store)
	classifier := intent.NewClassifier(store, ctxMgr)
	tracker := convstate.NewTracker(store)
	mcp := mcpclient.New(mcpURL, 2*time.Second)
	events := &recordingEvents{}
	driver := workflow.NewDriver(mcp, tracker, ctxMgr, events)
	responder := llmresponder.NewTemplateResponder()
	coord := New(store, ctxMgr, classifier, tracker, driver, responder, events)
	return coord, store, events
}

func TestHandle_GreetingStaysInitial(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t, nil))
	defer srv.Close()
	coord, store, events := newTestCoordinator(t, srv.URL)
	ctx := context.Background()

	resp, err := coord.Handle(ctx, "s1", "hello there", nil)
	require.NoError(t, err)
	require.Equal(t, intent.IntentGreeting, resp.Intent)
	require.Equal(t, session.StateInitial, resp.StateInfo.ConversationState)
	require.Contains(t, resp.Response, "How can I help")

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	require.Equal(t, session.RoleUser, sess.Messages[0].Role)
	require.Equal(t, session.RoleAssistant, sess.Messages[1].Role)

	require.Contains(t, events.types(), "conversation.message.received")
	require.Contains(t, events.types(), "conversation.response.generated")
}

func TestHandle_ProjectCreateStartsGathering(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t, nil))
	defer srv.Close()
	coord, store, _ := newTestCoordinator(t, srv.URL)
	ctx := context.Background()

	resp, err := coord.Handle(ctx, "s1", "I want to build a new web app", nil)
	require.NoError(t, err)
	require.Equal(t, intent.IntentProjectCreate, resp.Intent)
	require.Equal(t, session.StateGatheringRequirements, resp.StateInfo.ConversationState)

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.StateGatheringRequirements, sess.State)
}

func TestHandle_ConfirmingDetailsKicksOffCreationWorkflow(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t, map[string]any{
		"/v1/generate-project-structure": mcpclient.StructureResult{ProjectID: "proj-1"},
		"/v1/setup-infrastructure":       map[string]any{"ok": true},
		"/v1/validate-consistency":       mcpclient.ValidationResult{Status: "ok"},
	}))
	defer srv.Close()
	coord, store, _ := newTestCoordinator(t, srv.URL)
	ctx := context.Background()

	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.State = session.StateConfirmingDetails
		s.Project = &session.ProjectContext{
			ProjectType:  "cli",
			Requirements: map[string]any{"needs_backend": false, "needs_frontend": false, "language": "go"},
		}
	})
	require.NoError(t, err)

	resp, err := coord.Handle(ctx, "s1", "yes, go ahead and create a new app", nil)
	require.NoError(t, err)
	require.Equal(t, session.StateProcessing, resp.StateInfo.ConversationState)

	require.Eventually(t, func() bool {
		sess, ok, err := store.Get(ctx, "s1")
		return err == nil && ok && sess.State == session.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	sess, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.ProjectCompleted, sess.Project.State)
	require.Equal(t, "proj-1", sess.Project.ProjectID)
}

func TestHandle_ModifyHighRiskEndsInAwaitingFeedback(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t, map[string]any{
		"/v1/analyze-change-impact": mcpclient.ImpactAnalysis{
			AffectedComponents: []string{"database"},
			RiskLevel:          "high",
		},
	}))
	defer srv.Close()
	coord, store, _ := newTestCoordinator(t, srv.URL)
	ctx := context.Background()

	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.State = session.StateConfirmingDetails
		s.Project = &session.ProjectContext{
			ProjectID: "proj-1",
			State:     session.ProjectCompleted,
		}
	})
	require.NoError(t, err)

	_, err = coord.Handle(ctx, "s1", "please change the database to mongo", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sess, ok, err := store.Get(ctx, "s1")
		return err == nil && ok && sess.State == session.StateAwaitingFeedback
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandle_NeverOrphansUserMessageOnCancellation(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t, nil))
	defer srv.Close()
	coord, store, _ := newTestCoordinator(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before the call begins

	_, err := coord.Handle(ctx, "s1", "hello", nil)
	require.Error(t, err)

	sess, ok, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	if ok {
		// Either no messages were recorded, or both turns were.
		require.NotEqual(t, 1, len(sess.Messages))
	}
}

func TestStats_ReportsSummary(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t, nil))
	defer srv.Close()
	coord, _, _ := newTestCoordinator(t, srv.URL)
	ctx := context.Background()

	_, err := coord.Handle(ctx, "s1", "hello", nil)
	require.NoError(t, err)

	stats, err := coord.Stats(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, session.StateInitial, stats["conversation_state"])
	require.Equal(t, 2, stats["message_count"])
}

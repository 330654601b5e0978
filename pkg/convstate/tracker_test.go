package convstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/intent"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

func newTestTracker(t *testing.T) (*Tracker, session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStore(client, 24*time.Hour)
	return NewTracker(store), store
}

var allConversationStates = []session.ConversationState{
	session.StateInitial,
	session.StateGatheringRequirements,
	session.StateConfirmingDetails,
	session.StateProcessing,
	session.StateAwaitingFeedback,
	session.StateCompleted,
	session.StateError,
}

// The transition table is closed — every (from, to) pair not
// explicitly listed is rejected and leaves the stored state unchanged.
func TestTransitionConversation_TableClosure(t *testing.T) {
	ctx := context.Background()

	for _, from := range allConversationStates {
		for _, to := range allConversationStates {
			tr, store := newTestTracker(t)
			_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
				s.State = from
			})
			require.NoError(t, err)

			ok, err := tr.TransitionConversation(ctx, "s1", to)
			require.NoError(t, err)

			allowed := conversationEdges[from][to]
			require.Equal(t, allowed, ok, "from=%s to=%s", from, to)

			current, err := tr.ConversationState(ctx, "s1")
			require.NoError(t, err)
			if allowed {
				require.Equal(t, to, current)
			} else {
				require.Equal(t, from, current)
			}
		}
	}
}

func TestTransitionConversation_ValidEdge(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	ok, err := tr.TransitionConversation(ctx, "s1", session.StateGatheringRequirements)
	require.NoError(t, err)
	require.True(t, ok)

	state, err := tr.ConversationState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, session.StateGatheringRequirements, state)
}

// Once completed or failed, only modifying is a valid target.
func TestUpdateProject_MonotonicLifecycle(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.Project = &session.ProjectContext{ProjectID: "p1", State: session.ProjectCompleted}
	})
	require.NoError(t, err)

	ok, err := tr.UpdateProject(ctx, "s1", session.ProjectInProgress, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = tr.UpdateProject(ctx, "s1", session.ProjectModifying, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestShouldGatherMore_NoProject(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	more, err := tr.ShouldGatherMore(ctx, "s1")
	require.NoError(t, err)
	require.True(t, more)
}

func TestShouldGatherMore_InsufficientRequirements(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.Project = &session.ProjectContext{
			ProjectType:  "web_app",
			CurrentState: map[string]any{"step": "planning"},
			Requirements: map[string]any{"language": "go"},
		}
	})
	require.NoError(t, err)

	more, err := tr.ShouldGatherMore(ctx, "s1")
	require.NoError(t, err)
	require.True(t, more)
}

func TestShouldGatherMore_Satisfied(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.Project = &session.ProjectContext{
			ProjectType:  "web_app",
			CurrentState: map[string]any{"step": "planning"},
			Requirements: map[string]any{"language": "go", "db": "postgres", "auth": "oidc"},
		}
	})
	require.NoError(t, err)

	more, err := tr.ShouldGatherMore(ctx, "s1")
	require.NoError(t, err)
	require.False(t, more)
}

// A greeting on a brand-new session stays in initial.
func TestNextAction_GreetingStaysInitial(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	na, err := tr.NextAction(ctx, "s1", intent.IntentGreeting)
	require.NoError(t, err)
	require.Equal(t, ActionReplyGreeting, na.Action)
	require.Equal(t, session.StateInitial, na.NextState)
}

// A create request on a new session moves to gathering.
func TestNextAction_CreateStartsGathering(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	na, err := tr.NextAction(ctx, "s1", intent.IntentProjectCreate)
	require.NoError(t, err)
	require.Equal(t, ActionStartGathering, na.Action)
	require.Equal(t, session.StateGatheringRequirements, na.NextState)
}

func TestNextAction_GatheringMovesToConfirmingWhenSatisfied(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.State = session.StateGatheringRequirements
		s.Project = &session.ProjectContext{
			ProjectType:  "web_app",
			CurrentState: map[string]any{"step": "planning"},
			Requirements: map[string]any{"language": "go", "db": "postgres", "auth": "oidc"},
		}
	})
	require.NoError(t, err)

	na, err := tr.NextAction(ctx, "s1", intent.IntentProjectInfo)
	require.NoError(t, err)
	require.Equal(t, ActionGatherOrConfirm, na.Action)
	require.Equal(t, session.StateConfirmingDetails, na.NextState)
}

// awaiting_feedback + project_modify resumes the pending modification.
func TestNextAction_AwaitingFeedbackResumesOnModify(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.State = session.StateAwaitingFeedback
	})
	require.NoError(t, err)

	na, err := tr.NextAction(ctx, "s1", intent.IntentProjectModify)
	require.NoError(t, err)
	require.Equal(t, ActionResumeModification, na.Action)
	require.Equal(t, session.StateProcessing, na.NextState)
}

func TestNextAction_AwaitingFeedbackHoldsOnOtherIntent(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.State = session.StateAwaitingFeedback
	})
	require.NoError(t, err)

	na, err := tr.NextAction(ctx, "s1", intent.IntentGeneralQuery)
	require.NoError(t, err)
	require.Equal(t, ActionReplyAwaiting, na.Action)
	require.Equal(t, session.StateAwaitingFeedback, na.NextState)
}

func TestNextAction_ErrorResets(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.UpdateContext(ctx, "s1", func(s *session.Session) {
		s.State = session.StateError
	})
	require.NoError(t, err)

	na, err := tr.NextAction(ctx, "s1", intent.IntentUnknown)
	require.NoError(t, err)
	require.Equal(t, ActionReset, na.Action)
	require.Equal(t, session.StateInitial, na.NextState)
}

func TestSummary_NewSession(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	sum, err := tr.Summary(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, session.StateInitial, sum.ConversationState)
	require.Equal(t, session.ProjectNotStarted, sum.ProjectState)
	require.Equal(t, 0, sum.MessageCount)
}

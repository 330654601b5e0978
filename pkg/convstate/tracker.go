// Package convstate enforces the two state machines attached to a session:
// the conversation-state machine and the project-state machine. Each is a
// closed table of valid edges, checked before every status write, plus the
// next-action decision table that drives the Coordinator.
package convstate

import (
	"context"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/intent"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

// conversationEdges is the valid-transition table for conversation states.
// Any transition not listed here is rejected.
var conversationEdges = map[session.ConversationState]map[session.ConversationState]bool{
	session.StateInitial: set(
		session.StateGatheringRequirements,
		session.StateConfirmingDetails,
		session.StateError,
	),
	session.StateGatheringRequirements: set(
		session.StateGatheringRequirements,
		session.StateConfirmingDetails,
		session.StateError,
	),
	session.StateConfirmingDetails: set(
		session.StateProcessing,
		session.StateGatheringRequirements,
		session.StateError,
	),
	session.StateProcessing: set(
		session.StateAwaitingFeedback,
		session.StateCompleted,
		session.StateError,
	),
	session.StateAwaitingFeedback: set(
		session.StateProcessing,
		session.StateCompleted,
		session.StateGatheringRequirements,
		session.StateError,
	),
	session.StateCompleted: set(
		session.StateGatheringRequirements,
		session.StateInitial,
	),
	session.StateError: set(
		session.StateInitial,
		session.StateGatheringRequirements,
	),
}

// projectEdges is the valid-transition table for project states: once
// completed or failed, only a new modification request may move a project to
// modifying.
var projectEdges = map[session.ProjectState]map[session.ProjectState]bool{
	session.ProjectNotStarted: set2(session.ProjectPlanning),
	session.ProjectPlanning:   set2(session.ProjectInProgress, session.ProjectFailed),
	session.ProjectInProgress: set2(session.ProjectCompleted, session.ProjectFailed, session.ProjectModifying),
	session.ProjectModifying:  set2(session.ProjectCompleted, session.ProjectFailed),
	session.ProjectCompleted:  set2(session.ProjectModifying),
	session.ProjectFailed:     set2(session.ProjectModifying),
}

func set(states ...session.ConversationState) map[session.ConversationState]bool {
	m := make(map[session.ConversationState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

func set2(states ...session.ProjectState) map[session.ProjectState]bool {
	m := make(map[session.ProjectState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// minRequirementsKeys is the fewest Requirements keys ShouldGatherMore
// accepts before a project can proceed.
const minRequirementsKeys = 3

// Tracker enforces both state machines against the Session Store.
type Tracker struct {
	store session.Store
}

// NewTracker creates a Tracker over store.
func NewTracker(store session.Store) *Tracker {
	return &Tracker{store: store}
}

// ConversationState returns the session's current conversation state.
func (t *Tracker) ConversationState(ctx context.Context, sessionID string) (session.ConversationState, error) {
	sess, ok, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return session.StateInitial, nil
	}
	return sess.State, nil
}

// ProjectState returns the session's current project state, or
// not_started if no ProjectContext exists.
func (t *Tracker) ProjectState(ctx context.Context, sessionID string) (session.ProjectState, error) {
	sess, ok, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok || sess.Project == nil || sess.Project.State == "" {
		return session.ProjectNotStarted, nil
	}
	return sess.Project.State, nil
}

// TransitionConversation attempts to move the session's conversation state to
// target. Returns false (state unchanged) if the edge isn't in the table; the
// caller is expected to log, not fail, on a false return.
func (t *Tracker) TransitionConversation(ctx context.Context, sessionID string, target session.ConversationState) (bool, error) {
	sess, ok, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	current := session.StateInitial
	if ok {
		current = sess.State
	}

	if !conversationEdges[current][target] {
		return false, nil
	}

	_, err = t.store.UpdateContext(ctx, sessionID, func(s *session.Session) {
		s.State = target
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateProject attempts to move the session's project state to target,
// merging metadata into ProjectContext.CurrentState. Returns false if the
// edge is invalid.
func (t *Tracker) UpdateProject(ctx context.Context, sessionID string, target session.ProjectState, metadata map[string]any) (bool, error) {
	sess, ok, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	current := session.ProjectNotStarted
	if ok && sess.Project != nil && sess.Project.State != "" {
		current = sess.Project.State
	}

	if !projectEdges[current][target] {
		return false, nil
	}

	_, err = t.store.UpdateContext(ctx, sessionID, func(s *session.Session) {
		if s.Project == nil {
			s.Project = &session.ProjectContext{CurrentState: map[string]any{}, Requirements: map[string]any{}}
		}
		s.Project.State = target
		if s.Project.CurrentState == nil {
			s.Project.CurrentState = map[string]any{}
		}
		for k, v := range metadata {
			s.Project.CurrentState[k] = v
		}
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ShouldGatherMore reports whether more requirements must be gathered before
// a project can proceed.
func (t *Tracker) ShouldGatherMore(ctx context.Context, sessionID string) (bool, error) {
	sess, ok, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok || sess.Project == nil {
		return true, nil
	}

	p := sess.Project
	if p.ProjectType == "" {
		return true, nil
	}
	if len(p.Requirements) == 0 {
		return true, nil
	}
	if len(p.CurrentState) == 0 {
		return true, nil
	}
	if len(p.Requirements) < minRequirementsKeys {
		return true, nil
	}
	return false, nil
}

// Action is the tag NextAction returns, driving the Coordinator.
type Action string

const (
	ActionReplyGreeting      Action = "reply_greeting"
	ActionStartGathering     Action = "start_gathering"
	ActionGatherOrConfirm    Action = "gather_or_confirm"
	ActionStartProcessing    Action = "start_processing"
	ActionReplyInfo          Action = "reply_info"
	ActionRunCreation        Action = "run_creation_workflow"
	ActionRunModification    Action = "run_modification_workflow"
	ActionResumeModification Action = "resume_modification_workflow"
	ActionReplyAwaiting      Action = "reply_awaiting"
	ActionReset              Action = "reset"
)

// NextAction is the decision returned to the Coordinator for one turn.
type NextAction struct {
	Action    Action
	NextState session.ConversationState
	Message   string
}

// NextAction is a pure function of (state, intent, context): it reads the
// store (the conversation state and, for gather_or_confirm, the project
// context via ShouldGatherMore) but never writes.
func (t *Tracker) NextAction(ctx context.Context, sessionID string, in intent.Intent) (NextAction, error) {
	current, err := t.ConversationState(ctx, sessionID)
	if err != nil {
		return NextAction{}, err
	}

	switch current {
	case session.StateInitial:
		switch in {
		case intent.IntentGreeting:
			return NextAction{ActionReplyGreeting, session.StateInitial, "Hello! How can I help you build something today?"}, nil
		case intent.IntentProjectCreate, intent.IntentProjectModify:
			return NextAction{ActionStartGathering, session.StateGatheringRequirements, "Tell me more about what you'd like to build."}, nil
		default:
			return NextAction{ActionReplyInfo, session.StateInitial, "I can help you create or modify a project — what would you like to do?"}, nil
		}

	case session.StateGatheringRequirements:
		return t.gatherOrConfirm(ctx, sessionID)

	case session.StateConfirmingDetails:
		switch in {
		case intent.IntentProjectCreate, intent.IntentProjectModify:
			return NextAction{ActionStartProcessing, session.StateProcessing, "Great, starting now."}, nil
		default:
			return t.gatherOrConfirm(ctx, sessionID)
		}

	case session.StateProcessing:
		switch in {
		case intent.IntentProjectModify:
			return NextAction{ActionRunModification, session.StateProcessing, "Working on your change."}, nil
		default:
			return NextAction{ActionRunCreation, session.StateProcessing, "Working on your project."}, nil
		}

	case session.StateAwaitingFeedback:
		if in == intent.IntentProjectModify {
			return NextAction{ActionResumeModification, session.StateProcessing, "Proceeding with the change."}, nil
		}
		return NextAction{ActionReplyAwaiting, session.StateAwaitingFeedback, "I'm waiting on your confirmation before proceeding."}, nil

	case session.StateCompleted:
		switch in {
		case intent.IntentProjectCreate, intent.IntentProjectModify:
			return NextAction{ActionStartGathering, session.StateGatheringRequirements, "Let's get started on that."}, nil
		default:
			return NextAction{ActionReplyInfo, session.StateCompleted, "Your project is ready. Anything else?"}, nil
		}

	case session.StateError:
		return NextAction{ActionReset, session.StateInitial, "Let's start fresh — what would you like to do?"}, nil

	default:
		return NextAction{ActionReplyInfo, current, "How can I help?"}, nil
	}
}

func (t *Tracker) gatherOrConfirm(ctx context.Context, sessionID string) (NextAction, error) {
	more, err := t.ShouldGatherMore(ctx, sessionID)
	if err != nil {
		return NextAction{}, err
	}
	if more {
		return NextAction{ActionGatherOrConfirm, session.StateGatheringRequirements, "I need a bit more detail before we proceed."}, nil
	}
	return NextAction{ActionGatherOrConfirm, session.StateConfirmingDetails, "Here's what I have so far — shall I proceed?"}, nil
}

// Summary is a snapshot of both state machines plus the message count.
type Summary struct {
	ConversationState session.ConversationState `json:"conversation_state"`
	ProjectState      session.ProjectState      `json:"project_state"`
	MessageCount      int                       `json:"message_count"`
}

// Summary returns a snapshot of both state machines for sessionID.
func (t *Tracker) Summary(ctx context.Context, sessionID string) (Summary, error) {
	sess, ok, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{ConversationState: session.StateInitial, ProjectState: session.ProjectNotStarted}, nil
	}

	projectState := session.ProjectNotStarted
	if sess.Project != nil && sess.Project.State != "" {
		projectState = sess.Project.State
	}

	return Summary{
		ConversationState: sess.State,
		ProjectState:      projectState,
		MessageCount:      len(sess.Messages),
	}, nil
}

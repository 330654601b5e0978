// Package convcontext derives prompt/decision context from a session and
// provides a deterministic lexical entity extractor over a fixed vocabulary.
package convcontext

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/orcherrors"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

const relevantHistoryCount = 5
const messageTruncateLen = 100

// Manager derives context for the classifier, state tracker, and coordinator
// from the Session Store, and extracts entities from raw message text.
type Manager struct {
	store session.Store
}

// NewManager creates a Context Manager backed by store.
func NewManager(store session.Store) *Manager {
	return &Manager{store: store}
}

// ProjectContext returns the session's ProjectContext, or nil if none exists.
func (m *Manager) ProjectContext(ctx context.Context, sessionID string) (*session.ProjectContext, error) {
	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orcherrors.ErrNotFound
	}
	return sess.Project, nil
}

// UpdateProjectState merges patch into the session's ProjectContext.State and
// CurrentState, creating the ProjectContext if absent. The patch may not
// alter an existing ProjectID.
func (m *Manager) UpdateProjectState(ctx context.Context, sessionID string, state session.ProjectState, currentStatePatch map[string]any) (*session.ProjectContext, error) {
	sess, err := m.store.UpdateContext(ctx, sessionID, func(s *session.Session) {
		if s.Project == nil {
			s.Project = &session.ProjectContext{
				CurrentState: map[string]any{},
				Requirements: map[string]any{},
			}
		}
		s.Project.State = state
		if s.Project.CurrentState == nil {
			s.Project.CurrentState = map[string]any{}
		}
		for k, v := range currentStatePatch {
			s.Project.CurrentState[k] = v
		}
	})
	if err != nil {
		return nil, err
	}
	return sess.Project, nil
}

// SetProjectID sets the ProjectContext's ProjectID exactly once. Calling it
// again with a different id is rejected; calling it again with the same id
// is a no-op.
func (m *Manager) SetProjectID(ctx context.Context, sessionID, projectID, projectType string) error {
	var rejected error
	_, err := m.store.UpdateContext(ctx, sessionID, func(s *session.Session) {
		if s.Project == nil {
			s.Project = &session.ProjectContext{
				CurrentState: map[string]any{},
				Requirements: map[string]any{},
			}
		}
		if s.Project.ProjectID != "" && s.Project.ProjectID != projectID {
			rejected = fmt.Errorf("project_id is immutable: have %q, refusing %q", s.Project.ProjectID, projectID)
			return
		}
		s.Project.ProjectID = projectID
		if projectType != "" {
			s.Project.ProjectType = projectType
		}
	})
	if err != nil {
		return err
	}
	return rejected
}

// AddModification appends a Modification record to the session's
// ProjectContext.
func (m *Manager) AddModification(ctx context.Context, sessionID string, mod session.Modification) error {
	_, err := m.store.UpdateContext(ctx, sessionID, func(s *session.Session) {
		if s.Project == nil {
			s.Project = &session.ProjectContext{
				CurrentState: map[string]any{},
				Requirements: map[string]any{},
			}
		}
		s.Project.Modifications = append(s.Project.Modifications, mod)
	})
	return err
}

// RelevantContext is the summarized decision context for one session:
// session_id, message_count, an optional project summary, and, if
// includeHistory is requested, the last 5 messages truncated to 100 chars.
type RelevantContext struct {
	SessionID     string          `json:"session_id"`
	MessageCount  int             `json:"message_count"`
	Project       *ProjectSummary `json:"project,omitempty"`
	RecentHistory []HistoryEntry  `json:"recent_history,omitempty"`
}

// ProjectSummary is the project portion of RelevantContext.
type ProjectSummary struct {
	ProjectID         string         `json:"id"`
	ProjectType       string         `json:"type"`
	CurrentState      map[string]any `json:"current_state"`
	Requirements      map[string]any `json:"requirements"`
	ModificationCount int            `json:"modification_count"`
}

// HistoryEntry is one truncated message in RelevantContext.RecentHistory.
type HistoryEntry struct {
	Role    session.MessageRole `json:"role"`
	Content string              `json:"content"`
}

// RelevantContext derives the context summary for sessionID.
func (m *Manager) RelevantContext(ctx context.Context, sessionID string, includeHistory bool) (*RelevantContext, error) {
	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orcherrors.ErrNotFound
	}

	rc := &RelevantContext{
		SessionID:    sessionID,
		MessageCount: len(sess.Messages),
	}

	if sess.Project != nil {
		rc.Project = &ProjectSummary{
			ProjectID:         sess.Project.ProjectID,
			ProjectType:       sess.Project.ProjectType,
			CurrentState:      sess.Project.CurrentState,
			Requirements:      sess.Project.Requirements,
			ModificationCount: len(sess.Project.Modifications),
		}
	}

	if includeHistory {
		start := len(sess.Messages) - relevantHistoryCount
		if start < 0 {
			start = 0
		}
		for _, msg := range sess.Messages[start:] {
			rc.RecentHistory = append(rc.RecentHistory, HistoryEntry{
				Role:    msg.Role,
				Content: truncate(msg.Content, messageTruncateLen),
			})
		}
	}

	return rc, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Entities is the output of ExtractEntities: three sorted, de-duplicated lists.
type Entities struct {
	Technologies []string `json:"technologies"`
	Features     []string `json:"features"`
	ProjectTypes []string `json:"project_types"`
}

// ExtractEntities performs a deterministic, case-insensitive substring match
// against the fixed vocabulary in vocab.go.
func (m *Manager) ExtractEntities(text string) Entities {
	lower := strings.ToLower(text)
	return Entities{
		Technologies: matchVocab(lower, technologyVocab),
		Features:     matchVocab(lower, featureVocab),
		ProjectTypes: matchVocab(lower, projectTypeVocab),
	}
}

func matchVocab(lowerText string, vocab []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, term := range vocab {
		if strings.Contains(lowerText, term) && !seen[term] {
			seen[term] = true
			out = append(out, term)
		}
	}
	sort.Strings(out)
	return out
}

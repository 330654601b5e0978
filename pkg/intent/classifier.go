// Package intent implements the deterministic intent classifier: no LLM
// dependency on the core path, a closed set of regex families scored and
// boosted by session context, with a three-step fallback chain. The only
// I/O is the session.Store read needed to look up the session's project and
// history for context boosts and the fallback chain.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

// Intent is a coarse category of user request.
type Intent string

const (
	IntentProjectCreate Intent = "project_create"
	IntentProjectModify Intent = "project_modify"
	IntentProjectInfo   Intent = "project_info"
	IntentClarification Intent = "clarification"
	IntentGeneralQuery  Intent = "general_query"
	IntentHelp          Intent = "help"
	IntentGreeting      Intent = "greeting"
	IntentUnknown       Intent = "unknown"
)

// intentOrder is the tie-break order: equal adjusted scores resolve to the
// earlier entry.
var intentOrder = []Intent{
	IntentProjectCreate,
	IntentProjectModify,
	IntentProjectInfo,
	IntentClarification,
	IntentGeneralQuery,
	IntentHelp,
	IntentGreeting,
	IntentUnknown,
}

const baseScore = 0.7
const contextBoost = 0.2

var patterns = map[Intent][]*regexp.Regexp{
	IntentProjectCreate: {
		regexp.MustCompile(`\b(create|build|make|develop|generate|start)\s+(?:a\s+)?(?:new\s+)?(project|app|application|website|api|service)\b`),
		regexp.MustCompile(`\b(i want|i need|let's start|lets start)\s+(?:a\s+)?(?:new\s+)?(project|app|application|website|api|service)\b`),
		regexp.MustCompile(`\bnew\s+(?:\w+\s+)?(project|app|application|website|api|service)\b`),
	},
	IntentProjectModify: {
		regexp.MustCompile(`\b(change|modify|update|add|remove|delete|edit)\b`),
		regexp.MustCompile(`\b(implement|integrate|include)\b.*\bfeature\b`),
	},
	IntentProjectInfo: {
		regexp.MustCompile(`\b(show|display|what|get)\b.*\b(status|info|details|project)\b`),
	},
	IntentHelp: {
		regexp.MustCompile(`\b(help|guide|how\s+to|tutorial|example|what\s+can)\b`),
		regexp.MustCompile(`\b(explain|tell\s+me\s+about)\b`),
	},
	IntentGreeting: {
		regexp.MustCompile(`^(hi|hello|hey|greetings|good\s+(morning|afternoon|evening))\b`),
		regexp.MustCompile(`\bhow\s+are\s+you\b`),
	},
}

// modifyVerbPattern extracts the modification verb for classifier metadata.
var modifyVerbPattern = regexp.MustCompile(`\b(change|modify|update|add|remove|delete|edit|implement|integrate|include)\b`)

// Result is the classifier's output.
type Result struct {
	Intent     Intent
	Confidence float64
	Entities   convcontext.Entities
	Metadata   map[string]any
}

// Classifier classifies inbound messages. It consults the session store for
// context boosts and the fallback chain (previous message role, token count).
type Classifier struct {
	store  session.Store
	ctxMgr *convcontext.Manager
}

// NewClassifier creates a Classifier over store, using ctxMgr for entity
// extraction.
func NewClassifier(store session.Store, ctxMgr *convcontext.Manager) *Classifier {
	return &Classifier{store: store, ctxMgr: ctxMgr}
}

// Classify normalizes text, scores every intent's regex family with context
// boosts, and falls back by previous-message role and token count when no
// pattern fires.
func (c *Classifier) Classify(ctx context.Context, text, sessionID string) (Result, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	entities := c.ctxMgr.ExtractEntities(text)

	sess, ok, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	hasProject := ok && sess.Project != nil

	// The Coordinator appends the inbound user message before classifying,
	// so the session's trailing message is usually the turn being classified
	// right now. Strip it so the fallback sees the turn that preceded this
	// one.
	var prior []session.Message
	if ok {
		prior = sess.Messages
		if n := len(prior); n > 0 && prior[n-1].Role == session.RoleUser && prior[n-1].Content == text {
			prior = prior[:n-1]
		}
	}

	best := Intent("")
	bestScore := 0.0
	for _, in := range intentOrder {
		pats, exists := patterns[in]
		if !exists {
			continue
		}
		if !anyMatch(pats, normalized) {
			continue
		}

		score := baseScore
		switch in {
		case IntentProjectModify:
			if hasProject {
				score += contextBoost
			}
		case IntentProjectCreate:
			if !hasProject {
				score += contextBoost
			}
		}

		if score > bestScore {
			bestScore = score
			best = in
		}
		// Ties keep the earlier-seen (higher-priority) intent since we only
		// overwrite on strictly greater score.
	}

	if best == "" {
		return c.fallback(prior, normalized, entities), nil
	}

	meta := map[string]any{}
	switch best {
	case IntentProjectCreate:
		if len(entities.ProjectTypes) > 0 {
			meta["project_type"] = entities.ProjectTypes[0]
		}
	case IntentProjectModify:
		if m := modifyVerbPattern.FindString(normalized); m != "" {
			meta["modification_verb"] = m
		}
	}

	return Result{
		Intent:     best,
		Confidence: bestScore,
		Entities:   entities,
		Metadata:   meta,
	}, nil
}

func (c *Classifier) fallback(prior []session.Message, normalized string, entities convcontext.Entities) Result {
	if len(prior) > 0 && prior[len(prior)-1].Role == session.RoleAssistant {
		return Result{Intent: IntentClarification, Confidence: 0.6, Entities: entities, Metadata: map[string]any{}}
	}

	if len(tokenize(normalized)) < 5 {
		return Result{Intent: IntentClarification, Confidence: 0.5, Entities: entities, Metadata: map[string]any{}}
	}

	return Result{Intent: IntentUnknown, Confidence: 0.3, Entities: entities, Metadata: map[string]any{}}
}

func anyMatch(pats []*regexp.Regexp, text string) bool {
	for _, p := range pats {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.Fields(s)
}

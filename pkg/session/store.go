package session

import (
	"context"
	"time"
)

// Store is the Session Store contract. All other components observe or
// mutate Session records only through this interface.
type Store interface {
	// Create creates and persists a new, empty session for id. It is a no-op
	// returning the existing session if id already exists.
	Create(ctx context.Context, id string) (*Session, error)

	// Get retrieves a session by id. ok is false if it doesn't exist (or has
	// expired) — absence is not an error.
	Get(ctx context.Context, id string) (sess *Session, ok bool, err error)

	// Save persists session and extends its TTL to the default window.
	Save(ctx context.Context, sess *Session) error

	// Delete purges a session and removes it from the active set.
	Delete(ctx context.Context, id string) error

	// ListActive returns the ids of all live sessions.
	ListActive(ctx context.Context) ([]string, error)

	// AppendMessage appends msg to the session, creating the session first if
	// necessary. Idempotent with respect to msg.ID.
	AppendMessage(ctx context.Context, id string, msg Message) (*Session, error)

	// UpdateContext applies patch to the session's Context/Project/State and
	// saves the result. patch is invoked with the current session loaded (or
	// a freshly created one) and may mutate it in place.
	UpdateContext(ctx context.Context, id string, patch func(*Session)) (*Session, error)

	// History returns the session's messages, most-recent-last, truncated to
	// the last limit messages (limit <= 0 means no limit).
	History(ctx context.Context, id string, limit int) ([]Message, error)

	// Cleanup deletes every active session whose LastActivity predates
	// olderThan, returning the count removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}

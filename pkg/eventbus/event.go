// Package eventbus implements the event bus integration: event routing by
// type prefix, a Kafka producer with typed convenience wrappers, and a Kafka
// consumer with an exact-type-then-wildcard handler registry.
package eventbus

import "time"

// Event is the wire shape every message on the bus carries.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
}

const (
	TopicProjectUpdates     = "project-updates"
	TopicConversationEvents = "conversation-events"
)

// TopicFor implements the routing-by-prefix table: project.* and
// validation.* go to project-updates; conversation.*, error, and progress.*
// go to conversation-events. Anything else also lands on conversation-events
// — the core never emits an unrouted type, but an operator-defined type
// should still be delivered somewhere rather than dropped.
func TopicFor(eventType string) string {
	switch {
	case hasPrefix(eventType, "project."), hasPrefix(eventType, "validation."):
		return TopicProjectUpdates
	case hasPrefix(eventType, "conversation."), eventType == "error", hasPrefix(eventType, "progress."):
		return TopicConversationEvents
	default:
		return TopicConversationEvents
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// newEvent builds an Event, injecting sessionID under data.sessionId when
// provided.
func newEvent(eventType, source string, data map[string]any, sessionID string) Event {
	d := make(map[string]any, len(data)+1)
	for k, v := range data {
		d[k] = v
	}
	if sessionID != "" {
		d["sessionId"] = sessionID
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      d,
	}
}

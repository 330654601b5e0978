package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Producer is the Event Bus producer: SendEvent plus convenience wrappers,
// one kafka.Writer per destination topic.
type Producer struct {
	source  string
	writers map[string]*kafka.Writer
	logger  *slog.Logger
}

// NewProducer creates a Producer with one Writer per topic in TopicFor's
// range, addressing brokers. source identifies this service in every
// emitted Event.
func NewProducer(brokers []string, source string) *Producer {
	topics := []string{TopicProjectUpdates, TopicConversationEvents}
	writers := make(map[string]*kafka.Writer, len(topics))
	for _, topic := range topics {
		writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &Producer{
		source:  source,
		writers: writers,
		logger:  slog.Default().With("component", "eventbus-producer"),
	}
}

// SendEvent is the general-purpose entry point.
func (p *Producer) SendEvent(ctx context.Context, eventType string, data map[string]any, key, sessionID string) error {
	ev := newEvent(eventType, p.source, data, sessionID)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	topic := TopicFor(eventType)
	writer, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("no writer configured for topic %s", topic)
	}

	msg := kafka.Message{Value: payload}
	if key != "" {
		msg.Key = []byte(key)
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s to %s: %w", eventType, topic, err)
	}
	return nil
}

// Emit satisfies pkg/workflow.Events: a generic event with an explicit
// session and project id, keyed by project id for partition affinity.
func (p *Producer) Emit(ctx context.Context, eventType, sessionID, projectID string, data map[string]any) error {
	d := make(map[string]any, len(data)+1)
	for k, v := range data {
		d[k] = v
	}
	if projectID != "" {
		d["projectId"] = projectID
	}
	key := projectID
	if key == "" {
		key = sessionID
	}
	return p.SendEvent(ctx, eventType, d, key, sessionID)
}

// EmitProgress satisfies pkg/workflow.Events: the progress.update
// convenience wrapper.
func (p *Producer) EmitProgress(ctx context.Context, sessionID, projectID string, progress float64, message string) error {
	return p.Emit(ctx, "progress.update", sessionID, projectID, map[string]any{
		"progress": progress,
		"message":  message,
	})
}

// EmitConversation is the conversation.* convenience wrapper.
func (p *Producer) EmitConversation(ctx context.Context, eventType, sessionID string, data map[string]any) error {
	return p.SendEvent(ctx, eventType, data, sessionID, sessionID)
}

// EmitError is the error convenience wrapper.
func (p *Producer) EmitError(ctx context.Context, sessionID string, data map[string]any) error {
	return p.SendEvent(ctx, "error", data, sessionID, sessionID)
}

// Close flushes and closes every underlying Writer.
func (p *Producer) Close() error {
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer for %s: %w", topic, err)
		}
	}
	return firstErr
}

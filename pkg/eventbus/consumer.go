package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Handler processes one Event. Handler failures are logged and do not affect
// other handlers for the same event.
type Handler func(ctx context.Context, ev Event) error

// Consumer subscribes to a configured topic set under a consumer group and
// dispatches each message to handlers registered for its exact type, then to
// wildcard handlers. Start spawns a cancellable receive loop per topic; Stop
// cancels and waits.
type Consumer struct {
	readers []*kafka.Reader

	mu       sync.RWMutex
	handlers map[string][]Handler

	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a Consumer with one Reader per topic, all sharing
// groupID.
func NewConsumer(brokers []string, groupID string, topics []string) *Consumer {
	readers := make([]*kafka.Reader, 0, len(topics))
	for _, topic := range topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}))
	}
	return &Consumer{
		readers:  readers,
		handlers: make(map[string][]Handler),
		logger:   slog.Default().With("component", "eventbus-consumer"),
	}
}

// Register adds h for eventType. Use "*" to register a wildcard handler
// invoked for every event regardless of type.
func (c *Consumer) Register(eventType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// Start begins one receive loop per topic Reader. It returns immediately;
// loops run until Stop is called or ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, reader := range c.readers {
		c.wg.Add(1)
		go c.receiveLoop(loopCtx, reader)
	}
}

// Stop cancels every receive loop, waits for them to exit, and closes the
// underlying readers.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var firstErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Consumer) receiveLoop(ctx context.Context, reader *kafka.Reader) {
	defer c.wg.Done()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Warn("read message failed", "topic", reader.Config().Topic, "error", err)
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.logger.Warn("ignoring malformed event", "topic", reader.Config().Topic, "error", err)
			continue
		}

		c.dispatch(ctx, ev)
	}
}

// dispatch invokes every handler registered for ev.Type, then every wildcard
// handler, concurrently — one handler's panic or error cannot block or fail
// the others.
func (c *Consumer) dispatch(ctx context.Context, ev Event) {
	c.mu.RLock()
	handlers := append(append([]Handler(nil), c.handlers[ev.Type]...), c.handlers["*"]...)
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("event handler panicked", "type", ev.Type, "panic", r)
				}
			}()
			if err := h(ctx, ev); err != nil {
				c.logger.Warn("event handler failed", "type", ev.Type, "error", err)
			}
		}(h)
	}
	wg.Wait()
}

package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

// Memory is an in-process bus. Transient failures are redelivered at the
// back of the queue until MaxAttempts is reached.
type Memory struct {
	log         *logger.Logger
	MaxAttempts int

	mu        sync.Mutex
	queue     []Message
	published []Message
	handlers  map[envelope.Topic]HandlerFunc
	wake      chan struct{}
}

func NewMemory(log *logger.Logger) *Memory {
	return &Memory{
		log:         log.With("bus", "memory"),
		MaxAttempts: 5,
		handlers:    map[envelope.Topic]HandlerFunc{},
		wake:        make(chan struct{}, 1),
	}
}

func (m *Memory) Subscribe(topic envelope.Topic, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = h
}

func (m *Memory) Publish(dbc dbctx.Context, topic envelope.Topic, p envelope.Payload) error {
	msg, err := NewMessage(topic, p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.published = append(m.published, msg)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Published returns every message ever published on topic, or on all topics
// when topic is empty.
func (m *Memory) Published(topic envelope.Topic) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.published))
	for _, msg := range m.published {
		if topic == "" || msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Pending is the number of queued, undelivered messages.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Memory) pop() (Message, HandlerFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Message{}, nil, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, m.handlers[msg.Topic], true
}

func (m *Memory) requeue(msg Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
}

// Deliver hands msg to its handler once, without queueing.
func (m *Memory) Deliver(ctx context.Context, msg Message) error {
	m.mu.Lock()
	h := m.handlers[msg.Topic]
	m.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler subscribed for topic %s", msg.Topic)
	}
	return h(ctx, msg)
}

// Drain delivers queued messages until the queue is empty.
func (m *Memory) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, h, ok := m.pop()
		if !ok {
			return nil
		}
		if h == nil {
			m.log.Warn("No handler for topic; dropping", "topic", msg.Topic, "message_id", msg.ID)
			continue
		}
		err := h(ctx, msg)
		switch {
		case err == nil:
		case IsPermanent(err):
			m.log.Warn("Message rejected", "topic", msg.Topic, "message_id", msg.ID, "error", err)
		case msg.Attempt >= m.MaxAttempts:
			m.log.Error("Message exhausted retries", "topic", msg.Topic, "message_id", msg.ID, "attempt", msg.Attempt, "error", err)
		default:
			msg.Attempt++
			m.requeue(msg)
		}
	}
}

// Run drains the queue whenever something is published, until ctx ends.
func (m *Memory) Run(ctx context.Context) {
	for {
		if err := m.Drain(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

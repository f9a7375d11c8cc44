// Package dispatch publishes pipeline jobs onto a bus and feeds deliveries
// back to the stage handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

// Message is one delivery of a job. Attempt starts at 1.
type Message struct {
	ID      string         `json:"id"`
	Topic   envelope.Topic `json:"topic"`
	Data    []byte         `json:"data"`
	Attempt int            `json:"attempt"`
}

// HandlerFunc processes one delivery. nil acknowledges it; an error wrapped
// with Permanent acknowledges it as undeliverable; any other error asks the
// bus to redeliver.
type HandlerFunc func(ctx context.Context, msg Message) error

// Dispatcher publishes a job. Publish is synchronous and runs in the
// caller's transaction when dbc carries one, so a failed publish fails the
// caller.
type Dispatcher interface {
	Publish(dbc dbctx.Context, topic envelope.Topic, p envelope.Payload) error
}

func NewMessage(topic envelope.Topic, p envelope.Payload) (Message, error) {
	if p == nil {
		return Message{}, fmt.Errorf("%w: nil payload", envelope.ErrMalformed)
	}
	if p.Topic() != topic {
		return Message{}, fmt.Errorf("%w: payload for %s published on %s", envelope.ErrMalformed, p.Topic(), topic)
	}
	data, err := envelope.Encode(p)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: uuid.NewString(), Topic: topic, Data: data, Attempt: 1}, nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one redelivery cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Multi fans one publish out to every dispatcher, stopping at the first
// failure.
type Multi []Dispatcher

func (m Multi) Publish(dbc dbctx.Context, topic envelope.Topic, p envelope.Payload) error {
	for _, d := range m {
		if err := d.Publish(dbc, topic, p); err != nil {
			return err
		}
	}
	return nil
}

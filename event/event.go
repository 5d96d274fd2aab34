// Package event implements EventSubscription: a typed decode pipeline
// layered over a broker.Queue, with both a pull (Receive) and a push
// (Observe) surface.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/morezero/messagecore/address"
	"github.com/morezero/messagecore/broker"
	"github.com/morezero/messagecore/envelope"
	"github.com/morezero/messagecore/header"
	"github.com/morezero/messagecore/serializer"
)

const logPrefix = "event:EventSubscription"

// Event is one decoded event delivery.
type Event struct {
	Address    address.EventAddress
	Serializer string
	Headers    map[string][]byte
	Body       []byte
}

// Decode unmarshals the event body into v using the serializer named in
// the event header.
func (e Event) Decode(registry *serializer.Registry, v interface{}) error {
	codec, ok := registry.Lookup(e.Serializer)
	if !ok {
		return serializer.ErrUnsupportedSerializer(e.Serializer)
	}
	return codec.Unmarshal(e.Body, v)
}

// ErrDisposed is returned by Receive/ReceiveTimeout after Dispose.
var ErrDisposed = errors.New("event: subscription disposed")

// EventSubscription owns one broker queue bound to an event address and
// decodes every delivery through a shared pipeline.
type EventSubscription struct {
	Address  address.EventAddress
	queue    broker.Queue
	registry *serializer.Registry

	// OnDecodeError, if set, observes every decode failure this
	// subscription's pipeline produces, in both Receive and Observe —
	// pure operational observability (see package storage's Sink); it
	// never changes the silent-drop/OnError behavior itself.
	OnDecodeError func(ctx context.Context, address, reason string)

	disposed atomic.Bool
}

// New wraps an already-declared queue as an EventSubscription.
func New(addr address.EventAddress, queue broker.Queue, registry *serializer.Registry) *EventSubscription {
	return &EventSubscription{Address: addr, queue: queue, registry: registry}
}

// Receive blocks until a message decodes successfully, ctx is done, or the
// underlying queue errors. Messages that fail to decode are silently
// dropped and the loop retries against the same queue — a
// long run of malformed messages can still exceed the caller's deadline,
// since the timeout is enforced by the underlying queue.Receive, not by
// this loop independently.
func (s *EventSubscription) Receive(ctx context.Context) (Event, error) {
	if s.disposed.Load() {
		return Event{}, ErrDisposed
	}
	for {
		msg, err := s.queue.Receive(ctx)
		if err != nil {
			return Event{}, err
		}
		ev, reason, ok := s.decode(msg)
		if ok {
			return ev, nil
		}
		if s.OnDecodeError != nil {
			s.OnDecodeError(ctx, s.Address.String(), reason)
		}
	}
}

// ReceiveTimeout is Receive bounded by d.
func (s *EventSubscription) ReceiveTimeout(ctx context.Context, d time.Duration) (Event, error) {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return s.Receive(c)
}

// decode runs the event decoding pipeline. The returned bool is
// false for any step that fails — silent-drop is the caller's concern,
// not this function's; reason describes the failure for OnDecodeError.
func (s *EventSubscription) decode(msg envelope.InboundMessage) (ev Event, reason string, ok bool) {
	raw, present := msg.Headers[header.KeyEvent]
	if !present {
		return Event{}, fmt.Sprintf("missing %s header", header.KeyEvent), false
	}
	h, err := header.ParseEvent(raw)
	if err != nil {
		return Event{}, err.Error(), false
	}
	if _, known := s.registry.Lookup(h.Serializer); !known {
		return Event{}, fmt.Sprintf("unsupported serializer %q", h.Serializer), false
	}
	return Event{
		Address:    s.Address,
		Serializer: h.Serializer,
		Headers:    msg.Headers,
		Body:       msg.Body,
	}, "", true
}

// Observer receives push-style delivery from Observe.
type Observer interface {
	OnNext(Event)
	OnError(error)
	OnCompleted()
}

// Observe is a thin adapter over the queue's raw stream: it decodes every
// delivery, routing decode failures to OnError instead of dropping them
// silently (the pull/push policy difference), and calls
// OnCompleted when the stream closes. It runs on the calling goroutine
// until ctx is done or the stream closes — Stream is primary, this is a
// bridge.
func (s *EventSubscription) Observe(ctx context.Context, obs Observer) {
	stream := s.queue.Stream()
	for {
		select {
		case msg, ok := <-stream:
			if !ok {
				obs.OnCompleted()
				return
			}
			ev, reason, decoded := s.decode(msg)
			if !decoded {
				if s.OnDecodeError != nil {
					s.OnDecodeError(ctx, s.Address.String(), reason)
				}
				obs.OnError(fmt.Errorf("%s - failed to decode event on %s: %s", logPrefix, s.Address, reason))
				continue
			}
			obs.OnNext(ev)
		case <-ctx.Done():
			obs.OnCompleted()
			return
		}
	}
}

// Bind adds another routing key to the underlying queue's subscription.
func (s *EventSubscription) Bind(namespace, routingKey string) error {
	return s.queue.Bind(namespace, routingKey)
}

// Dispose releases the underlying queue. Idempotent.
func (s *EventSubscription) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	return s.queue.Dispose()
}

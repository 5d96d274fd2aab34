// Package broker defines the external collaborator contract the core
// dispatches against: declaring exchanges and queues, receiving inbound
// messages, and replying. The broker client's own connection management,
// channel multiplexing, and wire serialization live outside this contract
// (see package broker/nats for one concrete implementation) — the core
// only ever talks to these interfaces.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/messagecore/address"
	"github.com/morezero/messagecore/envelope"
)

// Adapter declares broker resources. Implementations are expected to be
// safe for concurrent use by multiple services.
type Adapter interface {
	// DeclareExchange creates a topic exchange. Idempotent: declaring the
	// same name/kind/durability repeatedly is not an error.
	DeclareExchange(ctx context.Context, name, kind string, durable, autoDelete bool) error

	// DeclareQueue creates (or attaches to) a queue bound to
	// namespace/routingKey and returns a handle to receive from it.
	// Exclusive queues fail if a second declaration targets the same
	// name while the first is still live — this is the Singleton
	// uniqueness mechanism.
	DeclareQueue(ctx context.Context, name string, durable, exclusive bool, namespace, routingKey string, args map[string]any) (Queue, error)
}

// Queue is a cancellable, timed, observable source of inbound messages
// from one broker queue.
type Queue interface {
	// Receive suspends until a message is available or ctx is done.
	Receive(ctx context.Context) (envelope.InboundMessage, error)

	// ReceiveTimeout is Receive bounded by an additional wall-clock
	// deadline on top of ctx.
	ReceiveTimeout(ctx context.Context, d time.Duration) (envelope.InboundMessage, error)

	// Bind adds an additional binding to this queue. Idempotent on
	// repeated identical keys.
	Bind(namespace, routingKey string) error

	// Stream exposes inbound messages as a channel. Infinite, not
	// restartable; closed on Dispose.
	Stream() <-chan envelope.InboundMessage

	// Dispose releases the broker consumer. Idempotent.
	Dispose() error
}

// Node is the minimal surface a broker adapter needs to publish replies.
// The full node type (package node) implements this plus the envelope
// back-reference contract in package envelope.
type Node interface {
	Reply(ctx context.Context, replyTo address.ServiceAddress, correlationID uuid.UUID, headers map[string][]byte, body []byte) error
}

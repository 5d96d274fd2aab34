// Package envelope carries inbound broker deliveries decorated with the
// node that received them.
package envelope

import (
	"context"

	"github.com/google/uuid"

	"github.com/morezero/messagecore/address"
)

// InboundMessage is an opaque broker delivery: a delivery tag, headers and
// a body. It carries no back-reference to the node; Wrap attaches one to
// produce an Envelope.
type InboundMessage struct {
	DeliveryTag uint64
	Headers     map[string][]byte
	Body        []byte
}

// Node is the back-reference an Envelope carries to the node that received
// it, used to publish replies. It is the minimal surface envelope needs;
// the full node type lives in package node to avoid an import cycle.
type Node interface {
	Reply(ctx context.Context, replyTo address.ServiceAddress, correlationID uuid.UUID, headers map[string][]byte, body []byte) error
}

// Envelope is the immutable carrier handed to service behaviours.
type Envelope struct {
	ID      uuid.UUID
	ReplyTo address.ServiceAddress
	Headers map[string][]byte
	Body    []byte
	Node    Node
}

// NewID generates a fresh request id for an outgoing RPC request.
func NewID() uuid.UUID {
	return uuid.New()
}

// IsRequest reports whether this envelope carries a non-zero request id,
// as required of RPC requests.
func (e Envelope) IsRequest() bool {
	return e.ID != uuid.Nil
}

// Wrap attaches a node back-reference to an inbound broker message,
// producing the Envelope that behaviours operate on.
func Wrap(msg InboundMessage, n Node) Envelope {
	return Envelope{
		ID:      parseIDHeader(msg.Headers),
		ReplyTo: replyToHeader(msg.Headers),
		Headers: msg.Headers,
		Body:    msg.Body,
		Node:    n,
	}
}

// header keys carrying envelope metadata alongside the protocol headers
// (X-RPC / X-Event). Kept here, not in package header, because they are
// envelope-level concerns shared by both RPC and event flows.
const (
	HeaderMessageID = "X-Message-Id"
	HeaderReplyTo   = "X-Reply-To"
)

func parseIDHeader(headers map[string][]byte) uuid.UUID {
	raw, ok := headers[HeaderMessageID]
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.ParseBytes(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func replyToHeader(headers map[string][]byte) address.ServiceAddress {
	raw, ok := headers[HeaderReplyTo]
	if !ok {
		return address.ServiceAddress{}
	}
	a, err := address.ParseService(string(raw))
	if err != nil {
		return address.ServiceAddress{}
	}
	return a
}

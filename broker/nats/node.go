package nats

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/morezero/messagecore/address"
	"github.com/morezero/messagecore/envelope"
)

const replyLogPrefix = "nats:Reply"

// ReplyPublisher implements broker.Node and envelope.Node by publishing a
// reply message to DataSubject(replyTo.Namespace, replyTo.RoutingKey),
// with the correlation id and caller headers carried as NATS message
// headers.
type ReplyPublisher struct {
	nc *natsgo.Conn
}

// NewReplyPublisher wraps an already-connected NATS connection.
func NewReplyPublisher(nc *natsgo.Conn) *ReplyPublisher {
	return &ReplyPublisher{nc: nc}
}

// Reply publishes body to replyTo, stamping the correlation id and
// caller-supplied headers onto the message.
func (p *ReplyPublisher) Reply(_ context.Context, replyTo address.ServiceAddress, correlationID uuid.UUID, headers map[string][]byte, body []byte) error {
	msg := natsgo.NewMsg(DataSubject(replyTo.Namespace, replyTo.RoutingKey))
	msg.Data = body
	msg.Header.Set(envelope.HeaderMessageID, correlationID.String())
	for k, v := range headers {
		msg.Header.Set(k, string(v))
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%s - publish to %s: %w", replyLogPrefix, replyTo, err)
	}
	return nil
}

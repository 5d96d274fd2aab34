package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/morezero/messagecore/broker"
)

const adapterLogPrefix = "nats:Adapter"

// claimTimeout bounds how long DeclareQueue waits to find out whether an
// exclusive queue name is already claimed.
const claimTimeout = 250 * time.Millisecond

// ErrAlreadySetup is returned by DeclareQueue when an exclusive queue name
// is already claimed by another consumer — this is the Singleton
// uniqueness mechanism.
var ErrAlreadySetup = errors.New("nats: queue already claimed")

// Adapter implements broker.Adapter over a NATS connection.
type Adapter struct {
	nc *natsgo.Conn
}

// NewAdapter wraps an already-connected NATS connection.
func NewAdapter(nc *natsgo.Conn) *Adapter {
	return &Adapter{nc: nc}
}

// DeclareExchange is a no-op: NATS has no exchange concept. Namespace is
// folded into the data subject at DeclareQueue time.
func (a *Adapter) DeclareExchange(_ context.Context, _, _ string, _, _ bool) error {
	return nil
}

// DeclareQueue creates the broker resources for name and returns a handle
// to receive from them. See package doc for the exclusive/Balanced/Fanout
// mapping onto NATS primitives.
func (a *Adapter) DeclareQueue(ctx context.Context, name string, _ bool, exclusive bool, namespace, routingKey string, _ map[string]any) (broker.Queue, error) {
	dataSubject := DataSubject(namespace, routingKey)

	if exclusive {
		claim, err := a.claim(ctx, name)
		if err != nil {
			return nil, err
		}
		return newQueue(a.nc, dataSubject, "", claim)
	}

	// Non-exclusive: queue group == queue name. Balanced consumers share
	// a queue name (address.String()) so NATS load-balances across them;
	// Fanout consumers each get a distinct, randomly-suffixed name, so
	// each is the sole member of its own group and still receives every
	// delivery — the two service types need no other distinction here.
	return newQueue(a.nc, dataSubject, name, nil)
}

// claim performs the exclusivity handshake for a Singleton queue name: it
// asks whether anyone already answers on the claim subject, and if not,
// starts answering on it itself so a later competing claim fails. The
// returned subscription is owned by the caller's queue and must be
// unsubscribed on Dispose so the name can be reclaimed later.
func (a *Adapter) claim(ctx context.Context, name string) (*natsgo.Subscription, error) {
	claimSubject := ClaimSubject(name)

	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	_, err := a.nc.RequestWithContext(claimCtx, claimSubject, nil)
	switch {
	case err == nil:
		// Someone answered: the address is already claimed.
		return nil, fmt.Errorf("%s - %w: %s", adapterLogPrefix, ErrAlreadySetup, name)
	case errors.Is(err, natsgo.ErrNoResponders), errors.Is(err, context.DeadlineExceeded):
		// Nobody is listening yet: claim it.
	default:
		return nil, fmt.Errorf("%s - claim request for %s: %w", adapterLogPrefix, name, err)
	}

	sub, err := a.nc.Subscribe(claimSubject, func(msg *natsgo.Msg) {
		if msg.Reply != "" {
			_ = msg.Respond([]byte("claimed"))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s - claim subscribe for %s: %w", adapterLogPrefix, name, err)
	}
	return sub, nil
}

package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/morezero/messagecore/envelope"
)

const queueLogPrefix = "nats:Queue"

// ErrDisposed is returned by Receive/ReceiveTimeout once the queue has
// been disposed.
var ErrDisposed = errors.New("nats: queue disposed")

// queueBuffer bounds how many undelivered messages are held in memory
// before a slow consumer blocks NATS's own dispatch callback.
const queueBuffer = 256

// queue implements broker.Queue over one or more NATS subscriptions that
// all feed the same channel. group is the queue-group name used for every
// additional Bind subscription ("" for an exclusive queue, the queue name
// itself for a Balanced or Fanout one), matching how the first
// subscription was declared.
type queue struct {
	nc    *natsgo.Conn
	group string

	mu     sync.Mutex
	subs   map[string]*natsgo.Subscription // subject -> subscription, for Bind idempotence and Dispose
	claim  *natsgo.Subscription            // exclusivity-claim subscription for a Singleton queue, released on Dispose
	closed bool
	wg     sync.WaitGroup // in-flight deliver calls, so Dispose can close out without a send-on-closed race

	deliveryTag atomic.Uint64
	out         chan envelope.InboundMessage

	disposeOnce sync.Once
	disposed    chan struct{}
}

// newQueue creates a queue already subscribed on subject, using group as
// the queue-group name for this and any future Bind calls ("" = plain
// subscribe, matching exclusive declarations). claim, if non-nil,
// is the exclusivity-claim subscription this queue now owns and must
// release on Dispose so the claimed name can be reclaimed later.
func newQueue(nc *natsgo.Conn, subject, group string, claim *natsgo.Subscription) (*queue, error) {
	q := &queue{
		nc:       nc,
		group:    group,
		subs:     make(map[string]*natsgo.Subscription),
		claim:    claim,
		out:      make(chan envelope.InboundMessage, queueBuffer),
		disposed: make(chan struct{}),
	}
	if err := q.subscribe(subject); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *queue) subscribe(subject string) error {
	var sub *natsgo.Subscription
	var err error
	if q.group == "" {
		sub, err = q.nc.Subscribe(subject, q.deliver)
	} else {
		sub, err = q.nc.QueueSubscribe(subject, q.group, q.deliver)
	}
	if err != nil {
		return fmt.Errorf("%s - subscribe %s: %w", queueLogPrefix, subject, err)
	}
	q.mu.Lock()
	q.subs[subject] = sub
	q.mu.Unlock()
	return nil
}

func (q *queue) deliver(msg *natsgo.Msg) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()

	headers := make(map[string][]byte, len(msg.Header))
	for k := range msg.Header {
		headers[k] = []byte(msg.Header.Get(k))
	}
	inbound := envelope.InboundMessage{
		DeliveryTag: q.deliveryTag.Add(1),
		Headers:     headers,
		Body:        msg.Data,
	}
	select {
	case q.out <- inbound:
	case <-q.disposed:
	}
}

// Receive suspends until a message is available, ctx is done, or the
// queue is disposed.
func (q *queue) Receive(ctx context.Context) (envelope.InboundMessage, error) {
	select {
	case <-q.disposed:
		return envelope.InboundMessage{}, ErrDisposed
	default:
	}
	select {
	case msg, ok := <-q.out:
		if !ok {
			return envelope.InboundMessage{}, ErrDisposed
		}
		return msg, nil
	case <-ctx.Done():
		return envelope.InboundMessage{}, ctx.Err()
	case <-q.disposed:
		return envelope.InboundMessage{}, ErrDisposed
	}
}

// ReceiveTimeout is Receive bounded by an additional wall-clock deadline.
func (q *queue) ReceiveTimeout(ctx context.Context, d time.Duration) (envelope.InboundMessage, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	msg, err := q.Receive(timeoutCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		return envelope.InboundMessage{}, fmt.Errorf("%s - receive timed out after %s", queueLogPrefix, d)
	}
	return msg, err
}

// Bind adds an additional subject to this queue. Idempotent: binding the
// same namespace/routingKey twice is a no-op.
func (q *queue) Bind(namespace, routingKey string) error {
	subject := DataSubject(namespace, routingKey)

	q.mu.Lock()
	_, exists := q.subs[subject]
	q.mu.Unlock()
	if exists {
		return nil
	}
	return q.subscribe(subject)
}

// Stream exposes inbound deliveries as a channel.
func (q *queue) Stream() <-chan envelope.InboundMessage {
	return q.out
}

// Dispose unsubscribes every bound subject, releases any exclusivity
// claim this queue holds, and releases the queue. Closes the Stream
// channel once every in-flight deliver call has returned, so Dispose
// never races a send against the close. Idempotent.
func (q *queue) Dispose() error {
	var err error
	q.disposeOnce.Do(func() {
		q.mu.Lock()
		for _, sub := range q.subs {
			if uErr := sub.Unsubscribe(); uErr != nil && err == nil {
				err = uErr
			}
		}
		if q.claim != nil {
			if uErr := q.claim.Unsubscribe(); uErr != nil && err == nil {
				err = uErr
			}
		}
		q.closed = true
		q.mu.Unlock()

		close(q.disposed)
		q.wg.Wait()
		close(q.out)
	})
	return err
}

package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/messagecore/address"
	"github.com/morezero/messagecore/envelope"
	"github.com/morezero/messagecore/header"
	"github.com/morezero/messagecore/serializer"
	"github.com/morezero/messagecore/serializer/jsoncodec"
)

// fakeQueue is a minimal broker.Queue backed by a channel.
type fakeQueue struct {
	ch       chan envelope.InboundMessage
	disposed atomic.Bool
}

func newFakeQueue(buf int) *fakeQueue {
	return &fakeQueue{ch: make(chan envelope.InboundMessage, buf)}
}

func (q *fakeQueue) push(msg envelope.InboundMessage) { q.ch <- msg }

func (q *fakeQueue) Receive(ctx context.Context) (envelope.InboundMessage, error) {
	select {
	case m := <-q.ch:
		return m, nil
	case <-ctx.Done():
		return envelope.InboundMessage{}, ctx.Err()
	}
}

func (q *fakeQueue) ReceiveTimeout(ctx context.Context, d time.Duration) (envelope.InboundMessage, error) {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return q.Receive(c)
}

func (q *fakeQueue) Bind(_, _ string) error { return nil }

func (q *fakeQueue) Stream() <-chan envelope.InboundMessage { return q.ch }

func (q *fakeQueue) Dispose() error {
	q.disposed.Store(true)
	close(q.ch)
	return nil
}

func newRegistry() *serializer.Registry {
	reg := serializer.NewRegistry()
	reg.Register(jsoncodec.New())
	return reg
}

func validMessage(body string) envelope.InboundMessage {
	return envelope.InboundMessage{
		Headers: map[string][]byte{header.KeyEvent: header.FormatEvent("json")},
		Body:    []byte(body),
	}
}

func TestEventSubscription_ReceiveSkipsMalformed(t *testing.T) {
	q := newFakeQueue(2)
	sub := New(address.EventAddress{Namespace: "domain", RoutingKey: "user.created"}, q, newRegistry())

	q.push(envelope.InboundMessage{Headers: map[string][]byte{}, Body: []byte(`bad`)}) // missing header
	q.push(validMessage(`{"id":1}`))

	ev, err := sub.ReceiveTimeout(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("event_test - receive: %v", err)
	}
	if string(ev.Body) != `{"id":1}` {
		t.Errorf("event_test - expected the second, well-formed message, got %s", ev.Body)
	}
}

func TestEventSubscription_ReceiveSkipsUnsupportedSerializer(t *testing.T) {
	q := newFakeQueue(2)
	sub := New(address.EventAddress{Namespace: "domain", RoutingKey: "user.created"}, q, newRegistry())

	q.push(envelope.InboundMessage{
		Headers: map[string][]byte{header.KeyEvent: header.FormatEvent("bson")},
		Body:    []byte(`irrelevant`),
	})
	q.push(validMessage(`{"id":2}`))

	ev, err := sub.ReceiveTimeout(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("event_test - receive: %v", err)
	}
	if string(ev.Body) != `{"id":2}` {
		t.Errorf("event_test - expected the well-formed message to survive, got %s", ev.Body)
	}
}

func TestEventSubscription_ReceiveTimeoutExpires(t *testing.T) {
	q := newFakeQueue(1)
	sub := New(address.EventAddress{Namespace: "ns", RoutingKey: "rk"}, q, newRegistry())

	_, err := sub.ReceiveTimeout(context.Background(), 20*time.Millisecond)
	if err == nil {
		t.Fatal("event_test - expected timeout error on empty queue")
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	next      []Event
	errs      int
	completed bool
}

func (o *recordingObserver) OnNext(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next = append(o.next, e)
}

func (o *recordingObserver) OnError(error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs++
}

func (o *recordingObserver) OnCompleted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = true
}

func TestEventSubscription_ObserveReportsDecodeErrors(t *testing.T) {
	q := newFakeQueue(3)
	sub := New(address.EventAddress{Namespace: "ns", RoutingKey: "rk"}, q, newRegistry())
	obs := &recordingObserver{}

	q.push(validMessage(`{"id":1}`))
	q.push(envelope.InboundMessage{Headers: map[string][]byte{}, Body: []byte(`bad`)})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sub.Observe(ctx, obs)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.next) != 1 {
		t.Errorf("event_test - expected 1 decoded event, got %d", len(obs.next))
	}
	if obs.errs != 1 {
		t.Errorf("event_test - expected 1 decode error reported, got %d", obs.errs)
	}
	if !obs.completed {
		t.Error("event_test - expected OnCompleted when ctx is done")
	}
}

func TestEventSubscription_DisposeIdempotent(t *testing.T) {
	q := newFakeQueue(1)
	sub := New(address.EventAddress{Namespace: "ns", RoutingKey: "rk"}, q, newRegistry())

	if err := sub.Dispose(); err != nil {
		t.Fatalf("event_test - first dispose: %v", err)
	}
	if err := sub.Dispose(); err != nil {
		t.Fatalf("event_test - second dispose should be a no-op: %v", err)
	}
}

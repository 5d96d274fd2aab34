package node

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/messagecore/address"
	"github.com/morezero/messagecore/broker"
	"github.com/morezero/messagecore/envelope"
	"github.com/morezero/messagecore/rpc"
	"github.com/morezero/messagecore/serializer"
	"github.com/morezero/messagecore/serializer/jsoncodec"
	"github.com/morezero/messagecore/service"
	"github.com/morezero/messagecore/storage"
)

func newTestRegistry() *serializer.Registry {
	reg := serializer.NewRegistry()
	reg.Register(jsoncodec.New())
	return reg
}

type fakeQueue struct {
	ch       chan envelope.InboundMessage
	disposed atomic.Bool
}

func newFakeQueue() *fakeQueue { return &fakeQueue{ch: make(chan envelope.InboundMessage, 10)} }

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

func (q *fakeQueue) Bind(_, _ string) error                 { return nil }
func (q *fakeQueue) Stream() <-chan envelope.InboundMessage { return q.ch }
func (q *fakeQueue) Dispose() error                         { q.disposed.Store(true); return nil }

type fakeAdapter struct {
	declaredExchanges int
	declaredQueues    int
}

func (a *fakeAdapter) DeclareExchange(context.Context, string, string, bool, bool) error {
	a.declaredExchanges++
	return nil
}

func (a *fakeAdapter) DeclareQueue(context.Context, string, bool, bool, string, string, map[string]any) (broker.Queue, error) {
	a.declaredQueues++
	return newFakeQueue(), nil
}

type fakeReplyer struct {
	calls int
}

func (r *fakeReplyer) Reply(context.Context, address.ServiceAddress, uuid.UUID, map[string][]byte, []byte) error {
	r.calls++
	return nil
}

type noopBehaviour struct{}

func (noopBehaviour) Handle(context.Context, envelope.Envelope) error { return nil }

func TestNode_DeclareServiceTracksForResetup(t *testing.T) {
	adapter := &fakeAdapter{}
	replyer := &fakeReplyer{}
	n := New(adapter, replyer)

	svc, err := n.DeclareService(context.Background(), address.ServiceAddress{Namespace: "ns", RoutingKey: "rk"}, service.Balanced, service.Serial, noopBehaviour{})
	if err != nil {
		t.Fatalf("node_test - declare service: %v", err)
	}
	defer n.DisposeAll()

	if adapter.declaredExchanges != 1 || adapter.declaredQueues != 1 {
		t.Fatalf("node_test - expected one exchange and queue declared, got %d/%d", adapter.declaredExchanges, adapter.declaredQueues)
	}

	if err := n.ResetupAll(context.Background()); err != nil {
		t.Fatalf("node_test - resetup all: %v", err)
	}
	if adapter.declaredQueues != 2 {
		t.Fatalf("node_test - expected resetup to redeclare the queue, got %d total declarations", adapter.declaredQueues)
	}
	_ = svc
}

func TestNode_ReplyDelegates(t *testing.T) {
	adapter := &fakeAdapter{}
	replyer := &fakeReplyer{}
	n := New(adapter, replyer)

	if err := n.Reply(context.Background(), address.ServiceAddress{Namespace: "ns", RoutingKey: "rk"}, uuid.New(), nil, nil); err != nil {
		t.Fatalf("node_test - reply: %v", err)
	}
	if replyer.calls != 1 {
		t.Fatalf("node_test - expected reply to delegate exactly once, got %d", replyer.calls)
	}
}

func TestNode_DeclareEventSubscription(t *testing.T) {
	adapter := &fakeAdapter{}
	replyer := &fakeReplyer{}
	n := New(adapter, replyer)

	reg := newTestRegistry()
	sub, err := n.DeclareEventSubscription(context.Background(), address.EventAddress{Namespace: "domain", RoutingKey: "user.created"}, reg)
	if err != nil {
		t.Fatalf("node_test - declare event subscription: %v", err)
	}
	defer sub.Dispose()

	if adapter.declaredExchanges != 1 || adapter.declaredQueues != 1 {
		t.Fatalf("node_test - expected one exchange and queue declared, got %d/%d", adapter.declaredExchanges, adapter.declaredQueues)
	}
}

func TestNode_DisposeAllIsIdempotentAcrossServices(t *testing.T) {
	adapter := &fakeAdapter{}
	replyer := &fakeReplyer{}
	n := New(adapter, replyer)

	if _, err := n.DeclareService(context.Background(), address.ServiceAddress{Namespace: "ns", RoutingKey: "a"}, service.Balanced, service.Serial, noopBehaviour{}); err != nil {
		t.Fatalf("node_test - declare service a: %v", err)
	}
	if _, err := n.DeclareService(context.Background(), address.ServiceAddress{Namespace: "ns", RoutingKey: "b"}, service.Balanced, service.Serial, noopBehaviour{}); err != nil {
		t.Fatalf("node_test - declare service b: %v", err)
	}

	if err := n.DisposeAll(); err != nil {
		t.Fatalf("node_test - first dispose all: %v", err)
	}
	if err := n.DisposeAll(); err != nil {
		t.Fatalf("node_test - second dispose all should be a no-op: %v", err)
	}
}

func TestNode_SetSinkWiresRpcBehaviourOnException(t *testing.T) {
	adapter := &fakeAdapter{}
	replyer := &fakeReplyer{}
	n := New(adapter, replyer)

	var gotCode string
	n.SetSink(storage.CallbackSink{
		OnRPCFailure: func(_ context.Context, _, _, code, _ string) { gotCode = code },
	})

	b := rpc.NewRpcBehaviour(newTestRegistry())
	if _, err := n.DeclareService(context.Background(), address.ServiceAddress{Namespace: "ns", RoutingKey: "rpc"}, service.Balanced, service.Serial, b); err != nil {
		t.Fatalf("node_test - declare service: %v", err)
	}
	defer n.DisposeAll()

	if b.OnException == nil {
		t.Fatal("node_test - expected DeclareService to wire OnException from the configured sink")
	}
	b.OnException(context.Background(), "SomeInterface", "SomeOp", "BadRequest", "bad")
	if gotCode != "BadRequest" {
		t.Fatalf("node_test - expected sink to observe code BadRequest, got %q", gotCode)
	}
}

func TestNode_SetSinkDoesNotOverrideExistingOnException(t *testing.T) {
	adapter := &fakeAdapter{}
	replyer := &fakeReplyer{}
	n := New(adapter, replyer)
	n.SetSink(storage.CallbackSink{OnRPCFailure: func(context.Context, string, string, string, string) {
		t.Fatal("node_test - sink should not be called when OnException was already set")
	}})

	b := rpc.NewRpcBehaviour(newTestRegistry())
	called := false
	b.OnException = func(context.Context, string, string, string, string) { called = true }

	if _, err := n.DeclareService(context.Background(), address.ServiceAddress{Namespace: "ns", RoutingKey: "rpc2"}, service.Balanced, service.Serial, b); err != nil {
		t.Fatalf("node_test - declare service: %v", err)
	}
	defer n.DisposeAll()

	b.OnException(context.Background(), "I", "Op", "Code", "msg")
	if !called {
		t.Fatal("node_test - expected the pre-set OnException to remain in place")
	}
}

// Package node wires a broker.Adapter, a reply publisher, and the set of
// Services/EventSubscriptions declared against them into one supervisor.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/morezero/messagecore/address"
	"github.com/morezero/messagecore/broker"
	"github.com/morezero/messagecore/event"
	"github.com/morezero/messagecore/rpc"
	"github.com/morezero/messagecore/serializer"
	"github.com/morezero/messagecore/service"
	"github.com/morezero/messagecore/storage"
)

const logPrefix = "node:Node"

// Node is the back-reference stored in every Envelope (it implements
// envelope.Node and broker.Node via Reply) and the supervisor that may
// resetup its live Services after a broker failover signal.
type Node struct {
	adapter broker.Adapter
	replyer broker.Node

	mu       sync.Mutex
	services []*service.Service
	sink     storage.Sink
}

// New wires adapter (resource declaration) and replyer (reply
// publication) into a Node. In broker/nats the two roles are played by
// two objects over one connection: broker/nats.Adapter and
// broker/nats.ReplyPublisher.
func New(adapter broker.Adapter, replyer broker.Node) *Node {
	return &Node{adapter: adapter, replyer: replyer}
}

// SetSink configures the dead-letter sink this node attaches to every
// RpcBehaviour and EventSubscription it declares from this point on
// (existing ones are left alone). An explicit OnException/OnDecodeError
// already set on a behaviour or subscription before it's declared here
// takes precedence and is never overwritten.
func (n *Node) SetSink(sink storage.Sink) {
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
}

// Reply implements envelope.Node and broker.Node by delegating to the
// configured replyer.
func (n *Node) Reply(ctx context.Context, replyTo address.ServiceAddress, correlationID uuid.UUID, headers map[string][]byte, body []byte) error {
	return n.replyer.Reply(ctx, replyTo, correlationID, headers, body)
}

// DeclareService constructs a Service bound to this node, sets it up
// against the node's adapter, and tracks it so ResetupAll can recover it
// after a broker failover.
func (n *Node) DeclareService(ctx context.Context, addr address.ServiceAddress, typ service.Type, exec service.Execution, behaviour service.Behaviour) (*service.Service, error) {
	slog.Info(fmt.Sprintf("%s - declaring service %s", logPrefix, addr))

	n.attachSink(behaviour)

	svc := service.New(addr, typ, exec, behaviour, n)
	if err := svc.Setup(ctx, n.adapter); err != nil {
		return nil, fmt.Errorf("%s - setup service %s: %w", logPrefix, addr, err)
	}

	n.mu.Lock()
	n.services = append(n.services, svc)
	n.mu.Unlock()
	return svc, nil
}

// DeclareEventSubscription declares a fresh, independently-addressed
// queue on addr's exchange and wraps it as an EventSubscription. Every
// call yields its own copy of the namespace/routing-key's traffic, the
// same fanout-style independence Service uses for its Fanout type.
func (n *Node) DeclareEventSubscription(ctx context.Context, addr address.EventAddress, registry *serializer.Registry) (*event.EventSubscription, error) {
	slog.Info(fmt.Sprintf("%s - declaring event subscription %s", logPrefix, addr))

	if err := n.adapter.DeclareExchange(ctx, addr.Namespace, "topic", true, false); err != nil {
		return nil, fmt.Errorf("%s - declare exchange %s: %w", logPrefix, addr.Namespace, err)
	}

	suffix, err := address.RandomFanoutSuffix()
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	queue, err := n.adapter.DeclareQueue(ctx, addr.String()+"%"+suffix, false, false, addr.Namespace, addr.RoutingKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - declare queue for %s: %w", logPrefix, addr, err)
	}

	sub := event.New(addr, queue, registry)
	n.mu.Lock()
	sink := n.sink
	n.mu.Unlock()
	if sink != nil && sub.OnDecodeError == nil {
		sub.OnDecodeError = func(ctx context.Context, address, reason string) {
			sink.EventDecodeFailure(ctx, address, reason)
		}
	}
	return sub, nil
}

// attachSink sets behaviour's OnException to the node's configured sink,
// if one is configured and behaviour hasn't already had one set.
func (n *Node) attachSink(behaviour service.Behaviour) {
	rb, ok := behaviour.(*rpc.RpcBehaviour)
	if !ok {
		return
	}
	n.mu.Lock()
	sink := n.sink
	n.mu.Unlock()
	if sink != nil && rb.OnException == nil {
		rb.OnException = func(ctx context.Context, interfaceName, operation, code, message string) {
			sink.RPCFailure(ctx, interfaceName, operation, code, message)
		}
	}
}

// ResetupAll calls Resetup on every Service declared through this node,
// in declaration order, stopping at the first failure. Intended as the
// supervisor's response to a broker failover signal.
func (n *Node) ResetupAll(ctx context.Context) error {
	n.mu.Lock()
	services := append([]*service.Service(nil), n.services...)
	n.mu.Unlock()

	for _, svc := range services {
		slog.Info(fmt.Sprintf("%s - resetting up service %s", logPrefix, svc.Address))
		if err := svc.Resetup(ctx, n.adapter); err != nil {
			return fmt.Errorf("%s - resetup service %s: %w", logPrefix, svc.Address, err)
		}
	}
	return nil
}

// DisposeAll disposes every Service declared through this node, in
// declaration order, collecting the first error but attempting every
// disposal regardless.
func (n *Node) DisposeAll() error {
	n.mu.Lock()
	services := append([]*service.Service(nil), n.services...)
	n.mu.Unlock()

	var firstErr error
	for _, svc := range services {
		if err := svc.Dispose(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s - dispose service %s: %w", logPrefix, svc.Address, err)
		}
	}
	return firstErr
}

// Package service implements Service: a named message handler that owns a
// broker queue and runs a receive loop under a chosen execution strategy.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/morezero/messagecore/address"
	"github.com/morezero/messagecore/broker"
	"github.com/morezero/messagecore/envelope"
)

const logPrefix = "service:Service"

// Type selects how a Service's queue is declared and shared.
type Type int

const (
	// Singleton declares an exclusive queue; exclusivity is the
	// uniqueness mechanism, so a second Setup on the same address fails.
	Singleton Type = iota
	// Fanout gives every subscriber of the same address an independent
	// copy of every message.
	Fanout
	// Balanced shares one queue across all of its consumers so the
	// broker distributes messages among them.
	Balanced
)

// Execution selects how the receive loop dispatches to the behaviour.
type Execution int

const (
	// Serial awaits each handler before receiving the next message.
	Serial Execution = iota
	// Parallel spawns each handler without awaiting it.
	Parallel
)

// Behaviour handles one decoded envelope. RpcBehaviour is the one
// concrete implementation shipped with this module (package rpc).
type Behaviour interface {
	Handle(ctx context.Context, env envelope.Envelope) error
}

// ErrAlreadySetup is returned by Setup when called twice without an
// intervening Dispose.
var ErrAlreadySetup = errors.New("service: already set up")

// Service owns one queue and runs a receive loop per its execution
// strategy, routing decoded envelopes to its behaviour.
type Service struct {
	Address   address.ServiceAddress
	Type      Type
	Execution Execution
	Behaviour Behaviour
	Node      envelope.Node

	// OnUnhandledException is invoked for handler errors and transport
	// failures that cannot be attributed to a specific request. May be nil.
	OnUnhandledException func(b Behaviour, err error)

	setupDone atomic.Bool
	mu        sync.Mutex
	queue     broker.Queue
	cancel    context.CancelFunc
	disposed  atomic.Bool
}

// New constructs an inert Service. Call Setup to declare broker resources
// and start the receive loop.
func New(addr address.ServiceAddress, typ Type, exec Execution, behaviour Behaviour, node envelope.Node) *Service {
	return &Service{Address: addr, Type: typ, Execution: exec, Behaviour: behaviour, Node: node}
}

// Setup declares broker resources for the service's address and type, and
// starts the receive loop. Callable exactly once before the matching
// Dispose.
func (s *Service) Setup(ctx context.Context, adapter broker.Adapter) error {
	if !s.setupDone.CompareAndSwap(false, true) {
		return fmt.Errorf("%s - %w: %s", logPrefix, ErrAlreadySetup, s.Address)
	}

	if err := adapter.DeclareExchange(ctx, s.Address.Namespace, "topic", true, false); err != nil {
		s.setupDone.Store(false)
		return fmt.Errorf("%s - declare exchange %s: %w", logPrefix, s.Address.Namespace, err)
	}

	queueName, durable, exclusive, err := s.queueSpec()
	if err != nil {
		s.setupDone.Store(false)
		return err
	}

	queue, err := adapter.DeclareQueue(ctx, queueName, durable, exclusive, s.Address.Namespace, s.Address.RoutingKey, nil)
	if err != nil {
		s.setupDone.Store(false)
		return fmt.Errorf("%s - declare queue %s: %w", logPrefix, queueName, err)
	}

	s.mu.Lock()
	s.queue = queue
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(loopCtx, queue)
	return nil
}

// queueSpec computes the queue name and declaration flags for the
// service's Type.
func (s *Service) queueSpec() (name string, durable, exclusive bool, err error) {
	switch s.Type {
	case Singleton:
		return s.Address.String(), true, true, nil
	case Balanced:
		return s.Address.String(), true, false, nil
	case Fanout:
		suffix, err := address.RandomFanoutSuffix()
		if err != nil {
			return "", false, false, fmt.Errorf("%s - %w", logPrefix, err)
		}
		return s.Address.String() + "%" + suffix, false, false, nil
	default:
		return "", false, false, fmt.Errorf("%s - unknown service type %d", logPrefix, s.Type)
	}
}

// Resetup cancels the current loop, disposes the current queue, and calls
// Setup again against adapter. The address and behaviour are preserved;
// the queue identity is not. In-flight Parallel handlers are allowed to
// finish independently.
func (s *Service) Resetup(ctx context.Context, adapter broker.Adapter) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	old := s.queue
	s.queue = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Dispose(); err != nil {
			return fmt.Errorf("%s - dispose previous queue for %s: %w", logPrefix, s.Address, err)
		}
	}

	s.setupDone.Store(false)
	return s.Setup(ctx, adapter)
}

// Dispose cancels the loop and releases the queue. Idempotent.
func (s *Service) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.queue != nil {
		return s.queue.Dispose()
	}
	return nil
}

// loop pulls messages from queue until ctx is cancelled, dispatching each
// to the behaviour per the configured Execution strategy.
func (s *Service) loop(ctx context.Context, queue broker.Queue) {
	for {
		msg, err := queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.reportUnhandled(err)
			continue
		}

		env := envelope.Wrap(msg, s.Node)

		switch s.Execution {
		case Serial:
			s.dispatch(ctx, env)
		case Parallel:
			// Wait only until the spawned goroutine is running, not for the
			// handler to finish, so handlers start in delivery order.
			started := make(chan struct{})
			go func() {
				close(started)
				s.dispatch(ctx, env)
			}()
			<-started
		}
	}
}

// dispatch invokes the behaviour and reports any escaping error as
// unhandled; the loop itself never fails from a handler error.
func (s *Service) dispatch(ctx context.Context, env envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.reportUnhandled(fmt.Errorf("%s - handler panic: %v", logPrefix, r))
		}
	}()
	if err := s.Behaviour.Handle(ctx, env); err != nil {
		s.reportUnhandled(err)
	}
}

func (s *Service) reportUnhandled(err error) {
	if s.OnUnhandledException != nil {
		s.OnUnhandledException(s.Behaviour, err)
	}
}

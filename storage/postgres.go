// Package storage holds the optional dead-letter sink for RPC exceptions
// and event decode failures — pure operational observability, never
// required for dispatch correctness.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "storage:DeadLetterStore"

// Pool sizing for the dead-letter sink: this connection is only ever hit
// on the cold path (a handler exception or a decode failure), so it needs
// headroom for bursts of failures, not steady-state throughput.
const (
	poolMaxConns = 10
	poolMinConns = 1
	pingTimeout  = 5 * time.Second
)

// NewPool opens a pgx pool against databaseURL, sized for the dead-letter
// sink's bursty-but-low-volume write pattern, and confirms it's reachable
// before returning.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - %s is not a valid pool configuration: %w", logPrefix, redactDSN(databaseURL), err)
	}
	config.MaxConns = poolMaxConns
	config.MinConns = poolMinConns

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - open pool: %w", logPrefix, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - dead-letter database unreachable: %w", logPrefix, err)
	}

	stat := pool.Stat()
	slog.Info(fmt.Sprintf("%s - pool ready (max %d, idle %d)", logPrefix, stat.MaxConns(), stat.IdleConns()))
	return pool, nil
}

// redactDSN replaces everything before the first "@" (scheme and user
// info) with "***", so the password of a URL-form connection string does
// not reach an error log. A string without "@" is returned unchanged.
func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i != -1 {
		return "***@" + dsn[i+1:]
	}
	return dsn
}

// DeadLetterStore records non-OK RPC responses and event decode failures,
// for after-the-fact operator inspection.
type DeadLetterStore struct {
	pool *pgxpool.Pool
}

// NewDeadLetterStore wraps an already-connected pool.
func NewDeadLetterStore(pool *pgxpool.Pool) *DeadLetterStore {
	return &DeadLetterStore{pool: pool}
}

// RecordRPCFailure inserts one row describing a non-OK RpcResponse.
func (s *DeadLetterStore) RecordRPCFailure(ctx context.Context, interfaceName, operation, code, message string) {
	const q = `INSERT INTO rpc_dead_letters (interface_name, operation, error_code, error_message, occurred_at) VALUES ($1, $2, $3, $4, now())`
	if _, err := s.pool.Exec(ctx, q, interfaceName, operation, code, message); err != nil {
		slog.Error(fmt.Sprintf("%s - record rpc failure: %v", logPrefix, err))
	}
}

// RecordEventDecodeFailure inserts one row describing an event that
// failed to decode, reported via EventSubscription.OnDecodeError from
// either Receive or Observe.
func (s *DeadLetterStore) RecordEventDecodeFailure(ctx context.Context, address, reason string) {
	const q = `INSERT INTO event_dead_letters (address, reason, occurred_at) VALUES ($1, $2, now())`
	if _, err := s.pool.Exec(ctx, q, address, reason); err != nil {
		slog.Error(fmt.Sprintf("%s - record event decode failure: %v", logPrefix, err))
	}
}

// Close releases the underlying connection pool.
func (s *DeadLetterStore) Close() {
	s.pool.Close()
}

// Sink is the operational-observability hook surface: RpcBehaviour calls
// RPCFailure for non-OK responses, EventSubscription (Receive and Observe)
// calls EventDecodeFailure for decode errors. Both are fire-and-forget —
// no return value, since dead-letter recording must never affect
// dispatch semantics.
type Sink interface {
	RPCFailure(ctx context.Context, interfaceName, operation, code, message string)
	EventDecodeFailure(ctx context.Context, address, reason string)
}

// NoOpSink is a Sink that does nothing. A Node with no sink set leaves the
// hooks unset, which has the same effect.
type NoOpSink struct{}

func (NoOpSink) RPCFailure(context.Context, string, string, string, string) {}
func (NoOpSink) EventDecodeFailure(context.Context, string, string)         {}

// CallbackSink adapts two plain functions into a Sink, primarily for
// tests that want to observe dead-letter calls without a database.
type CallbackSink struct {
	OnRPCFailure         func(ctx context.Context, interfaceName, operation, code, message string)
	OnEventDecodeFailure func(ctx context.Context, address, reason string)
}

func (s CallbackSink) RPCFailure(ctx context.Context, interfaceName, operation, code, message string) {
	if s.OnRPCFailure != nil {
		s.OnRPCFailure(ctx, interfaceName, operation, code, message)
	}
}

func (s CallbackSink) EventDecodeFailure(ctx context.Context, address, reason string) {
	if s.OnEventDecodeFailure != nil {
		s.OnEventDecodeFailure(ctx, address, reason)
	}
}

// PostgresSink adapts a DeadLetterStore to the Sink interface.
type PostgresSink struct {
	Store *DeadLetterStore
}

func (s PostgresSink) RPCFailure(ctx context.Context, interfaceName, operation, code, message string) {
	s.Store.RecordRPCFailure(ctx, interfaceName, operation, code, message)
}

func (s PostgresSink) EventDecodeFailure(ctx context.Context, address, reason string) {
	s.Store.RecordEventDecodeFailure(ctx, address, reason)
}

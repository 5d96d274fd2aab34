// Package nats implements broker.Adapter and broker.Queue over NATS. It
// maps the AMQP-flavoured exchange/queue model the core expects onto NATS
// subjects and queue groups: a topic exchange becomes a subject prefix, a
// Balanced queue becomes a NATS queue group, a Fanout queue becomes a
// queue group of its own under its uniquely suffixed name, and Singleton exclusivity is
// emulated with a claim handshake (see adapter.go).
package nats

import (
	"fmt"
	"log/slog"
	"time"

	natsgo "github.com/nats-io/nats.go"
)

const logPrefix = "nats:Connect"

// Dial tuning: generous enough to survive a broker rolling restart
// without the caller needing its own retry loop around Connect.
const (
	dialTimeout       = 10 * time.Second
	reconnectWait     = 2 * time.Second
	maxReconnectTries = 60
)

// Connect dials url and blocks until the handshake completes (or fails),
// installing lifecycle handlers that log every disconnect/reconnect/close
// under name so multiple node connections stay distinguishable in the
// logs. The returned connection keeps reconnecting in the background up
// to maxReconnectTries before natsgo gives up and calls ClosedHandler.
func Connect(url, name string) (*natsgo.Conn, error) {
	opts := dialOptions(name)
	slog.Info(fmt.Sprintf("%s - dialing %s (client %q, timeout %s)", logPrefix, url, name, dialTimeout))

	nc, err := natsgo.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s - dial %s: %w", logPrefix, url, err)
	}

	slog.Info(fmt.Sprintf("%s - established on %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// dialOptions builds the functional-option list Connect passes to
// natsgo.Connect, with the three lifecycle callbacks routed through a
// single named-client logger.
func dialOptions(name string) []natsgo.Option {
	log := clientLogger(name)
	return []natsgo.Option{
		natsgo.Name(name),
		natsgo.Timeout(dialTimeout),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.MaxReconnects(maxReconnectTries),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			log("lost connection: %v", err)
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log("recovered, now on %s", nc.ConnectedUrl())
		}),
		natsgo.ClosedHandler(func(*natsgo.Conn) {
			log("closed permanently")
		}),
	}
}

// clientLogger returns a logging func bound to one client name, so
// concurrent connections (e.g. in tests) don't produce ambiguous output.
func clientLogger(name string) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		slog.Info(fmt.Sprintf("%s - [%s] %s", logPrefix, name, fmt.Sprintf(format, args...)))
	}
}

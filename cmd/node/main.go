// Package main is the entrypoint for a messagecore node: it wires the
// configured broker connection into a node.Node and blocks until a
// shutdown signal arrives. Bindings (RpcBehaviour contracts, event
// subscriptions) are supplied by the embedding program; this binary on
// its own hosts no services, matching this module's library-first scope.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/morezero/messagecore/broker/nats"
	"github.com/morezero/messagecore/config"
	"github.com/morezero/messagecore/node"
	"github.com/morezero/messagecore/storage"
)

const logPrefix = "main:node"

func main() {
	if err := run(); err != nil {
		log.Fatalf("node: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%s - load config: %w", logPrefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s - invalid config: %w", logPrefix, err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))
	slog.Info(fmt.Sprintf("%s - starting %s", logPrefix, cfg.NodeName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: connect to the broker.
	nc, err := nats.Connect(cfg.BrokerURL, cfg.NodeName)
	if err != nil {
		return fmt.Errorf("%s - connect to broker %s: %w", logPrefix, cfg.BrokerURL, err)
	}
	defer nc.Drain()
	slog.Info(fmt.Sprintf("%s - connected to broker at %s", logPrefix, cfg.BrokerURL))

	// Step 2: wire the adapter and reply publisher into a Node.
	adapter := nats.NewAdapter(nc)
	replyer := nats.NewReplyPublisher(nc)
	n := node.New(adapter, replyer)

	// Step 3: optionally connect the dead-letter store and attach it as
	// this node's sink, so every RpcBehaviour/EventSubscription declared
	// from here on gets its OnException/OnDecodeError wired automatically.
	if cfg.DeadLetterDSN != "" {
		pool, err := storage.NewPool(ctx, cfg.DeadLetterDSN)
		if err != nil {
			return fmt.Errorf("%s - connect dead-letter store: %w", logPrefix, err)
		}
		store := storage.NewDeadLetterStore(pool)
		defer store.Close()
		n.SetSink(storage.PostgresSink{Store: store})
		slog.Info(fmt.Sprintf("%s - dead-letter persistence enabled", logPrefix))
	}

	// Bindings (RpcBehaviour contracts, event subscriptions) are declared
	// by the embedding program via n.DeclareService / n.DeclareEventSubscription
	// before this point in a real deployment, after SetSink so the hooks
	// above apply to them.

	slog.Info(fmt.Sprintf("%s - node ready", logPrefix))

	// Step 4: wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - received signal %s, shutting down", logPrefix, sig))

	if err := n.DisposeAll(); err != nil {
		slog.Error(fmt.Sprintf("%s - dispose services: %v", logPrefix, err))
	}
	slog.Info(fmt.Sprintf("%s - shutdown complete", logPrefix))
	return nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

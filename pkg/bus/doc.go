/*
Package bus provides a durable message bus: a persistent queueing engine with
bounded-concurrency dispatch, retry and dead-lettering, crash recovery, and
an append-only journal of every sent, received, and published message.

# Architecture

The package follows the same adapter pattern as the rest of this library:
  - Core interfaces (Store, JournalStore, SubscriptionStore) are defined here
    with zero external dependencies.
  - Each storage backend lives in its own sub-package
    (pkg/bus/adapters/{memqueue,sqlitequeue,postgresqueue,mongoqueue,kafkaqueue}).
  - Callers wire one adapter per queue and hand it to Engine/QueueingService;
    no deep class hierarchy sits between the engine and its storage.

# Usage

	import (
	    "github.com/coreflux/busline/pkg/bus"
	    "github.com/coreflux/busline/pkg/bus/adapters/sqlitequeue"
	)

	store, _ := sqlitequeue.New(sqlitequeue.Config{Path: "bus.db"})
	svc := bus.NewQueueingService(func(name string) (bus.Store, error) { return store, nil }, nil)

	err := svc.CreateQueue(ctx, "orders", func(ctx context.Context, msg *bus.Message, dc *bus.DeliveryContext) error {
	    // handle msg
	    return nil
	}, bus.DefaultQueueOptions())

	err = svc.Enqueue(ctx, "orders", msg, nil)

At-least-once delivery to in-process listeners is the guarantee; see the
package-level invariants documented on Engine for the precise contract.
*/
package bus

/*
Package flashckpt is a fault-tolerant checkpoint staging layer for
distributed model training. A training process persists its in-memory
state by writing synchronously into a shared-memory region; a separate
saver process drains that region to durable storage asynchronously.
This keeps the expensive storage write off the training step at the
cost of strict cross-process coordination.

# Roles

Each local shard has exactly one staging segment and one shared lock,
shared between the shard's designated writer process and the node's
saver. The writer stages under the lock; the saver drains under the
same lock. Contention is never waited out: a step that cannot be staged
atomically across the whole replica group is skipped on every rank.

# Basic usage

	store, _ := storage.NewFSStore("/mnt/ckpt")
	backend := flashckpt.NewStoreBackend(store, 1, 1)

	engine, err := flashckpt.New(backend, "/mnt/ckpt",
	    flashckpt.WithNamespace("job42"),
	    flashckpt.WithLogger(logger))
	if err != nil {
	    log.Fatal(err)
	}
	defer engine.Close()

	// In the training loop: cheap, synchronous staging.
	if err := engine.SaveToMemory(ctx, step, state, ""); err != nil {
	    log.Fatal(err)
	}

	// After a restart: memory first, storage as fallback.
	state, err := engine.Load(ctx, "")

# Multi-rank jobs

Configure a collective group so ranks agree before staging:

	engine, err := flashckpt.New(backend, dir,
	    flashckpt.WithGroup(group))

Every rank in the group must call SaveToMemory and StateFromMemory the
same number of times in the same order. The engine's collectives
deadlock otherwise; this precondition cannot be checked at runtime. A
nil group is single-process mode and is the safe default for tests.

# Error handling

Lock contention and cross-rank step divergence are not errors: they are
expected, high-frequency control flow, resolved by skipping the write
or returning an empty load. Programmer errors (ErrReservedStateKey,
ErrStepRegression) fail the call. Collective transport failures are
fatal and propagate as *CollectiveError.

# Subpackages

  - shm: shared-memory segments, lock, and event queue
  - collective: group consistency primitives
  - event: control-plane messages between engine and saver
  - storage: durable checkpoint stores (filesystem, SQLite)
  - saver: the asynchronous drain process
  - config: YAML/JSON configuration loading
  - observability: logging, metrics, and tracing helpers
*/
package flashckpt

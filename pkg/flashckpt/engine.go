package flashckpt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nash635/dlrover/pkg/flashckpt/collective"
	"github.com/nash635/dlrover/pkg/flashckpt/event"
	"github.com/nash635/dlrover/pkg/flashckpt/observability"
	"github.com/nash635/dlrover/pkg/flashckpt/shm"
)

// Engine stages training state in a shared-memory region so the node's
// saver process can persist it to durable storage off the training
// path. SaveToMemory is synchronous but fast; the expensive storage
// write happens asynchronously in the saver.
//
// One Engine exists per training process. The shard's designated writer
// (the process whose local rank equals the shard ID) is the only rank
// that actually writes; other ranks' calls are no-ops that exist to
// keep the replica group's collective calls aligned.
//
// Collective alignment obligation: every rank in the configured group
// must call SaveToMemory and StateFromMemory the same number of times
// in the same order, with the same step. The engine cannot detect a
// violation; the group simply deadlocks. The group must contain exactly
// the writer ranks.
type Engine struct {
	backend       Backend
	checkpointDir string
	namespace     string
	env           Env
	group         collective.Group

	localShardID int
	lock         *shm.Lock
	region       *shm.Segment
	events       *shm.Queue

	cachedStep uint64

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	closed bool
}

// New constructs an Engine bound to the node's pre-existing shared
// objects (the saver process creates them). checkpointDir is the
// durable storage directory announced to the saver at bootstrap.
//
// On first start the node's local-rank-zero process sends the one-shot
// saver bootstrap descriptor and the current shard topology. On a
// restart it instead force-releases the shard lock, which a crashed
// predecessor may have left held, and sends nothing: the saver is
// assumed alive and already configured.
func New(backend Backend, checkpointDir string, opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.envSet {
		cfg.env = EnvFromOS()
	}

	localShardCount := backend.LocalShardCount()
	if localShardCount < 1 {
		localShardCount = 1
	}
	shardID := cfg.env.LocalRank % localShardCount

	e := &Engine{
		backend:       backend,
		checkpointDir: checkpointDir,
		namespace:     cfg.namespace,
		env:           cfg.env,
		group:         cfg.group,
		localShardID:  shardID,
		logger:        observability.EnrichLogger(cfg.logger, cfg.env.Rank, cfg.env.LocalRank, shardID),
		metrics:       cfg.metrics,
		spans:         cfg.spans,
	}

	lock, err := shm.OpenLock(shm.LockName(e.namespace, shardID))
	if err != nil {
		return nil, &StagingError{Op: "bind lock", Shard: shardID, Err: err}
	}
	region, err := shm.OpenSegment(shm.StagingName(e.namespace, shardID))
	if err != nil {
		lock.Close()
		return nil, &StagingError{Op: "bind segment", Shard: shardID, Err: err}
	}
	e.lock = lock
	e.region = region

	if e.env.LocalRank == 0 {
		events, err := shm.OpenQueue(shm.EventQueueName(e.namespace))
		if err != nil {
			e.Close()
			return nil, &StagingError{Op: "bind event queue", Shard: shardID, Err: err}
		}
		e.events = events
	}

	if e.env.RestartCount > 0 {
		// A held lock after a crash is assumed orphaned: no owner will
		// ever release it. Trade strict mutual exclusion across the
		// crash boundary for liveness.
		if e.env.LocalRank == e.localShardID {
			e.lock.ForceRelease()
			observability.LogForceRelease(e.logger, e.lock.Name(), e.env.RestartCount)
		}
		return e, nil
	}

	if e.env.LocalRank == 0 {
		if err := e.bootstrapSaver(); err != nil {
			e.Close()
			return nil, err
		}
		if err := e.updateSaverConfig(); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// bootstrapSaver sends the one-shot descriptor that causes the node's
// saver process to instantiate itself. First start, local rank 0 only.
func (e *Engine) bootstrapSaver() error {
	factory, err := shm.OpenQueue(shm.FactoryQueueName(e.namespace))
	if err != nil {
		return &StagingError{Op: "bind factory queue", Shard: e.localShardID, Err: err}
	}
	defer factory.Close()

	desc := event.NewSaverBootstrap(e.backend.SaverTypeID(), e.checkpointDir, event.ShardDescriptor{
		LocalShardID:     e.localShardID,
		LocalShardCount:  e.backend.LocalShardCount(),
		GlobalShardCount: e.backend.GlobalShardCount(),
	})
	data, err := desc.Marshal()
	if err != nil {
		return &StagingError{Op: "encode bootstrap", Shard: e.localShardID, Err: err}
	}
	if err := factory.Put(data); err != nil {
		return &StagingError{Op: "send bootstrap", Shard: e.localShardID, Err: err}
	}
	observability.LogBootstrapSent(e.logger, desc.SaverType, desc.CheckpointDir)
	return nil
}

// updateSaverConfig announces the current global shard count on the
// event queue.
func (e *Engine) updateSaverConfig() error {
	evt := event.NewUpdateShard(e.backend.GlobalShardCount())
	data, err := evt.Marshal()
	if err != nil {
		return &StagingError{Op: "encode event", Shard: e.localShardID, Err: err}
	}
	if err := e.events.Put(data); err != nil {
		return &StagingError{Op: "send event", Shard: e.localShardID, Err: err}
	}
	return nil
}

// SaveToMemory synchronously stages state for the given step in the
// shard's shared-memory region. If the saver holds the shard lock on
// any rank (it is mid-drain), the write is skipped on every rank for
// this step rather than blocking the training loop; the next iteration
// simply tries again.
//
// Only the shard's designated writer stages bytes; calls on other ranks
// return immediately. step must be at least 1 and not older than the
// last staged step. path is the optional durable destination recorded
// alongside the payload for a later storage write.
func (e *Engine) SaveToMemory(ctx context.Context, step uint64, state StateDict, path string) error {
	return e.saveStateToMemory(ctx, state, ShardConfig{Step: step, Path: path})
}

func (e *Engine) saveStateToMemory(ctx context.Context, state StateDict, conf ShardConfig) (err error) {
	if e.closed {
		return ErrEngineClosed
	}
	if e.env.LocalRank != e.localShardID {
		return nil
	}
	if _, ok := state[ReservedConfigKey]; ok {
		return ErrReservedStateKey
	}
	if conf.Step == 0 {
		// Step 0 is the header's nothing-staged marker; a generation
		// written under it would be invisible to every reader.
		return ErrStepZero
	}
	if conf.Step < e.cachedStep {
		return ErrStepRegression
	}

	ctx, span := e.spans.StartSaveSpan(ctx, conf.Step)
	defer func() { e.spans.EndSpanWithError(span, err) }()
	done := observability.TimedOperation()

	payload, err := marshalState(state)
	if err != nil {
		return err
	}
	confBytes, err := json.Marshal(conf)
	if err != nil {
		return &StagingError{Op: "encode config", Shard: e.localShardID, Err: err}
	}

	acquired := e.lock.TryAcquire()
	allReady, cerr := collective.AllAgree(e.group, acquired)
	if cerr != nil {
		if acquired {
			e.lock.Release()
		}
		return &CollectiveError{Op: "all_agree", Err: cerr}
	}
	if !allReady {
		// At least one rank's shard is mid-drain. A checkpoint that
		// cannot be taken atomically across the replica group is
		// abandoned, not retried: the training loop stays non-blocking.
		if acquired {
			e.lock.Release()
		}
		observability.LogSaveSkipped(e.logger, e.env.Rank, conf.Step)
		e.metrics.RecordSkip(ctx, "lock_unavailable")
		return nil
	}

	if serr := e.region.Save(conf.Step, confBytes, payload); serr != nil {
		e.lock.Release()
		return &StagingError{Op: "save", Shard: e.localShardID, Err: serr}
	}
	e.lock.Release()
	e.cachedStep = conf.Step

	observability.LogSaveComplete(e.logger, conf.Step, done(), len(payload))
	e.metrics.RecordSave(ctx, timeSince(done), int64(len(payload)))

	// No rank may advance past this save until every rank's
	// write-or-skip decision for the step is finalized; otherwise a
	// later load could see a mix of generations.
	if berr := collective.Barrier(e.group); berr != nil {
		return &CollectiveError{Op: "barrier", Err: berr}
	}
	return nil
}

// StateFromMemory returns the staged checkpoint, or nil when the
// staging region holds nothing trustworthy: nothing staged yet, ranks
// disagreeing on the staged step, or a generation that changed mid
// read. A nil result tells the caller to fall back to durable storage.
func (e *Engine) StateFromMemory(ctx context.Context) (state StateDict, err error) {
	if e.closed {
		return nil, ErrEngineClosed
	}

	ctx, span := e.spans.StartLoadSpan(ctx)
	defer func() { e.spans.EndSpanWithError(span, err) }()
	done := observability.TimedOperation()

	hdr, herr := e.region.ReadHeader()
	if herr != nil {
		return nil, &StagingError{Op: "read header", Shard: e.localShardID, Err: herr}
	}
	if hdr.Step == 0 {
		e.metrics.RecordLoad(ctx, timeSince(done), false)
		return nil, nil
	}

	consistent, cerr := collective.AllEqual(e.group, hdr.Step)
	if cerr != nil {
		return nil, &CollectiveError{Op: "all_equal", Err: cerr}
	}
	if !consistent {
		observability.LogStepDivergence(e.logger, hdr.Step)
		e.metrics.RecordLoad(ctx, timeSince(done), false)
		return nil, nil
	}

	_, payload, lerr := e.region.Load()
	if errors.Is(lerr, shm.ErrTornRead) || errors.Is(lerr, shm.ErrNotStaged) {
		// The writer or saver moved the generation under us. The step
		// check above is advisory only; discard rather than trust it.
		e.metrics.RecordLoad(ctx, timeSince(done), false)
		return nil, nil
	}
	if lerr != nil {
		return nil, &StagingError{Op: "load", Shard: e.localShardID, Err: lerr}
	}

	state, err = unmarshalState(payload)
	if err != nil {
		return nil, err
	}
	observability.LogLoadFromMemory(e.logger, hdr.Step)
	e.metrics.RecordLoad(ctx, timeSince(done), true)
	return state, nil
}

// SaveToStorage synchronously persists state through the backend and,
// on the job's rank zero, asks the saver to drain the staged generation
// as well. Delivery of the drain request is best effort; a full queue
// is logged and dropped.
func (e *Engine) SaveToStorage(ctx context.Context, step uint64, state StateDict, path string) error {
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.backend.SaveToStorage(step, state, path); err != nil {
		return err
	}
	if e.env.Rank == 0 && e.events != nil {
		evt := event.NewSaveToStorage(step)
		data, err := evt.Marshal()
		if err != nil {
			return &StagingError{Op: "encode event", Shard: e.localShardID, Err: err}
		}
		if err := e.events.Put(data); err != nil {
			observability.LogEventDropped(e.logger, string(evt.Type), err)
		}
	}
	return nil
}

// Load returns the most recent checkpoint, preferring the staged
// shared-memory copy and falling back to durable storage when memory
// holds nothing trustworthy.
func (e *Engine) Load(ctx context.Context, resumePath string) (StateDict, error) {
	state, err := e.StateFromMemory(ctx)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}
	return e.backend.Load(resumePath)
}

// CachedStep returns the last step this rank successfully staged.
func (e *Engine) CachedStep() uint64 { return e.cachedStep }

// LocalShardID returns the shard this process maps to on its node.
func (e *Engine) LocalShardID() int { return e.localShardID }

// Close unmaps the shared objects. The engine never unlinks them; their
// lifetime belongs to the saver process.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var err error
	if e.region != nil {
		err = errors.Join(err, e.region.Close())
	}
	if e.lock != nil {
		err = errors.Join(err, e.lock.Close())
	}
	if e.events != nil {
		err = errors.Join(err, e.events.Close())
	}
	return err
}

// timeSince converts a TimedOperation reading back to a Duration.
func timeSince(done func() float64) time.Duration {
	return time.Duration(done() * float64(time.Millisecond))
}

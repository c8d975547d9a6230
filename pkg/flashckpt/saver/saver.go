// Package saver implements the asynchronous checkpoint saver: the
// process that owns the node's shared staging objects and drains staged
// checkpoints to durable storage, off the training critical path.
//
// The saver is the creating side of every shared object (locks,
// staging segments, event queues); training-side engines only bind to
// them. It consumes control events from the shared event queue and
// reads staging regions under the same per-shard lock the writer uses,
// so a drain in progress makes the writer skip its step instead of
// blocking.
package saver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nash635/dlrover/pkg/flashckpt/event"
	"github.com/nash635/dlrover/pkg/flashckpt/observability"
	"github.com/nash635/dlrover/pkg/flashckpt/shm"
	"github.com/nash635/dlrover/pkg/flashckpt/storage"
)

// Config configures the saver's shared objects and polling behavior.
type Config struct {
	// Namespace is the shared-object namespace; must match the
	// engines' namespace on this node.
	Namespace string

	// LocalShardCount is the number of staging shards on this node.
	LocalShardCount int

	// SegmentCapacity is the staging capacity per shard in bytes.
	// Defaults to shm.DefaultSegmentSize.
	SegmentCapacity int

	// QueueCapacity is the event queue capacity in bytes.
	// Defaults to shm.DefaultQueueCapacity.
	QueueCapacity int

	// PollInterval is how often the event queue and contended locks
	// are re-checked. Defaults to 100ms.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "flash"
	}
	if c.LocalShardCount < 1 {
		c.LocalShardCount = 1
	}
	if c.SegmentCapacity <= 0 {
		c.SegmentCapacity = shm.DefaultSegmentSize
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = shm.DefaultQueueCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

// Option configures saver construction.
type Option func(*Saver)

// WithLogger enables structured logging on the saver.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Saver) { s.logger = logger }
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Saver) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager. Default: no-op.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(s *Saver) {
		if sm != nil {
			s.spans = sm
		}
	}
}

// stagedConfig is the staged metadata blob written by the engine.
type stagedConfig struct {
	Step uint64 `json:"step"`
	Path string `json:"path,omitempty"`
}

// Saver owns the node's shared staging objects and drains them to a
// storage.Store. Not safe for concurrent use; run one Saver per node.
type Saver struct {
	cfg   Config
	store storage.Store

	locks   []*shm.Lock
	regions []*shm.Segment
	events  *shm.Queue
	factory *shm.Queue

	lastPersisted    []uint64
	globalShardCount int

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	closed bool
}

// New creates the node's shared objects and a Saver that drains them
// into store. Creation fails if another saver already owns the
// namespace on this node.
func New(cfg Config, store storage.Store, opts ...Option) (*Saver, error) {
	cfg.applyDefaults()
	s := &Saver{
		cfg:           cfg,
		store:         store,
		lastPersisted: make([]uint64, cfg.LocalShardCount),
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(s)
	}

	cleanup := func() { s.Close() }

	for shardID := 0; shardID < cfg.LocalShardCount; shardID++ {
		lock, err := shm.CreateLock(shm.LockName(cfg.Namespace, shardID))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create shard lock %d: %w", shardID, err)
		}
		s.locks = append(s.locks, lock)

		region, err := shm.CreateSegment(shm.StagingName(cfg.Namespace, shardID), cfg.SegmentCapacity)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create staging segment %d: %w", shardID, err)
		}
		s.regions = append(s.regions, region)
	}

	events, err := shm.CreateQueue(shm.EventQueueName(cfg.Namespace), cfg.QueueCapacity)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create event queue: %w", err)
	}
	s.events = events

	factory, err := shm.CreateQueue(shm.FactoryQueueName(cfg.Namespace), cfg.QueueCapacity)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create factory queue: %w", err)
	}
	s.factory = factory

	return s, nil
}

// WaitBootstrap blocks until a training engine sends its one-shot
// bootstrap descriptor, or ctx is done.
func (s *Saver) WaitBootstrap(ctx context.Context) (event.SaverBootstrap, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		msg, ok, err := s.factory.Get()
		if err != nil {
			return event.SaverBootstrap{}, fmt.Errorf("read factory queue: %w", err)
		}
		if ok {
			desc, err := event.UnmarshalBootstrap(msg)
			if err != nil {
				return event.SaverBootstrap{}, err
			}
			if s.logger != nil {
				s.logger.Info("saver bootstrapped",
					slog.String("session_id", desc.SessionID),
					slog.String("saver_type", desc.SaverType),
					slog.String("checkpoint_dir", desc.CheckpointDir),
					slog.Int("local_shard_count", desc.Shard.LocalShardCount),
				)
			}
			s.globalShardCount = desc.Shard.GlobalShardCount
			return desc, nil
		}
		select {
		case <-ctx.Done():
			return event.SaverBootstrap{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run consumes control events until ctx is done. UpdateShard events
// adjust the recorded topology; SaveToStorage events drain every shard.
func (s *Saver) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for {
			msg, ok, err := s.events.Get()
			if err != nil {
				if errors.Is(err, shm.ErrClosed) {
					return nil
				}
				return fmt.Errorf("read event queue: %w", err)
			}
			if !ok {
				break
			}
			if err := s.handleEvent(ctx, msg); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Saver) handleEvent(ctx context.Context, msg []byte) error {
	evt, err := event.Unmarshal(msg)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("discarding undecodable control event",
				slog.String("error", err.Error()))
		}
		return nil
	}
	switch evt.Type {
	case event.TypeUpdateShard:
		s.globalShardCount = evt.GlobalShardCount
		if s.logger != nil {
			s.logger.Info("shard topology updated",
				slog.Int("global_shard_count", evt.GlobalShardCount))
		}
	case event.TypeSaveToStorage:
		for shardID := range s.regions {
			if err := s.Drain(ctx, shardID); err != nil {
				observability.LogDrainError(s.logger, shardID, err)
			}
		}
	default:
		if s.logger != nil {
			s.logger.Warn("ignoring unknown control event",
				slog.String("type", string(evt.Type)))
		}
	}
	return nil
}

// Drain persists the shard's staged generation to storage, holding the
// shard lock for the whole read-and-write so the writer skips rather
// than races. Already-persisted and empty generations are no-ops.
func (s *Saver) Drain(ctx context.Context, shardID int) (err error) {
	if shardID < 0 || shardID >= len(s.regions) {
		return fmt.Errorf("no such shard %d", shardID)
	}

	ctx, span := s.spans.StartDrainSpan(ctx, shardID)
	defer func() { s.spans.EndSpanWithError(span, err) }()
	done := observability.TimedOperation()

	lock := s.locks[shardID]
	for !lock.TryAcquire() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
	defer lock.Release()

	region := s.regions[shardID]
	hdr, err := region.ReadHeader()
	if err != nil {
		return err
	}
	if hdr.Step == 0 || hdr.Step <= s.lastPersisted[shardID] {
		return nil
	}

	confBytes, payload, err := region.Load()
	if err != nil {
		return err
	}
	var conf stagedConfig
	if err := json.Unmarshal(confBytes, &conf); err != nil {
		return fmt.Errorf("decode staged config: %w", err)
	}

	start := time.Now()
	if err := s.store.Save(conf.Step, payload, conf.Path); err != nil {
		s.metrics.RecordDrain(ctx, time.Since(start), int64(len(payload)), err)
		return fmt.Errorf("persist shard %d step %d: %w", shardID, conf.Step, err)
	}
	s.metrics.RecordDrain(ctx, time.Since(start), int64(len(payload)), nil)
	s.lastPersisted[shardID] = conf.Step

	observability.LogDrainComplete(s.logger, shardID, conf.Step, done(), len(payload))
	return nil
}

// DrainAll drains every shard, returning the first error.
func (s *Saver) DrainAll(ctx context.Context) error {
	for shardID := range s.regions {
		if err := s.Drain(ctx, shardID); err != nil {
			return err
		}
	}
	return nil
}

// LastPersisted returns the last step drained for a shard, or 0.
func (s *Saver) LastPersisted(shardID int) uint64 {
	if shardID < 0 || shardID >= len(s.lastPersisted) {
		return 0
	}
	return s.lastPersisted[shardID]
}

// GlobalShardCount returns the most recently announced global shard count.
func (s *Saver) GlobalShardCount() int { return s.globalShardCount }

// Close unmaps and unlinks every shared object this saver created.
func (s *Saver) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	for _, region := range s.regions {
		err = errors.Join(err, region.Close(), region.Unlink())
	}
	for _, lock := range s.locks {
		err = errors.Join(err, lock.Close(), lock.Unlink())
	}
	if s.events != nil {
		err = errors.Join(err, s.events.Close(), s.events.Unlink())
	}
	if s.factory != nil {
		err = errors.Join(err, s.factory.Close(), s.factory.Unlink())
	}
	return err
}

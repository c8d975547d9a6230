package flashckpt

import (
	"errors"
	"fmt"
	"os"

	"github.com/nash635/dlrover/pkg/flashckpt/storage"
)

// Backend is the per-training-framework capability interface the engine
// orchestrates against. The engine's job ends at staging and
// validating; the serialization format and storage layout belong to the
// backend.
type Backend interface {
	// SaverTypeID identifies the saver implementation the node's saver
	// process should instantiate for this backend.
	SaverTypeID() string

	// LocalShardCount is the number of model shards per node.
	LocalShardCount() int

	// GlobalShardCount is the number of model shards across the job.
	GlobalShardCount() int

	// SaveToStorage synchronously persists state to durable storage.
	// Used as a fallback or for periodic full checkpoints.
	SaveToStorage(step uint64, state StateDict, path string) error

	// Load reads a checkpoint from durable storage. An empty resumePath
	// means "the most recent checkpoint". A nil StateDict with nil
	// error means storage holds no checkpoint.
	Load(resumePath string) (StateDict, error)
}

// StoreBackend is a Backend over a storage.Store: the whole state dict
// is serialized into a single payload per step. It suits data-parallel
// training where every rank holds a full replica.
type StoreBackend struct {
	store       storage.Store
	localShards int
	globalShard int
}

// NewStoreBackend creates a single-payload backend over store. Shard
// counts describe the sharding topology this backend serves; plain
// data-parallel jobs use 1 and 1.
func NewStoreBackend(store storage.Store, localShardCount, globalShardCount int) *StoreBackend {
	if localShardCount < 1 {
		localShardCount = 1
	}
	if globalShardCount < localShardCount {
		globalShardCount = localShardCount
	}
	return &StoreBackend{
		store:       store,
		localShards: localShardCount,
		globalShard: globalShardCount,
	}
}

// SaverTypeID implements Backend.
func (b *StoreBackend) SaverTypeID() string { return "single_file" }

// LocalShardCount implements Backend.
func (b *StoreBackend) LocalShardCount() int { return b.localShards }

// GlobalShardCount implements Backend.
func (b *StoreBackend) GlobalShardCount() int { return b.globalShard }

// SaveToStorage implements Backend.
func (b *StoreBackend) SaveToStorage(step uint64, state StateDict, path string) error {
	data, err := marshalState(state)
	if err != nil {
		return err
	}
	if err := b.store.Save(step, data, path); err != nil {
		return fmt.Errorf("save to storage: %w", err)
	}
	return nil
}

// Load implements Backend. A non-empty resumePath is read directly from
// the filesystem; otherwise the store's latest checkpoint is used.
func (b *StoreBackend) Load(resumePath string) (StateDict, error) {
	var (
		data []byte
		err  error
	)
	if resumePath != "" {
		data, err = os.ReadFile(resumePath)
		if err != nil {
			return nil, fmt.Errorf("read resume path: %w", err)
		}
	} else {
		info, lerr := b.store.Latest()
		if errors.Is(lerr, storage.ErrNotFound) {
			return nil, nil
		}
		if lerr != nil {
			return nil, fmt.Errorf("find latest checkpoint: %w", lerr)
		}
		data, err = b.store.Load(info.Step)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
	}
	return unmarshalState(data)
}

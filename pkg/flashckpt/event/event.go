// Package event defines the control-plane messages exchanged between
// the checkpoint engine and the saver process over the shared-memory
// queues: shard-topology updates, persist-to-storage requests, and the
// one-shot saver bootstrap descriptor.
//
// Messages are JSON on the wire. Every message carries a uuid so the
// saver can de-duplicate under at-least-once delivery.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies a control event kind.
type Type string

// Control event kinds.
const (
	// TypeUpdateShard tells the saver the global shard count changed.
	TypeUpdateShard Type = "update_shard"

	// TypeSaveToStorage asks the saver to drain the staged generation
	// for the given step to durable storage.
	TypeSaveToStorage Type = "save_to_storage"
)

// Event is one control message on a shard's event queue.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the event kind.
	Type Type `json:"type"`

	// GlobalShardCount accompanies TypeUpdateShard.
	GlobalShardCount int `json:"global_shard_count,omitempty"`

	// Step accompanies TypeSaveToStorage.
	Step uint64 `json:"step,omitempty"`

	// SentAt is when the producer created the event.
	SentAt time.Time `json:"sent_at"`
}

// NewUpdateShard creates a shard-topology update event.
func NewUpdateShard(globalShardCount int) Event {
	return Event{
		ID:               uuid.NewString(),
		Type:             TypeUpdateShard,
		GlobalShardCount: globalShardCount,
		SentAt:           time.Now().UTC(),
	}
}

// NewSaveToStorage creates a persist-to-storage request event.
func NewSaveToStorage(step uint64) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   TypeSaveToStorage,
		Step:   step,
		SentAt: time.Now().UTC(),
	}
}

// Marshal serializes an event to JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an event from JSON.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// ShardDescriptor describes this node's slice of the sharding topology.
// It is fixed for the lifetime of a process.
type ShardDescriptor struct {
	// LocalShardID is the shard this writer owns on its node.
	LocalShardID int `json:"local_shard_id"`

	// LocalShardCount is the number of shards per node.
	LocalShardCount int `json:"local_shard_count"`

	// GlobalShardCount is the number of shards across the whole job.
	GlobalShardCount int `json:"global_shard_count"`
}

// SaverBootstrap is the one-shot descriptor that causes the saver
// process to instantiate itself. Sent once per shard lifetime, only at
// first start by the node's local-rank-zero writer.
type SaverBootstrap struct {
	// SessionID uniquely identifies this bootstrap attempt.
	SessionID string `json:"session_id"`

	// SaverType selects the saver implementation (storage backend
	// family) on the saver side.
	SaverType string `json:"saver_type"`

	// CheckpointDir is the durable storage directory.
	CheckpointDir string `json:"checkpoint_dir"`

	// Shard is the sender's shard topology.
	Shard ShardDescriptor `json:"shard"`
}

// NewSaverBootstrap creates a bootstrap descriptor with a fresh session ID.
func NewSaverBootstrap(saverType, checkpointDir string, shard ShardDescriptor) SaverBootstrap {
	return SaverBootstrap{
		SessionID:     uuid.NewString(),
		SaverType:     saverType,
		CheckpointDir: checkpointDir,
		Shard:         shard,
	}
}

// Marshal serializes a bootstrap descriptor to JSON.
func (b SaverBootstrap) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBootstrap deserializes a bootstrap descriptor from JSON.
func UnmarshalBootstrap(data []byte) (SaverBootstrap, error) {
	var b SaverBootstrap
	if err := json.Unmarshal(data, &b); err != nil {
		return SaverBootstrap{}, fmt.Errorf("decode bootstrap descriptor: %w", err)
	}
	return b, nil
}

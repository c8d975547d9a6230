package flashckpt

import (
	"encoding/json"
	"fmt"
)

// ReservedConfigKey is the state-dict key the engine reserves for its
// own metadata. Caller state must never contain it; SaveToMemory fails
// with ErrReservedStateKey if it does.
const ReservedConfigKey = "_dlrover_ckpt_config"

// StateDict is the opaque training state passed through the engine.
// The engine never interprets its contents beyond the reserved-key
// check; it serializes the dict as a whole and stages the bytes.
type StateDict map[string]any

// ShardConfig identifies one checkpoint attempt. Created per save call;
// immutable once constructed.
type ShardConfig struct {
	// Step is the monotonic checkpoint version.
	Step uint64 `json:"step"`

	// Path is the optional durable-storage destination, used only if
	// the checkpoint must later be persisted from the staging region.
	Path string `json:"path,omitempty"`
}

// marshalState serializes a state dict for staging.
func marshalState(state StateDict) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializeState, err)
	}
	return data, nil
}

// unmarshalState deserializes a staged payload.
func unmarshalState(data []byte) (StateDict, error) {
	var state StateDict
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	return state, nil
}

package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nash635/dlrover/pkg/flashckpt/event"
)

func TestUpdateShardRoundtrip(t *testing.T) {
	evt := event.NewUpdateShard(8)
	require.Equal(t, event.TypeUpdateShard, evt.Type)
	require.NotEmpty(t, evt.ID)
	require.False(t, evt.SentAt.IsZero())

	data, err := evt.Marshal()
	require.NoError(t, err)

	got, err := event.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, event.TypeUpdateShard, got.Type)
	assert.Equal(t, 8, got.GlobalShardCount)
}

func TestSaveToStorageRoundtrip(t *testing.T) {
	evt := event.NewSaveToStorage(1200)

	data, err := evt.Marshal()
	require.NoError(t, err)

	got, err := event.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, event.TypeSaveToStorage, got.Type)
	assert.Equal(t, uint64(1200), got.Step)
}

func TestEventIDsUnique(t *testing.T) {
	a := event.NewSaveToStorage(1)
	b := event.NewSaveToStorage(1)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := event.Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestBootstrapRoundtrip(t *testing.T) {
	desc := event.NewSaverBootstrap("single_file", "/mnt/ckpt", event.ShardDescriptor{
		LocalShardID:     0,
		LocalShardCount:  2,
		GlobalShardCount: 16,
	})
	require.NotEmpty(t, desc.SessionID)

	data, err := desc.Marshal()
	require.NoError(t, err)

	got, err := event.UnmarshalBootstrap(data)
	require.NoError(t, err)
	assert.Equal(t, desc.SessionID, got.SessionID)
	assert.Equal(t, "single_file", got.SaverType)
	assert.Equal(t, "/mnt/ckpt", got.CheckpointDir)
	assert.Equal(t, 2, got.Shard.LocalShardCount)
	assert.Equal(t, 16, got.Shard.GlobalShardCount)
}

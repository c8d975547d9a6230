package shm_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nash635/dlrover/pkg/flashckpt/shm"
)

func newTestQueue(t *testing.T, capacity int) (*shm.Queue, string) {
	t.Helper()
	name := uniqueName("queue")
	q, err := shm.CreateQueue(name, capacity)
	require.NoError(t, err)
	t.Cleanup(func() {
		q.Close()
		q.Unlink()
	})
	return q, name
}

func TestQueueEmptyGet(t *testing.T) {
	q, _ := newTestQueue(t, 0)

	msg, ok, err := q.Get()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, msg)
}

func TestQueueFIFOOrder(t *testing.T) {
	q, name := newTestQueue(t, 0)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Put([]byte(fmt.Sprintf("event-%d", i))))
	}

	// The consumer side binds by name, like the saver does.
	consumer, err := shm.OpenQueue(name)
	require.NoError(t, err)
	defer consumer.Close()

	for i := 0; i < 10; i++ {
		msg, ok, err := consumer.Get()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("event-%d", i), string(msg))
	}

	_, ok, err := consumer.Get()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueWraparound(t *testing.T) {
	q, _ := newTestQueue(t, shm.MinQueueCapacity)

	// Frames sized so positions wrap the ring several times.
	frame := make([]byte, 1000)
	for round := 0; round < 20; round++ {
		for i := range frame {
			frame[i] = byte(round)
		}
		require.NoError(t, q.Put(frame))
		got, ok, err := q.Get()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, frame, got, "round %d", round)
	}
}

func TestQueueFull(t *testing.T) {
	q, _ := newTestQueue(t, shm.MinQueueCapacity)

	frame := make([]byte, 1020) // 1024 with the length prefix
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Put(frame))
	}
	assert.ErrorIs(t, q.Put(frame), shm.ErrQueueFull)

	// Draining one frame frees space again.
	_, ok, err := q.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, q.Put(frame))
}

func TestQueueOversizedFrame(t *testing.T) {
	q, _ := newTestQueue(t, shm.MinQueueCapacity)

	err := q.Put(make([]byte, shm.MinQueueCapacity))
	assert.ErrorIs(t, err, shm.ErrQueueFull)
}

func TestQueueCloseWrite(t *testing.T) {
	q, name := newTestQueue(t, 0)
	require.NoError(t, q.Put([]byte("last")))
	q.CloseWrite()

	assert.ErrorIs(t, q.Put([]byte("after close")), shm.ErrClosed)

	consumer, err := shm.OpenQueue(name)
	require.NoError(t, err)
	defer consumer.Close()

	// Remaining frames drain, then the closed state surfaces.
	msg, ok, err := consumer.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "last", string(msg))

	_, _, err = consumer.Get()
	assert.ErrorIs(t, err, shm.ErrClosed)
}

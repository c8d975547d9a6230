package shm_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nash635/dlrover/pkg/flashckpt/shm"
)

// uniqueName returns a shared-object name that cannot collide across
// test runs or parallel packages.
func uniqueName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func newTestLock(t *testing.T) (*shm.Lock, string) {
	t.Helper()
	name := uniqueName("lock")
	lock, err := shm.CreateLock(name)
	require.NoError(t, err)
	t.Cleanup(func() {
		lock.Close()
		lock.Unlink()
	})
	return lock, name
}

func TestLockTryAcquireRelease(t *testing.T) {
	lock, _ := newTestLock(t)

	assert.True(t, lock.TryAcquire())
	assert.NotZero(t, lock.Holder())

	// Second acquire by any binder must fail while held.
	assert.False(t, lock.TryAcquire())

	lock.Release()
	assert.Zero(t, lock.Holder())
	assert.True(t, lock.TryAcquire())
	lock.Release()
}

func TestLockMutualExclusionAcrossBinders(t *testing.T) {
	lock, name := newTestLock(t)

	// A second handle on the same name simulates the saver process.
	other, err := shm.OpenLock(name)
	require.NoError(t, err)
	defer other.Close()

	require.True(t, lock.TryAcquire())
	assert.False(t, other.TryAcquire(), "second binder acquired a held lock")

	lock.Release()
	assert.True(t, other.TryAcquire())
	assert.False(t, lock.TryAcquire())
	other.Release()
}

func TestLockForceRelease(t *testing.T) {
	lock, name := newTestLock(t)

	require.True(t, lock.TryAcquire())

	// A restarted writer binds by name and clears the orphaned hold.
	restarted, err := shm.OpenLock(name)
	require.NoError(t, err)
	defer restarted.Close()

	restarted.ForceRelease()
	assert.Zero(t, lock.Holder())
	assert.True(t, restarted.TryAcquire())
	restarted.Release()
}

func TestLockOpenMissing(t *testing.T) {
	_, err := shm.OpenLock(uniqueName("missing"))
	assert.Error(t, err)
}

func TestLockClosedHandleIsInert(t *testing.T) {
	lock, _ := newTestLock(t)
	require.NoError(t, lock.Close())

	assert.False(t, lock.TryAcquire())
	assert.Zero(t, lock.Holder())
	lock.Release() // must not panic
	assert.NoError(t, lock.Close())
}

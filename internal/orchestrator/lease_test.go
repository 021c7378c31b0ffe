package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	droerrors "github.com/systmms/drops/internal/errors"
)

func TestLeaseRegistry_AcquireRelease(t *testing.T) {
	t.Parallel()

	leases := NewLeaseRegistry()
	require.NoError(t, leases.Acquire("checkout", "req-1"))

	holder, held := leases.Holder("checkout")
	assert.True(t, held)
	assert.Equal(t, "req-1", holder)

	// Other pairs are independent.
	require.NoError(t, leases.Acquire("search", "req-2"))

	leases.Release("checkout", "req-1")
	_, held = leases.Holder("checkout")
	assert.False(t, held)

	require.NoError(t, leases.Acquire("checkout", "req-3"))
}

func TestLeaseRegistry_RejectsSecondAcquire(t *testing.T) {
	t.Parallel()

	leases := NewLeaseRegistry()
	require.NoError(t, leases.Acquire("checkout", "req-1"))

	err := leases.Acquire("checkout", "req-2")
	require.Error(t, err)
	assert.True(t, droerrors.IsConcurrentRun(err))

	var concurrent droerrors.ConcurrentRunError
	require.ErrorAs(t, err, &concurrent)
	assert.Equal(t, "checkout", concurrent.Pair)
	assert.Equal(t, "req-1", concurrent.ActiveRequestID)
}

func TestLeaseRegistry_ReleaseChecksHolder(t *testing.T) {
	t.Parallel()

	leases := NewLeaseRegistry()
	require.NoError(t, leases.Acquire("checkout", "req-1"))

	// A stale release from another request must not free the lease.
	leases.Release("checkout", "req-stale")
	holder, held := leases.Holder("checkout")
	assert.True(t, held)
	assert.Equal(t, "req-1", holder)
}

func TestLeaseRegistry_ForceRelease(t *testing.T) {
	t.Parallel()

	leases := NewLeaseRegistry()
	require.NoError(t, leases.Acquire("checkout", "req-1"))

	leases.ForceRelease("checkout")
	_, held := leases.Holder("checkout")
	assert.False(t, held)

	// Force releasing a free lease is a no-op.
	leases.ForceRelease("checkout")
}

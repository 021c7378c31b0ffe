package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/drops/internal/events"
	"github.com/systmms/drops/internal/orchestrator"
)

func testRun(pair, requestID string, state orchestrator.State, startedAt time.Time) *orchestrator.Run {
	return &orchestrator.Run{
		Request: events.FailoverRequest{
			ID:          requestID,
			Pair:        pair,
			Reason:      "region outage",
			RequestedAt: startedAt,
		},
		Pair:      pair,
		State:     state,
		StartedAt: startedAt,
		Deadline:  startedAt.Add(15 * time.Minute),
	}
}

func TestFileStore_PendingRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	started := time.Now().UTC().Truncate(time.Second)
	run := testRun("checkout", "req-1", orchestrator.StateDeployingCanary, started)
	run.RemainingCompensations = []string{orchestrator.OpRemoveCanary, orchestrator.OpReleaseCapacity}

	require.NoError(t, store.SavePending(run))

	loaded, err := store.LoadPending()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "req-1", loaded[0].Request.ID)
	assert.Equal(t, orchestrator.StateDeployingCanary, loaded[0].State)
	assert.Equal(t, run.RemainingCompensations, loaded[0].RemainingCompensations)
	assert.True(t, loaded[0].StartedAt.Equal(started))

	require.NoError(t, store.ClearPending("req-1"))
	loaded, err = store.LoadPending()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileStore_SavePendingOverwrites(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	run := testRun("checkout", "req-1", orchestrator.StateScalingCompute, time.Now().UTC())
	require.NoError(t, store.SavePending(run))

	run.State = orchestrator.StateValidatingCanary
	require.NoError(t, store.SavePending(run))

	loaded, err := store.LoadPending()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, orchestrator.StateValidatingCanary, loaded[0].State)
}

func TestFileStore_LoadPendingOldestFirst(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	now := time.Now().UTC()
	require.NoError(t, store.SavePending(testRun("checkout", "req-new", orchestrator.StateFailed, now)))
	require.NoError(t, store.SavePending(testRun("search", "req-old", orchestrator.StateFailed, now.Add(-time.Hour))))

	loaded, err := store.LoadPending()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "req-old", loaded[0].Request.ID)
	assert.Equal(t, "req-new", loaded[1].Request.ID)
}

func TestFileStore_LoadPendingEmptyDir(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	loaded, err := store.LoadPending()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, store.ClearPending("never-saved"))
}

func TestFileStore_History(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	now := time.Now().UTC()
	require.NoError(t, store.SaveHistory(testRun("checkout", "req-1", orchestrator.StateCompleted, now.Add(-2*time.Hour))))
	require.NoError(t, store.SaveHistory(testRun("checkout", "req-2", orchestrator.StateRolledBack, now.Add(-time.Hour))))
	require.NoError(t, store.SaveHistory(testRun("search", "req-3", orchestrator.StateCompleted, now)))

	history, err := store.History("checkout", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "req-2", history[0].Request.ID, "newest first")
	assert.Equal(t, "req-1", history[1].Request.ID)

	limited, err := store.History("checkout", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "req-2", limited[0].Request.ID)

	all, err := store.AllHistory(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "req-3", all[0].Request.ID)

	none, err := store.History("unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFileStore_CleanupOlderThan(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	now := time.Now().UTC()
	require.NoError(t, store.SaveHistory(testRun("checkout", "req-old", orchestrator.StateCompleted, now.Add(-72*time.Hour))))
	require.NoError(t, store.SaveHistory(testRun("checkout", "req-recent", orchestrator.StateCompleted, now.Add(-time.Hour))))

	require.NoError(t, store.CleanupOlderThan(24*time.Hour))

	history, err := store.History("checkout", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "req-recent", history[0].Request.ID)

	// Cleanup with no history directory at all is a no-op.
	empty := NewFileStore(t.TempDir())
	require.NoError(t, empty.CleanupOlderThan(time.Hour))
}

func TestFileStore_SanitizesRequestIDs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewFileStore(dir)
	run := testRun("us-east/us-west", "req:1 *", orchestrator.StateFailed, time.Now().UTC())
	require.NoError(t, store.SavePending(run))

	entries, err := os.ReadDir(filepath.Join(dir, "pending"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1_-.json", entries[0].Name())

	require.NoError(t, store.SaveHistory(run))
	pairDirs, err := os.ReadDir(filepath.Join(dir, "history"))
	require.NoError(t, err)
	require.Len(t, pairDirs, 1)
	assert.Equal(t, "us-east-us-west", pairDirs[0].Name())
}

func TestDefaultStoreDir(t *testing.T) {
	t.Setenv("DROPS_STATE_DIR", "/tmp/drops-test-state")
	assert.Equal(t, "/tmp/drops-test-state", DefaultStoreDir())

	t.Setenv("DROPS_STATE_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "drops"), DefaultStoreDir())
}

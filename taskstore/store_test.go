/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package taskstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamplane/controlstore/ddb/ddbtest"
	cserrors "github.com/streamplane/controlstore/errors"
)

func newTestStore(t *testing.T) (*Store, *ddbtest.Fake) {
	t.Helper()
	fake := ddbtest.New("control-test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fake, "control-test", logger), fake
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice",
		[]string{"q1"}, []string{"q2"}, "https://example.com/hook")
	require.NoError(t, err)

	got, err := store.Get(ctx, "org1", "task1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []string{"q1"}, got.InputQueueNames)
	assert.Equal(t, "https://example.com/hook", got.EndpointURL)
	assert.False(t, got.IsDeleted)

	missing, err := store.Get(ctx, "org1", "never-deployed")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetClearsTombstone(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)
	_, err = store.MarkDeleted(ctx, "org1", "task1")
	require.NoError(t, err)

	_, err = store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)
	got, err := store.Get(ctx, "org1", "task1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsDeleted)
	assert.Zero(t, got.TTLInEpochSec)
}

func TestMarkDeleted(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)

	record, err := store.MarkDeleted(ctx, "org1", "task1")
	require.NoError(t, err)
	assert.True(t, record.IsDeleted)
	assert.NotZero(t, record.TTLInEpochSec, "tombstone carries a retention expiry")

	_, err = store.MarkDeleted(ctx, "org1", "no-such-task")
	assert.True(t, cserrors.IsConditionFailed(err))
}

func TestGetForOrganizationFiltersDeleted(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)
	_, err = store.Set(ctx, "org1", "task2", "alice", []string{"q2"}, []string{"q3"}, "")
	require.NoError(t, err)
	_, err = store.Set(ctx, "org2", "task1", "bob", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)
	_, err = store.MarkDeleted(ctx, "org1", "task2")
	require.NoError(t, err)

	var live []string
	require.NoError(t, store.GetForOrganization(ctx, "org1", false, func(batch []TaskRecord) error {
		for _, record := range batch {
			live = append(live, record.TaskID)
		}
		return nil
	}))
	assert.Equal(t, []string{"task1"}, live)

	var all []string
	require.NoError(t, store.GetForOrganization(ctx, "org1", true, func(batch []TaskRecord) error {
		for _, record := range batch {
			all = append(all, record.TaskID)
		}
		return nil
	}))
	assert.ElementsMatch(t, []string{"task1", "task2"}, all)
}

func TestCheckLoops(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)

	// task2 consuming q2 and producing q1 closes a loop through task1.
	cycle, err := store.CheckLoops(ctx, "org1", "task2", []string{"q2"}, []string{"q1"})
	require.NoError(t, err)
	assert.NotNil(t, cycle)

	// Producing an unrelated queue does not.
	cycle, err = store.CheckLoops(ctx, "org1", "task2", []string{"q2"}, []string{"q3"})
	require.NoError(t, err)
	assert.Nil(t, cycle)
}

func TestCheckLoopsExcludesOwnEdges(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)
	_, err = store.Set(ctx, "org1", "task2", "alice", []string{"q2"}, []string{"q3"}, "")
	require.NoError(t, err)

	// Rewiring task1 to consume q3 would close task1 -> task2 -> task1, but
	// its old q1 -> q2 edge must not be part of the check.
	cycle, err := store.CheckLoops(ctx, "org1", "task1", []string{"q3"}, []string{"q4"})
	require.NoError(t, err)
	assert.Nil(t, cycle)

	cycle, err = store.CheckLoops(ctx, "org1", "task1", []string{"q3"}, []string{"q2"})
	require.NoError(t, err)
	assert.NotNil(t, cycle)
}

func TestCheckLoopsSelfLoop(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	cycle, err := store.CheckLoops(ctx, "org1", "taskX", []string{"q1"}, []string{"q1"})
	require.NoError(t, err)
	require.Len(t, cycle, 1)
	assert.Equal(t, "taskX", cycle[0].Name)
}

func TestCheckLoopsScopedToOrganization(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)

	// The same wiring in another organization is independent.
	cycle, err := store.CheckLoops(ctx, "org2", "task2", []string{"q2"}, []string{"q1"})
	require.NoError(t, err)
	assert.Nil(t, cycle)
}

func TestCheckLoopsIgnoresDeletedTasks(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)
	_, err = store.MarkDeleted(ctx, "org1", "task1")
	require.NoError(t, err)

	cycle, err := store.CheckLoops(ctx, "org1", "task2", []string{"q2"}, []string{"q1"})
	require.NoError(t, err)
	assert.Nil(t, cycle)
}

func TestAcquireLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	lock, err := store.AcquireLock(ctx, "org1", "task1")
	require.NoError(t, err)
	require.NotNil(t, lock)

	// Held: a competing acquire comes back empty.
	second, err := store.AcquireLock(ctx, "org1", "task1")
	require.NoError(t, err)
	assert.Nil(t, second)

	// Distinct pairs are unaffected.
	otherTask, err := store.AcquireLock(ctx, "org1", "task2")
	require.NoError(t, err)
	require.NotNil(t, otherTask)
	otherOrg, err := store.AcquireLock(ctx, "org2", "task1")
	require.NoError(t, err)
	require.NotNil(t, otherOrg)

	require.NoError(t, lock.Release(ctx))
	reacquired, err := store.AcquireLock(ctx, "org1", "task1")
	require.NoError(t, err)
	assert.NotNil(t, reacquired)
}

func TestAcquireLockAfterHolderLeaseExpires(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	lock, err := store.AcquireLock(ctx, "org1", "task1")
	require.NoError(t, err)
	require.NotNil(t, lock)

	// A crashed holder's lease lapses and the lock becomes stealable.
	store.nowFunc = func() time.Time { return time.Now().Add(lockExpiry + time.Minute) }
	stolen, err := store.AcquireLock(ctx, "org1", "task1")
	require.NoError(t, err)
	require.NotNil(t, stolen)

	// The old holder's release must not free the thief's lock.
	require.NoError(t, lock.Release(ctx))
	still, err := store.AcquireLock(ctx, "org1", "task1")
	require.NoError(t, err)
	assert.Nil(t, still)
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_FullThenIncremental(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.remote.addShare("s1")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		e.remote.putItem("s1", id, "title-"+id, "", "secret-"+id)
	}

	require.NoError(t, e.sync.Sync(ctx))
	assert.Equal(t, SyncSynced, e.sync.Status().State)
	assert.Equal(t, 3, e.remote.count("ItemPage"))

	n, err := e.itemRepo.CountByShare(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	share, err := e.shareRepo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "e5", share.LastEventID)
	assert.Equal(t, "secret-c", string(e.open(t, "s1", "c").Content))

	// 远端变更：更新、删除、新增
	e.remote.putItem("s1", "a", "title-a", "", "changed")
	e.remote.deleteItem("s1", "b")
	e.remote.putItem("s1", "f", "title-f", "", "secret-f")

	require.NoError(t, e.sync.Sync(ctx))
	assert.Equal(t, 3, e.remote.count("ItemPage"), "second sync reads events, not the listing")
	assert.Equal(t, 2, e.remote.count("GetEvents"))

	assert.Equal(t, "changed", string(e.open(t, "s1", "a").Content))
	_, err = e.itemRepo.Get(ctx, "s1", "b")
	assert.True(t, apperrors.Is(err, code.ErrorItemNotFound))
	assert.Equal(t, "secret-f", string(e.open(t, "s1", "f").Content))

	share, err = e.shareRepo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "e8", share.LastEventID)
}

func TestSync_FailingShareIsolated(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.remote.addShare("s1")
	e.remote.addShare("s2")
	e.remote.putItem("s1", "a", "", "", "one")
	e.remote.putItem("s2", "b", "", "", "two")
	boom := apperrors.New(code.ErrorNetworkFailure, errors.New("connection reset"))
	e.remote.failItems["s2"] = boom

	err := e.sync.Sync(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, code.ErrorSyncFailure))
	assert.True(t, apperrors.Is(err, code.ErrorNetworkFailure))
	assert.Contains(t, err.Error(), "share=s2")
	assert.Equal(t, SyncError, e.sync.Status().State)

	// s1 progress is committed
	assert.Equal(t, "one", string(e.open(t, "s1", "a").Content))
	s2, err := e.shareRepo.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, s2.LastEventID)

	delete(e.remote.failItems, "s2")
	require.NoError(t, e.sync.Sync(ctx))
	assert.Equal(t, SyncSynced, e.sync.Status().State)
	assert.NoError(t, e.sync.Status().LastErr)
	assert.Equal(t, "two", string(e.open(t, "s2", "b").Content))
}

func TestSync_RemovedSharePurged(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.remote.addShare("s1")
	e.remote.addShare("s2")
	e.remote.putItem("s2", "b", "", "", "two")
	require.NoError(t, e.sync.Sync(ctx))

	e.remote.removeShare("s2")
	require.NoError(t, e.sync.Sync(ctx))

	_, err := e.shareRepo.Get(ctx, "s2")
	assert.True(t, apperrors.Is(err, code.ErrorShareNotFound))
	n, err := e.itemRepo.CountByShare(ctx, "s2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSync_KeyRotationInEvents(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.remote.addShare("s1")
	e.remote.putItem("s1", "a", "", "", "old key")
	require.NoError(t, e.sync.Sync(ctx))

	e.remote.rotate("s1")
	e.remote.putItem("s1", "b", "", "", "new key")

	require.NoError(t, e.sync.Sync(ctx))
	assert.Equal(t, "old key", string(e.open(t, "s1", "a").Content))
	assert.Equal(t, "new key", string(e.open(t, "s1", "b").Content))
}

func TestSync_StaleEventDoesNotRegress(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.remote.addShare("s1")
	v1 := e.remote.putItem("s1", "a", "", "", "v1")
	e.remote.putItem("s1", "a", "", "", "v2")
	require.NoError(t, e.sync.Sync(ctx))

	// replaying revision 1 over the cached revision 2 changes nothing
	applied, err := e.sync.deps.Committer.CommitEvents(ctx, "s1", &domain.ShareEvents{
		LastEventID:  "e2",
		UpdatedItems: []*domain.EncryptedItem{v1},
	})
	require.NoError(t, err)
	assert.Zero(t, applied)

	item, err := e.itemRepo.Get(ctx, "s1", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.Revision)
	assert.Equal(t, "v2", string(e.open(t, "s1", "a").Content))
}

func TestNotify_QueuesShareSync(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.remote.addShare("s1")
	require.NoError(t, e.sync.Sync(ctx))

	e.remote.putItem("s1", "pushed", "", "", "via push")
	e.sync.Notify(ctx, []string{"s1", "s1", "s1"})

	assert.Eventually(t, func() bool {
		_, err := e.itemRepo.Get(ctx, "s1", "pushed")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSync_CanceledContext(t *testing.T) {
	e := newTestEnv(t)
	e.remote.addShare("s1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.sync.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, SyncError, e.sync.Status().State)
	assert.Zero(t, e.remote.count("ListShares"))
}

func TestSync_EventPageCapLeavesStateUnsynced(t *testing.T) {
	e := newTestEnvWith(t, SyncConfig{MaxParallelCalls: 2, MaxEventPages: 1})
	ctx := context.Background()

	e.remote.addShare("s1")
	e.remote.putItem("s1", "a", "title-a", "", "secret-a")
	require.NoError(t, e.sync.Sync(ctx))

	for _, id := range []string{"b", "c", "d", "e", "f", "g"} {
		e.remote.putItem("s1", id, "title-"+id, "", "secret-"+id)
	}

	err := e.sync.Sync(ctx)
	assert.True(t, apperrors.Is(err, code.ErrorSyncIncomplete))
	assert.Equal(t, SyncError, e.sync.Status().State)

	share, err := e.shareRepo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "e3", share.LastEventID, "the applied page stays committed")

	// each trigger resumes from the committed cursor
	assert.Error(t, e.sync.Sync(ctx))
	require.NoError(t, e.sync.Sync(ctx))
	assert.Equal(t, SyncSynced, e.sync.Status().State)

	share, err = e.shareRepo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "e7", share.LastEventID)
	n, err := e.itemRepo.CountByShare(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestSync_ShortListingKeepsCursorUnset(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.remote.addShare("s1")
	for _, id := range []string{"a", "b", "c"} {
		e.remote.putItem("s1", id, "title-"+id, "", "secret-"+id)
	}
	e.remote.overTotal["s1"] = 2

	err := e.sync.Sync(ctx)
	assert.True(t, apperrors.Is(err, code.ErrorSyncIncomplete))
	assert.Equal(t, SyncError, e.sync.Status().State)

	n, err := e.itemRepo.CountByShare(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "listed items are still merged")
	share, err := e.shareRepo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, share.LastEventID)

	// the next sync lists the share again
	delete(e.remote.overTotal, "s1")
	require.NoError(t, e.sync.Sync(ctx))
	assert.Equal(t, SyncSynced, e.sync.Status().State)
	share, err = e.shareRepo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "e3", share.LastEventID)
}

package service

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/haierkeys/fast-pass-sync/internal/dao"
	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/keys"
	"github.com/haierkeys/fast-pass-sync/internal/masterkey"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/fetch"
	"github.com/haierkeys/fast-pass-sync/pkg/workerpool"
	"github.com/haierkeys/fast-pass-sync/pkg/writequeue"

	"github.com/stretchr/testify/require"
)

// serverEvent is one entry of a share's event log.
type serverEvent struct {
	item    *domain.EncryptedItem
	deleted string
	rotated bool
}

// fakeRemote is an in-memory pass server. Item pages hold two items and event
// pages two entries.
type fakeRemote struct {
	t       *testing.T
	mu      sync.Mutex
	account *cipher.Engine

	shares    []string
	shareKeys map[string][][]byte
	items     map[string]map[string]*domain.EncryptedItem
	itemKeys  map[string][]*domain.ItemKey
	log       map[string][]serverEvent
	seq       int

	failItems map[string]error
	// overTotal inflates the declared listing total of a share
	overTotal map[string]int
	calls     map[string]int
}

func newFakeRemote(t *testing.T, account []byte) *fakeRemote {
	e, err := cipher.New(account)
	require.NoError(t, err)
	return &fakeRemote{
		t:         t,
		account:   e,
		shareKeys: map[string][][]byte{},
		items:     map[string]map[string]*domain.EncryptedItem{},
		itemKeys:  map[string][]*domain.ItemKey{},
		log:       map[string][]serverEvent{},
		failItems: map[string]error{},
		overTotal: map[string]int{},
		calls:     map[string]int{},
	}
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) addShare(shareID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shares = append(f.shares, shareID)
	f.items[shareID] = map[string]*domain.EncryptedItem{}
	f.rotateLocked(shareID, false)
}

func (f *fakeRemote) removeShare(shareID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.shares {
		if id == shareID {
			f.shares = append(f.shares[:i], f.shares[i+1:]...)
			return
		}
	}
}

func (f *fakeRemote) rotate(shareID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotateLocked(shareID, true)
}

func (f *fakeRemote) rotateLocked(shareID string, logIt bool) {
	raw, err := cipher.GenerateKey()
	require.NoError(f.t, err)
	f.shareKeys[shareID] = append(f.shareKeys[shareID], raw)
	if logIt {
		f.log[shareID] = append(f.log[shareID], serverEvent{rotated: true})
	}
}

// putItem seals contents under the latest share key and bumps the revision.
func (f *fakeRemote) putItem(shareID, itemID, title, note, content string) *domain.EncryptedItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	ks := f.shareKeys[shareID]
	rotation := int64(len(ks))
	e, err := cipher.New(ks[rotation-1])
	require.NoError(f.t, err)

	item := &domain.EncryptedItem{
		ID: itemID, ShareID: shareID, RotationID: rotation,
		ContentFormatVersion: 1, State: domain.ItemStateActive,
	}
	if prev, ok := f.items[shareID][itemID]; ok {
		item.Revision = prev.Revision + 1
	} else {
		item.Revision = 1
	}
	item.Title, err = e.Encrypt([]byte(title), cipher.TagItemTitle)
	require.NoError(f.t, err)
	item.Note, err = e.Encrypt([]byte(note), cipher.TagItemNote)
	require.NoError(f.t, err)
	item.Content, err = e.Encrypt([]byte(content), cipher.TagItemContent)
	require.NoError(f.t, err)

	f.storeLocked(item)
	return item
}

func (f *fakeRemote) storeLocked(item *domain.EncryptedItem) {
	cp := *item
	f.items[item.ShareID][item.ID] = &cp
	f.log[item.ShareID] = append(f.log[item.ShareID], serverEvent{item: &cp})
}

func (f *fakeRemote) deleteItem(shareID, itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items[shareID], itemID)
	f.log[shareID] = append(f.log[shareID], serverEvent{deleted: itemID})
}

func toResponse(it *domain.EncryptedItem) *remote.ItemResponse {
	return &remote.ItemResponse{
		ItemID: it.ID, Revision: it.Revision, KeyRotation: it.RotationID,
		Title: remote.Encode(it.Title), Note: remote.Encode(it.Note), Content: remote.Encode(it.Content),
		ContentFormatVersion: it.ContentFormatVersion, State: int(it.State), ItemKeyed: it.ItemKeyed,
		CreateTime: it.CreateTime, ModifyTime: it.ModifyTime,
	}
}

func (f *fakeRemote) ListShares(context.Context) ([]*domain.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListShares"]++
	out := make([]*domain.Share, 0, len(f.shares))
	for _, id := range f.shares {
		out = append(out, &domain.Share{ID: id, ContentKeyRotation: int64(len(f.shareKeys[id]))})
	}
	return out, nil
}

func (f *fakeRemote) ShareKeyPage(_ context.Context, shareID, cursor string) (*fetch.Page[*remote.ShareKeyResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ShareKeyPage"]++
	page := &fetch.Page[*remote.ShareKeyResponse]{Total: len(f.shareKeys[shareID])}
	for i, raw := range f.shareKeys[shareID] {
		sealed, err := f.account.Encrypt(raw, cipher.TagShareKey)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, &remote.ShareKeyResponse{KeyRotation: int64(i + 1), Key: remote.Encode(sealed)})
	}
	return page, nil
}

func (f *fakeRemote) GetItemKeys(_ context.Context, _, itemID string) ([]*domain.ItemKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetItemKeys"]++
	return f.itemKeys[itemID], nil
}

func (f *fakeRemote) ItemPage(_ context.Context, shareID, cursor string) (*fetch.Page[*remote.ItemResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ItemPage"]++
	if err := f.failItems[shareID]; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(f.items[shareID]))
	for id := range f.items[shareID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := min(start+2, len(ids))
	page := &fetch.Page[*remote.ItemResponse]{Total: len(ids) + f.overTotal[shareID]}
	for _, id := range ids[start:end] {
		page.Items = append(page.Items, toResponse(f.items[shareID][id]))
	}
	if end < len(ids) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func eventID(n int) string { return "e" + strconv.Itoa(n) }

func (f *fakeRemote) GetLatestEventID(_ context.Context, shareID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return eventID(len(f.log[shareID])), nil
}

func (f *fakeRemote) GetEvents(_ context.Context, shareID, since string) (*domain.ShareEvents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetEvents"]++

	from, _ := strconv.Atoi(strings.TrimPrefix(since, "e"))
	log := f.log[shareID]
	to := min(from+2, len(log))
	ev := &domain.ShareEvents{LastEventID: eventID(to), More: to < len(log)}
	for _, e := range log[from:to] {
		switch {
		case e.rotated:
			ev.KeysRotated = true
		case e.deleted != "":
			ev.DeletedItemIDs = append(ev.DeletedItemIDs, e.deleted)
		default:
			cp := *e.item
			ev.UpdatedItems = append(ev.UpdatedItems, &cp)
		}
	}
	return ev, nil
}

func (f *fakeRemote) decodeItem(shareID, itemID string, rotation int64, title, note, content string, format int) *domain.EncryptedItem {
	item := &domain.EncryptedItem{ID: itemID, ShareID: shareID, RotationID: rotation, ContentFormatVersion: format, State: domain.ItemStateActive}
	var err error
	item.Title, err = remote.Decode(title)
	require.NoError(f.t, err)
	item.Note, err = remote.Decode(note)
	require.NoError(f.t, err)
	item.Content, err = remote.Decode(content)
	require.NoError(f.t, err)
	return item
}

func (f *fakeRemote) CreateItem(_ context.Context, shareID string, req *remote.CreateItemRequest) (*domain.EncryptedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := "new-" + strconv.Itoa(f.seq)
	item := f.decodeItem(shareID, id, req.KeyRotation, req.Title, req.Note, req.Content, req.ContentFormatVersion)
	item.Revision = 1
	item.ItemKeyed = req.ItemKey != nil
	if req.ItemKey != nil {
		wrapped, err := remote.Decode(req.ItemKey.Key)
		require.NoError(f.t, err)
		f.itemKeys[id] = append(f.itemKeys[id], &domain.ItemKey{ShareID: shareID, ItemID: id, Rotation: req.ItemKey.KeyRotation, WrappedKey: wrapped})
	}
	f.storeLocked(item)
	cp := *item
	return &cp, nil
}

func (f *fakeRemote) UpdateItem(_ context.Context, shareID, itemID string, req *remote.UpdateItemRequest) (*domain.EncryptedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateItem"]++
	cur, ok := f.items[shareID][itemID]
	if !ok {
		return nil, apperrors.New(code.ErrorRemoteRejected, nil)
	}
	if cur.Revision != req.LastRevision {
		return nil, apperrors.New(code.ErrorRevisionConflict, nil)
	}
	item := f.decodeItem(shareID, itemID, req.KeyRotation, req.Title, req.Note, req.Content, req.ContentFormatVersion)
	item.Revision = cur.Revision + 1
	item.ItemKeyed = cur.ItemKeyed
	f.storeLocked(item)
	cp := *item
	return &cp, nil
}

func (f *fakeRemote) TrashItem(_ context.Context, shareID, itemID string, revision int64) (*domain.EncryptedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.items[shareID][itemID]
	if !ok {
		return nil, apperrors.New(code.ErrorRemoteRejected, nil)
	}
	if cur.Revision != revision {
		return nil, apperrors.New(code.ErrorRevisionConflict, nil)
	}
	item := *cur
	item.Revision++
	item.State = domain.ItemStateTrashed
	f.storeLocked(&item)
	cp := item
	return &cp, nil
}

type testEnv struct {
	remote    *fakeRemote
	sync      *SyncService
	items     *ItemService
	itemRepo  domain.ItemRepository
	shareRepo domain.ShareRepository
	pool      *workerpool.Pool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, SyncConfig{MaxParallelCalls: 2})
}

func newTestEnvWith(t *testing.T, cfg SyncConfig) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := dao.NewDBEngine(dao.DatabaseConfig{Type: "sqlite", Path: filepath.Join(dir, "pass.db"), TablePrefix: "pass_"})
	require.NoError(t, err)
	wq := writequeue.New(nil, nil)
	d, err := dao.New(db, wq, nil)
	require.NoError(t, err)
	pool := workerpool.New(&workerpool.Config{MaxWorkers: 2, QueueSize: 16}, nil)
	t.Cleanup(func() {
		_ = pool.Shutdown(context.Background())
		_ = wq.Shutdown(context.Background())
		_ = d.Close()
	})

	account, err := cipher.GenerateKey()
	require.NoError(t, err)
	opener, err := remote.NewAccountKeyOpener(remote.Encode(account))
	require.NoError(t, err)
	fr := newFakeRemote(t, account)

	store := masterkey.NewDeviceSecretStore("test", masterkey.WithMachineID(func(string) (string, error) { return "machine-1", nil }))
	provider := masterkey.NewProvider(store, masterkey.NewFileKeySlot(filepath.Join(dir, "master.key")))

	km := keys.NewManager(dao.NewShareKeyRepository(d), dao.NewItemKeyRepository(d), fr, opener, nil)
	itemRepo := dao.NewItemRepository(d)
	shareRepo := dao.NewShareRepository(d)

	syncSvc := NewSyncService(SyncDeps{
		Remote:    fr,
		Keys:      km,
		Provider:  provider,
		Shares:    shareRepo,
		Committer: dao.NewSyncCommitter(d),
		Pool:      pool,
	}, cfg, nil)

	return &testEnv{
		remote:    fr,
		sync:      syncSvc,
		items:     NewItemService(fr, km, provider, itemRepo, syncSvc, 2, nil),
		itemRepo:  itemRepo,
		shareRepo: shareRepo,
		pool:      pool,
	}
}

// open decrypts one cached item through the item service.
func (e *testEnv) open(t *testing.T, shareID, itemID string) *domain.ItemContents {
	t.Helper()
	var out domain.ItemContents
	require.NoError(t, e.items.Get(context.Background(), shareID, itemID, func(it *domain.DecryptedItem) error {
		out = *it.Contents
		return nil
	}))
	return &out
}

package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/keys"
	"github.com/haierkeys/fast-pass-sync/internal/masterkey"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	"github.com/haierkeys/fast-pass-sync/pkg/diff"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/logger"
	"github.com/haierkeys/fast-pass-sync/pkg/workerpool"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// ItemService 条目读写服务
// Decrypted contents only exist inside the callbacks passed to Get and List.
type ItemService struct {
	remote      RemoteAPI
	keys        *keys.Manager
	provider    *masterkey.Provider
	items       domain.ItemRepository
	sync        *SyncService
	maxParallel int
	logger      *zap.Logger
}

// NewItemService 创建条目服务
func NewItemService(remote RemoteAPI, km *keys.Manager, provider *masterkey.Provider, items domain.ItemRepository, sync *SyncService, maxParallel int, logger *zap.Logger) *ItemService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemService{
		remote:      remote,
		keys:        km,
		provider:    provider,
		items:       items,
		sync:        sync,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

// ListOptions 列表过滤
type ListOptions struct {
	// State 为 0 时不过滤
	State domain.ItemState
	// Query matches title and note, case-insensitively.
	Query string
}

func decrypted(item *domain.EncryptedItem, contents *domain.ItemContents) *domain.DecryptedItem {
	return &domain.DecryptedItem{
		ID:             item.ID,
		ShareID:        item.ShareID,
		Revision:       item.Revision,
		State:          item.State,
		SignatureEmail: item.SignatureEmail,
		CreateTime:     item.CreateTime,
		ModifyTime:     item.ModifyTime,
		Contents:       contents,
	}
}

// cached 读取本地条目，未命中时同步该保险库后重试一次
// A miss after the sync is reported as ErrorItemNotFound with "not synced".
func (s *ItemService) cached(ctx context.Context, shareID, itemID string) (*domain.EncryptedItem, error) {
	item, err := s.items.Get(ctx, shareID, itemID)
	if !apperrors.Is(err, code.ErrorItemNotFound) {
		return item, err
	}

	s.logger.Debug("item cache miss, syncing share",
		zap.String(logger.FieldShareID, shareID),
		zap.String(logger.FieldItemID, itemID))
	if err := s.sync.SyncShare(ctx, shareID); err != nil {
		return nil, err
	}

	item, err = s.items.Get(ctx, shareID, itemID)
	if apperrors.Is(err, code.ErrorItemNotFound) {
		return nil, apperrors.New(code.ErrorItemNotFound, err).WithDetails("share="+shareID, "item="+itemID, "not synced")
	}
	return item, err
}

// Get 解密单个条目，fn 返回后解密内容不再有效
func (s *ItemService) Get(ctx context.Context, shareID, itemID string, fn func(*domain.DecryptedItem) error) error {
	item, err := s.cached(ctx, shareID, itemID)
	if err != nil {
		return err
	}
	return s.provider.WithEncryptionContext(ctx, func(ec *masterkey.EncryptionContext) error {
		contents, err := s.keys.OpenItemWithRefresh(ctx, ec, item)
		if err != nil {
			return err
		}
		return fn(decrypted(item, contents))
	})
}

// List 解密保险库内的条目
// An item that fails to authenticate is still handed to fn, with Err set and
// no contents, so one damaged record neither hides the rest nor disappears.
func (s *ItemService) List(ctx context.Context, shareID string, opts ListOptions, fn func([]*domain.DecryptedItem) error) error {
	items, err := s.items.List(ctx, shareID, opts.State)
	if err != nil {
		return err
	}
	fold := cases.Fold()
	query := fold.String(strings.TrimSpace(opts.Query))

	return s.provider.WithEncryptionContext(ctx, func(ec *masterkey.EncryptionContext) error {
		out := make([]*domain.DecryptedItem, 0, len(items))
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			contents, err := s.keys.OpenItemWithRefresh(ctx, ec, item)
			if apperrors.Is(err, code.ErrorAuthenticationFailure) {
				s.logger.Warn("item failed authentication",
					zap.String(logger.FieldShareID, shareID),
					zap.String(logger.FieldItemID, item.ID))
				failed := decrypted(item, nil)
				failed.Err = err
				out = append(out, failed)
				continue
			}
			if err != nil {
				return err
			}
			if query != "" &&
				!strings.Contains(fold.String(contents.Title), query) &&
				!strings.Contains(fold.String(contents.Note), query) {
				continue
			}
			out = append(out, decrypted(item, contents))
		}
		return fn(out)
	})
}

// Create 创建条目：用新条目密钥加密后上传，并写入本地缓存
func (s *ItemService) Create(ctx context.Context, shareID string, contents *domain.ItemContents) (*domain.EncryptedItem, error) {
	var created *domain.EncryptedItem
	err := s.provider.WithEncryptionContext(ctx, func(ec *masterkey.EncryptionContext) error {
		sealed, err := s.keys.SealItem(ctx, ec, shareID, contents)
		if apperrors.Is(err, code.ErrorMissingRotationKey) {
			if err := s.keys.RefreshShareKeys(ctx, ec, shareID); err != nil {
				return err
			}
			sealed, err = s.keys.SealItem(ctx, ec, shareID, contents)
		}
		if err != nil {
			return err
		}

		created, err = s.remote.CreateItem(ctx, shareID, &remote.CreateItemRequest{
			KeyRotation:          sealed.Rotation,
			Title:                remote.Encode(sealed.Title),
			Note:                 remote.Encode(sealed.Note),
			Content:              remote.Encode(sealed.Content),
			ContentFormatVersion: sealed.ContentFormatVersion,
			ItemKey:              &remote.ItemKeyRequest{KeyRotation: sealed.Rotation, Key: remote.Encode(sealed.WrappedItemKey)},
		})
		if err != nil {
			return err
		}
		created.ItemKeyed = true

		if err := s.keys.StoreItemKeys(ctx, shareID, []*domain.ItemKey{{
			ShareID:    shareID,
			ItemID:     created.ID,
			Rotation:   sealed.Rotation,
			WrappedKey: sealed.WrappedItemKey,
			CreateTime: created.CreateTime,
		}}); err != nil {
			return err
		}
		_, err = s.items.UpsertIfNewer(ctx, created)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item created",
		zap.String(logger.FieldShareID, shareID),
		zap.String(logger.FieldItemID, created.ID),
		zap.Int64(logger.FieldRevision, created.Revision))
	return created, nil
}

// Update 以 LastRevision 为乐观锁更新条目
// On a revision conflict the share is synced and, when the newer remote note
// merges cleanly with the proposed one, the update is retried once on top of
// the new revision. Otherwise ErrorRevisionConflict is returned.
func (s *ItemService) Update(ctx context.Context, upd *domain.ItemUpdate) (*domain.EncryptedItem, error) {
	item, err := s.cached(ctx, upd.ShareID, upd.ItemID)
	if err != nil {
		return nil, err
	}

	var updated *domain.EncryptedItem
	err = s.provider.WithEncryptionContext(ctx, func(ec *masterkey.EncryptionContext) error {
		base, err := s.keys.OpenItemWithRefresh(ctx, ec, item)
		if err != nil {
			return err
		}

		updated, err = s.push(ctx, ec, item, upd.LastRevision, upd.Contents)
		if !apperrors.Is(err, code.ErrorRevisionConflict) {
			return err
		}

		if syncErr := s.sync.SyncShare(ctx, upd.ShareID); syncErr != nil {
			return err
		}
		latest, getErr := s.items.Get(ctx, upd.ShareID, upd.ItemID)
		if getErr != nil || latest.Revision <= upd.LastRevision {
			return err
		}
		theirs, openErr := s.keys.OpenItemWithRefresh(ctx, ec, latest)
		if openErr != nil {
			return err
		}
		merged, ok := mergeContents(base, upd.Contents, theirs)
		if !ok {
			return apperrors.New(code.ErrorRevisionConflict, nil).WithDetails(
				"share="+upd.ShareID, "item="+upd.ItemID,
				"revision="+strconv.FormatInt(latest.Revision, 10))
		}

		s.logger.Info("item conflict merged",
			zap.String(logger.FieldShareID, upd.ShareID),
			zap.String(logger.FieldItemID, upd.ItemID),
			zap.Int64(logger.FieldRevision, latest.Revision))
		updated, err = s.push(ctx, ec, latest, latest.Revision, merged)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *ItemService) push(ctx context.Context, ec *masterkey.EncryptionContext, item *domain.EncryptedItem, lastRevision int64, contents *domain.ItemContents) (*domain.EncryptedItem, error) {
	sealed, err := s.keys.ResealItem(ctx, ec, item, contents)
	if err != nil {
		return nil, err
	}
	updated, err := s.remote.UpdateItem(ctx, item.ShareID, item.ID, &remote.UpdateItemRequest{
		KeyRotation:          sealed.Rotation,
		LastRevision:         lastRevision,
		Title:                remote.Encode(sealed.Title),
		Note:                 remote.Encode(sealed.Note),
		Content:              remote.Encode(sealed.Content),
		ContentFormatVersion: sealed.ContentFormatVersion,
	})
	if err != nil {
		return nil, err
	}
	updated.ItemKeyed = item.ItemKeyed
	if _, err := s.items.UpsertIfNewer(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// mergeContents 三方合并：只有备注可以合并，标题和内容必须至多一方修改
func mergeContents(base, mine, theirs *domain.ItemContents) (*domain.ItemContents, bool) {
	out := &domain.ItemContents{ContentFormatVersion: max(mine.ContentFormatVersion, theirs.ContentFormatVersion)}

	var ok bool
	if out.Title, ok = pick(base.Title, mine.Title, theirs.Title); !ok {
		return nil, false
	}
	content, ok := pick(string(base.Content), string(mine.Content), string(theirs.Content))
	if !ok {
		return nil, false
	}
	out.Content = []byte(content)

	note := diff.MergeTexts(base.Note, mine.Note, theirs.Note)
	if !note.Clean {
		return nil, false
	}
	out.Note = note.Content
	return out, true
}

func pick(base, mine, theirs string) (string, bool) {
	switch {
	case mine == theirs, theirs == base:
		return mine, true
	case mine == base:
		return theirs, true
	}
	return "", false
}

// Describe 展示本地缓存与拟提交内容的备注差异
func (s *ItemService) Describe(ctx context.Context, shareID, itemID string, proposed *domain.ItemContents) (string, error) {
	var out string
	err := s.Get(ctx, shareID, itemID, func(item *domain.DecryptedItem) error {
		out = diff.Describe(item.Contents.Note, proposed.Note)
		return nil
	})
	return out, err
}

// Trash 批量移入回收站，每个条目独立成功或失败
func (s *ItemService) Trash(ctx context.Context, shareID string, itemIDs []string) []workerpool.Result[*domain.EncryptedItem] {
	return workerpool.RunConcurrently(ctx, s.maxParallel, itemIDs,
		func(ctx context.Context, itemID string) (*domain.EncryptedItem, error) {
			item, err := s.cached(ctx, shareID, itemID)
			if err != nil {
				return nil, err
			}
			if item.IsTrashed() {
				return item, nil
			}
			trashed, err := s.remote.TrashItem(ctx, shareID, itemID, item.Revision)
			if err != nil {
				return nil, err
			}
			trashed.ItemKeyed = item.ItemKeyed
			if _, err := s.items.UpsertIfNewer(ctx, trashed); err != nil {
				return nil, err
			}
			return trashed, nil
		},
		nil,
		func(itemID string, err error) {
			s.logger.Warn("item trash failed",
				zap.String(logger.FieldShareID, shareID),
				zap.String(logger.FieldItemID, itemID),
				zap.Error(err))
		})
}

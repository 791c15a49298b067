// Package keys 管理保险库密钥与条目密钥的层级
// The master key wraps share keys, a share key opens item content directly or
// wraps per-item keys. Only wrapped forms are stored; raw keys exist inside a
// single call and are zeroed before it returns.
package keys

import (
	"context"
	"strconv"
	"sync"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/masterkey"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/fetch"
	"github.com/haierkeys/fast-pass-sync/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KeySource 远端密钥来源
type KeySource interface {
	ShareKeyPage(ctx context.Context, shareID, cursor string) (*fetch.Page[*remote.ShareKeyResponse], error)
	GetItemKeys(ctx context.Context, shareID, itemID string) ([]*domain.ItemKey, error)
}

// KeyOpener 打开远端下发的保险库密钥，返回的原始密钥由调用方清零
type KeyOpener interface {
	OpenShareKey(ctx context.Context, key *domain.RemoteShareKey) ([]byte, error)
}

// SealedItem 加密后的条目内容
type SealedItem struct {
	Rotation             int64
	Title                []byte
	Note                 []byte
	Content              []byte
	ContentFormatVersion int
	// WrappedItemKey is the fresh item key sealed under the share key, nil when
	// the content was sealed with an existing key.
	WrappedItemKey []byte
}

// Manager 密钥层级管理器
type Manager struct {
	shareKeys domain.ShareKeyRepository
	itemKeys  domain.ItemKeyRepository
	source    KeySource
	opener    KeyOpener
	logger    *zap.Logger

	// cache holds wrapped share keys by shareID/rotation, entries are never replaced
	cache sync.Map
	group singleflight.Group
}

// NewManager 创建密钥管理器
func NewManager(shareKeys domain.ShareKeyRepository, itemKeys domain.ItemKeyRepository, source KeySource, opener KeyOpener, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		shareKeys: shareKeys,
		itemKeys:  itemKeys,
		source:    source,
		opener:    opener,
		logger:    logger,
	}
}

func cacheKey(shareID string, rotation int64) string {
	return shareID + "/" + strconv.FormatInt(rotation, 10)
}

func missingRotation(shareID string, rotation int64, cause error) error {
	return apperrors.New(code.ErrorMissingRotationKey, cause).
		WithDetails("share="+shareID, "rotation="+strconv.FormatInt(rotation, 10))
}

func (m *Manager) publish(k *domain.ShareKey) {
	m.cache.LoadOrStore(cacheKey(k.ShareID, k.Rotation), k)
}

// ShareKey 获取指定轮换的包装密钥，先查缓存再查本地库
func (m *Manager) ShareKey(ctx context.Context, shareID string, rotation int64) (*domain.ShareKey, error) {
	if v, ok := m.cache.Load(cacheKey(shareID, rotation)); ok {
		return v.(*domain.ShareKey), nil
	}
	k, err := m.shareKeys.Get(ctx, shareID, rotation)
	if apperrors.Is(err, code.ErrorShareKeyNotFound) {
		return nil, missingRotation(shareID, rotation, err)
	}
	if err != nil {
		return nil, err
	}
	m.publish(k)
	return k, nil
}

// LatestRotation 本地已知的最新轮换号
func (m *Manager) LatestRotation(ctx context.Context, shareID string) (int64, error) {
	keys, err := m.shareKeys.List(ctx, shareID)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, missingRotation(shareID, 0, nil)
	}
	latest := keys[len(keys)-1]
	m.publish(latest)
	return latest.Rotation, nil
}

func (m *Manager) shareEngine(ctx context.Context, ec *masterkey.EncryptionContext, shareID string, rotation int64) (*cipher.Engine, error) {
	k, err := m.ShareKey(ctx, shareID, rotation)
	if err != nil {
		return nil, err
	}
	return ec.OpenKey(k.WrappedKey, cipher.TagShareKey)
}

// itemEngine 返回能打开 item 的引擎：保险库密钥或条目密钥
func (m *Manager) itemEngine(ctx context.Context, ec *masterkey.EncryptionContext, item *domain.EncryptedItem) (*cipher.Engine, error) {
	shareEngine, err := m.shareEngine(ctx, ec, item.ShareID, item.RotationID)
	if err != nil {
		return nil, err
	}
	if !item.ItemKeyed {
		return shareEngine, nil
	}

	ik, err := m.itemKeys.Get(ctx, item.ID, item.RotationID)
	if apperrors.Is(err, code.ErrorShareKeyNotFound) {
		return nil, apperrors.New(code.ErrorMissingRotationKey, err).WithDetails(
			"share="+item.ShareID, "item="+item.ID, "rotation="+strconv.FormatInt(item.RotationID, 10))
	}
	if err != nil {
		return nil, err
	}
	raw, err := shareEngine.Decrypt(ik.WrappedKey, cipher.TagItemKey)
	if err != nil {
		return nil, err
	}
	defer cipher.Zero(raw)
	return cipher.New(raw, ec.Options()...)
}

// OpenItem 解密条目
// Fails with ErrorMissingRotationKey when the rotation is not known locally and
// with ErrorAuthenticationFailure when any field does not authenticate.
func (m *Manager) OpenItem(ctx context.Context, ec *masterkey.EncryptionContext, item *domain.EncryptedItem) (*domain.ItemContents, error) {
	engine, err := m.itemEngine(ctx, ec, item)
	if err != nil {
		return nil, err
	}

	// 空标题和备注同样是密文，缺失视为篡改
	out := &domain.ItemContents{ContentFormatVersion: item.ContentFormatVersion}
	title, err := engine.Decrypt(item.Title, cipher.TagItemTitle)
	if err != nil {
		return nil, itemDetail(err, item)
	}
	out.Title = string(title)
	note, err := engine.Decrypt(item.Note, cipher.TagItemNote)
	if err != nil {
		return nil, itemDetail(err, item)
	}
	out.Note = string(note)
	if out.Content, err = engine.Decrypt(item.Content, cipher.TagItemContent); err != nil {
		return nil, itemDetail(err, item)
	}
	return out, nil
}

func itemDetail(err error, item *domain.EncryptedItem) error {
	if ae := apperrors.GetAppError(err); ae != nil {
		ae.Details = append(ae.Details, "share="+item.ShareID, "item="+item.ID)
	}
	return err
}

// OpenItemWithRefresh 解密条目，缺少轮换密钥时刷新一次后重试
func (m *Manager) OpenItemWithRefresh(ctx context.Context, ec *masterkey.EncryptionContext, item *domain.EncryptedItem) (*domain.ItemContents, error) {
	contents, err := m.OpenItem(ctx, ec, item)
	if !apperrors.Is(err, code.ErrorMissingRotationKey) {
		return contents, err
	}

	m.logger.Info("rotation key missing, refreshing",
		zap.String(logger.FieldShareID, item.ShareID),
		zap.String(logger.FieldItemID, item.ID),
		zap.Int64(logger.FieldRotation, item.RotationID))

	if err := m.RefreshShareKeys(ctx, ec, item.ShareID); err != nil {
		return nil, err
	}
	if item.ItemKeyed {
		if err := m.RefreshItemKeys(ctx, item.ShareID, item.ID); err != nil {
			return nil, err
		}
	}
	return m.OpenItem(ctx, ec, item)
}

// RefreshShareKeys 拉取保险库全部轮换密钥，用本地主密钥重新包装后一次性保存
// Concurrent refreshes of one share share a single remote walk.
func (m *Manager) RefreshShareKeys(ctx context.Context, ec *masterkey.EncryptionContext, shareID string) error {
	_, err, _ := m.group.Do(shareID, func() (any, error) {
		return nil, m.refreshShareKeys(ctx, ec, shareID)
	})
	return err
}

func (m *Manager) refreshShareKeys(ctx context.Context, ec *masterkey.EncryptionContext, shareID string) error {
	rewrap := func(r *remote.ShareKeyResponse) (*domain.ShareKey, error) {
		rk, err := r.ToDomain(shareID)
		if err != nil {
			return nil, err
		}
		raw, err := m.opener.OpenShareKey(ctx, rk)
		if err != nil {
			return nil, err
		}
		defer cipher.Zero(raw)

		wrapped, err := ec.WrapKey(raw, cipher.TagShareKey)
		if err != nil {
			return nil, err
		}
		return &domain.ShareKey{
			ShareID:    shareID,
			Rotation:   rk.Rotation,
			WrappedKey: wrapped,
			CreateTime: rk.CreateTime,
		}, nil
	}

	store := func(ctx context.Context, keys []*domain.ShareKey) error {
		if err := m.shareKeys.SaveAll(ctx, shareID, keys); err != nil {
			return err
		}
		// 以库中已有的包装形式为准
		saved, err := m.shareKeys.List(ctx, shareID)
		if err != nil {
			return err
		}
		for _, k := range saved {
			m.publish(k)
		}
		m.logger.Debug("share keys refreshed",
			zap.String(logger.FieldShareID, shareID),
			zap.Int(logger.FieldCount, len(saved)))
		return nil
	}

	return fetch.FetchAllPaginated(ctx,
		func(ctx context.Context, cursor string) (*fetch.Page[*remote.ShareKeyResponse], error) {
			return m.source.ShareKeyPage(ctx, shareID, cursor)
		},
		rewrap, store)
}

// StoreItemKeys 保存远端下发的条目密钥（保持其保险库密钥包装形式）
func (m *Manager) StoreItemKeys(ctx context.Context, shareID string, keys []*domain.ItemKey) error {
	return m.itemKeys.SaveAll(ctx, shareID, keys)
}

// RefreshItemKeys 重新拉取单个条目的密钥
func (m *Manager) RefreshItemKeys(ctx context.Context, shareID, itemID string) error {
	keys, err := m.source.GetItemKeys(ctx, shareID, itemID)
	if err != nil {
		return err
	}
	return m.StoreItemKeys(ctx, shareID, keys)
}

// SealItem 用最新轮换加密新条目，并生成新的条目密钥
func (m *Manager) SealItem(ctx context.Context, ec *masterkey.EncryptionContext, shareID string, contents *domain.ItemContents) (*SealedItem, error) {
	rotation, err := m.LatestRotation(ctx, shareID)
	if err != nil {
		return nil, err
	}
	shareEngine, err := m.shareEngine(ctx, ec, shareID, rotation)
	if err != nil {
		return nil, err
	}

	itemKey, err := cipher.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer cipher.Zero(itemKey)

	wrapped, err := shareEngine.Encrypt(itemKey, cipher.TagItemKey)
	if err != nil {
		return nil, err
	}
	engine, err := cipher.New(itemKey, ec.Options()...)
	if err != nil {
		return nil, err
	}

	sealed, err := seal(engine, contents)
	if err != nil {
		return nil, err
	}
	sealed.Rotation = rotation
	sealed.WrappedItemKey = wrapped
	return sealed, nil
}

// ResealItem 用打开 item 的同一把密钥加密新内容，用于更新
func (m *Manager) ResealItem(ctx context.Context, ec *masterkey.EncryptionContext, item *domain.EncryptedItem, contents *domain.ItemContents) (*SealedItem, error) {
	engine, err := m.itemEngine(ctx, ec, item)
	if err != nil {
		return nil, err
	}
	sealed, err := seal(engine, contents)
	if err != nil {
		return nil, err
	}
	sealed.Rotation = item.RotationID
	return sealed, nil
}

func seal(engine *cipher.Engine, contents *domain.ItemContents) (*SealedItem, error) {
	out := &SealedItem{ContentFormatVersion: max(1, contents.ContentFormatVersion)}
	var err error
	if out.Title, err = engine.Encrypt([]byte(contents.Title), cipher.TagItemTitle); err != nil {
		return nil, err
	}
	if out.Note, err = engine.Encrypt([]byte(contents.Note), cipher.TagItemNote); err != nil {
		return nil, err
	}
	if out.Content, err = engine.Encrypt(contents.Content, cipher.TagItemContent); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenVaultContent 解密保险库元数据
func (m *Manager) OpenVaultContent(ctx context.Context, ec *masterkey.EncryptionContext, share *domain.Share) ([]byte, error) {
	if len(share.VaultContent) == 0 {
		return nil, nil
	}
	engine, err := m.shareEngine(ctx, ec, share.ID, share.ContentKeyRotation)
	if err != nil {
		return nil, err
	}
	return engine.Decrypt(share.VaultContent, cipher.TagVaultContent)
}

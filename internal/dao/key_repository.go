package dao

import (
	"context"
	"errors"
	"strconv"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/model"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/jinzhu/copier"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// shareKeyRepository 实现 domain.ShareKeyRepository 接口
type shareKeyRepository struct {
	dao *Dao
}

// NewShareKeyRepository 创建 ShareKeyRepository 实例
func NewShareKeyRepository(dao *Dao) domain.ShareKeyRepository {
	return &shareKeyRepository{dao: dao}
}

// Get 获取指定轮换的密钥
func (r *shareKeyRepository) Get(ctx context.Context, shareID string, rotation int64) (*domain.ShareKey, error) {
	var m model.ShareKey
	err := r.dao.db.WithContext(ctx).
		Where("share_id = ? AND rotation = ?", shareID, rotation).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(code.ErrorShareKeyNotFound, nil).
			WithDetails("share="+shareID, "rotation="+strconv.FormatInt(rotation, 10))
	}
	if err != nil {
		return nil, err
	}

	out := &domain.ShareKey{}
	if err := copier.Copy(out, &m); err != nil {
		return nil, err
	}
	return out, nil
}

// List 按轮换号升序列出密钥
func (r *shareKeyRepository) List(ctx context.Context, shareID string) ([]*domain.ShareKey, error) {
	var ms []*model.ShareKey
	if err := r.dao.db.WithContext(ctx).Where("share_id = ?", shareID).Order("rotation").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.ShareKey, 0, len(ms))
	if err := copier.Copy(&out, &ms); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveAll 在一次提交中保存全部密钥，已存在的轮换保持不变
func (r *shareKeyRepository) SaveAll(ctx context.Context, shareID string, keys []*domain.ShareKey) error {
	if len(keys) == 0 {
		return nil
	}
	ms := make([]*model.ShareKey, 0, len(keys))
	if err := copier.Copy(&ms, &keys); err != nil {
		return err
	}
	return r.dao.write(ctx, shareID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ms).Error
	})
}

// itemKeyRepository 实现 domain.ItemKeyRepository 接口
type itemKeyRepository struct {
	dao *Dao
}

// NewItemKeyRepository 创建 ItemKeyRepository 实例
func NewItemKeyRepository(dao *Dao) domain.ItemKeyRepository {
	return &itemKeyRepository{dao: dao}
}

// Get 获取条目密钥
func (r *itemKeyRepository) Get(ctx context.Context, itemID string, rotation int64) (*domain.ItemKey, error) {
	var m model.ItemKey
	err := r.dao.db.WithContext(ctx).
		Where("item_id = ? AND rotation = ?", itemID, rotation).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(code.ErrorShareKeyNotFound, nil).
			WithDetails("item="+itemID, "rotation="+strconv.FormatInt(rotation, 10))
	}
	if err != nil {
		return nil, err
	}

	out := &domain.ItemKey{}
	if err := copier.Copy(out, &m); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByShare 列出保险库内全部条目密钥
func (r *itemKeyRepository) ListByShare(ctx context.Context, shareID string) ([]*domain.ItemKey, error) {
	var ms []*model.ItemKey
	if err := r.dao.db.WithContext(ctx).Where("share_id = ?", shareID).Order("item_id").Order("rotation").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.ItemKey, 0, len(ms))
	if err := copier.Copy(&out, &ms); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveAll 保存条目密钥，已存在的轮换保持不变
func (r *itemKeyRepository) SaveAll(ctx context.Context, shareID string, keys []*domain.ItemKey) error {
	if len(keys) == 0 {
		return nil
	}
	ms := make([]*model.ItemKey, 0, len(keys))
	if err := copier.Copy(&ms, &keys); err != nil {
		return err
	}
	for _, m := range ms {
		m.ShareID = shareID
	}
	return r.dao.write(ctx, shareID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ms).Error
	})
}

package dao

import (
	"context"
	"errors"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/model"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"gorm.io/gorm"
)

// itemRepository 实现 domain.ItemRepository 接口
type itemRepository struct {
	dao *Dao
}

// NewItemRepository 创建 ItemRepository 实例
func NewItemRepository(dao *Dao) domain.ItemRepository {
	return &itemRepository{dao: dao}
}

// itemToDomain 将 DAO Item 转换为领域模型
func itemToDomain(m *model.Item) *domain.EncryptedItem {
	if m == nil {
		return nil
	}
	return &domain.EncryptedItem{
		ID:                   m.ItemID,
		ShareID:              m.ShareID,
		Revision:             m.Revision,
		RotationID:           m.RotationID,
		Title:                m.Title,
		Note:                 m.Note,
		Content:              m.Content,
		ContentFormatVersion: m.ContentFormatVersion,
		State:                domain.ItemState(m.State),
		ItemKeyed:            m.ItemKeyed,
		SignatureEmail:       m.SignatureEmail,
		CreateTime:           m.CreateTime,
		ModifyTime:           m.ModifyTime,
	}
}

// itemToModel 将领域模型转换为数据库模型
func itemToModel(i *domain.EncryptedItem) *model.Item {
	return &model.Item{
		ShareID:              i.ShareID,
		ItemID:               i.ID,
		Revision:             i.Revision,
		RotationID:           i.RotationID,
		Title:                i.Title,
		Note:                 i.Note,
		Content:              i.Content,
		ContentFormatVersion: i.ContentFormatVersion,
		State:                int(i.State),
		ItemKeyed:            i.ItemKeyed,
		SignatureEmail:       i.SignatureEmail,
		CreateTime:           i.CreateTime,
		ModifyTime:           i.ModifyTime,
	}
}

// Get 获取单个条目
func (r *itemRepository) Get(ctx context.Context, shareID, itemID string) (*domain.EncryptedItem, error) {
	var m model.Item
	err := r.dao.db.WithContext(ctx).
		Where("share_id = ? AND item_id = ?", shareID, itemID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(code.ErrorItemNotFound, nil).WithDetails("share="+shareID, "item="+itemID)
	}
	if err != nil {
		return nil, err
	}
	return itemToDomain(&m), nil
}

// List 列出保险库内的条目
func (r *itemRepository) List(ctx context.Context, shareID string, state domain.ItemState) ([]*domain.EncryptedItem, error) {
	q := r.dao.db.WithContext(ctx).Where("share_id = ?", shareID)
	if state != 0 {
		q = q.Where("state = ?", int(state))
	}

	var ms []*model.Item
	if err := q.Order("modify_time DESC").Order("item_id").Find(&ms).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.EncryptedItem, 0, len(ms))
	for _, m := range ms {
		out = append(out, itemToDomain(m))
	}
	return out, nil
}

// UpsertIfNewer 仅当 revision 严格大于本地时写入
func (r *itemRepository) UpsertIfNewer(ctx context.Context, item *domain.EncryptedItem) (applied bool, err error) {
	err = r.dao.write(ctx, item.ShareID, func(tx *gorm.DB) error {
		applied, err = upsertIfNewer(tx, itemToModel(item))
		return err
	})
	return applied, err
}

// CountByShare 统计保险库内条目数量
func (r *itemRepository) CountByShare(ctx context.Context, shareID string) (int64, error) {
	var n int64
	err := r.dao.db.WithContext(ctx).Model(&model.Item{}).Where("share_id = ?", shareID).Count(&n).Error
	return n, err
}

// upsertIfNewer writes m only when no row exists or the stored revision is lower.
// Equal or lower revisions are dropped so replayed events never regress the cache.
func upsertIfNewer(tx *gorm.DB, m *model.Item) (bool, error) {
	var cur model.Item
	err := tx.Select("revision").
		Where("share_id = ? AND item_id = ?", m.ShareID, m.ItemID).
		Take(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, tx.Create(m).Error
	}
	if err != nil {
		return false, err
	}
	if m.Revision <= cur.Revision {
		return false, nil
	}
	return true, tx.Model(&model.Item{}).
		Where("share_id = ? AND item_id = ?", m.ShareID, m.ItemID).
		Select("*").
		Updates(m).Error
}

package dao

import (
	"context"
	"errors"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/model"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/jinzhu/copier"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// shareRepository 实现 domain.ShareRepository 与 domain.SyncCommitter 接口
type shareRepository struct {
	dao *Dao
}

// NewShareRepository 创建 ShareRepository 实例
func NewShareRepository(dao *Dao) domain.ShareRepository {
	return &shareRepository{dao: dao}
}

// NewSyncCommitter 创建 SyncCommitter 实例
func NewSyncCommitter(dao *Dao) domain.SyncCommitter {
	return &shareRepository{dao: dao}
}

// Get 获取保险库
func (r *shareRepository) Get(ctx context.Context, shareID string) (*domain.Share, error) {
	var m model.Share
	err := r.dao.db.WithContext(ctx).Where("share_id = ?", shareID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(code.ErrorShareNotFound, nil).WithDetails("share=" + shareID)
	}
	if err != nil {
		return nil, err
	}
	out := &domain.Share{ID: m.ShareID}
	if err := copier.Copy(out, &m); err != nil {
		return nil, err
	}
	return out, nil
}

// List 列出全部本地保险库
func (r *shareRepository) List(ctx context.Context) ([]*domain.Share, error) {
	var ms []*model.Share
	if err := r.dao.db.WithContext(ctx).Order("share_id").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Share, 0, len(ms))
	for _, m := range ms {
		s := &domain.Share{ID: m.ShareID}
		if err := copier.Copy(s, m); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Upsert 创建或更新保险库元数据，游标保持不变
func (r *shareRepository) Upsert(ctx context.Context, share *domain.Share) error {
	m := &model.Share{
		ShareID:            share.ID,
		VaultContent:       share.VaultContent,
		ContentKeyRotation: share.ContentKeyRotation,
		Owner:              share.Owner,
		CreateTime:         share.CreateTime,
	}
	return r.dao.write(ctx, share.ID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "share_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"vault_content", "content_key_rotation", "owner", "create_time", "updated_at"}),
		}).Create(m).Error
	})
}

// Purge 删除保险库及其条目、密钥和游标
func (r *shareRepository) Purge(ctx context.Context, shareID string) error {
	return r.dao.write(ctx, shareID, func(tx *gorm.DB) error {
		for _, m := range []any{&model.Item{}, &model.ItemKey{}, &model.ShareKey{}, &model.Share{}} {
			if err := tx.Where("share_id = ?", shareID).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CommitFull merges a complete remote listing in one transaction. Items the
// listing no longer contains are removed, and the event cursor moves to lastEventID.
// An empty lastEventID marks a short listing: items merge, nothing is removed
// and the cursor is left alone.
func (r *shareRepository) CommitFull(ctx context.Context, shareID string, items []*domain.EncryptedItem, lastEventID string) (applied int, err error) {
	err = r.dao.write(ctx, shareID, func(tx *gorm.DB) error {
		applied = 0
		keep := make(map[string]struct{}, len(items))
		for _, it := range items {
			keep[it.ID] = struct{}{}
			ok, err := upsertIfNewer(tx, itemToModel(it))
			if err != nil {
				return err
			}
			if ok {
				applied++
			}
		}
		if lastEventID == "" {
			return nil
		}

		var existing []string
		if err := tx.Model(&model.Item{}).Where("share_id = ?", shareID).Pluck("item_id", &existing).Error; err != nil {
			return err
		}
		var stale []string
		for _, id := range existing {
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}
		if err := deleteItems(tx, shareID, stale); err != nil {
			return err
		}

		return setCursor(tx, shareID, lastEventID)
	})
	return applied, err
}

// CommitEvents 增量事件页提交：合并更新、删除条目、推进游标
func (r *shareRepository) CommitEvents(ctx context.Context, shareID string, events *domain.ShareEvents) (applied int, err error) {
	err = r.dao.write(ctx, shareID, func(tx *gorm.DB) error {
		applied = 0
		for _, it := range events.UpdatedItems {
			ok, err := upsertIfNewer(tx, itemToModel(it))
			if err != nil {
				return err
			}
			if ok {
				applied++
			}
		}
		if err := deleteItems(tx, shareID, events.DeletedItemIDs); err != nil {
			return err
		}
		return setCursor(tx, shareID, events.LastEventID)
	})
	return applied, err
}

const deleteBatchSize = 500

func deleteItems(tx *gorm.DB, shareID string, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		batch := ids[start:end]
		if err := tx.Where("share_id = ? AND item_id IN ?", shareID, batch).Delete(&model.Item{}).Error; err != nil {
			return err
		}
		if err := tx.Where("share_id = ? AND item_id IN ?", shareID, batch).Delete(&model.ItemKey{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func setCursor(tx *gorm.DB, shareID, lastEventID string) error {
	res := tx.Model(&model.Share{}).Where("share_id = ?", shareID).Update("last_event_id", lastEventID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tx.Create(&model.Share{ShareID: shareID, LastEventID: lastEventID}).Error
	}
	return nil
}

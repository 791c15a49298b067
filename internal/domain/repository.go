// Package domain 定义领域模型和接口
package domain

import "context"

// ItemRepository 加密条目仓储接口
type ItemRepository interface {
	// Get 获取单个条目，不存在时返回 code.ErrorItemNotFound
	Get(ctx context.Context, shareID, itemID string) (*EncryptedItem, error)

	// List 列出保险库内的条目，state 为 0 时不过滤
	List(ctx context.Context, shareID string, state ItemState) ([]*EncryptedItem, error)

	// UpsertIfNewer 仅当 revision 严格大于本地时写入
	UpsertIfNewer(ctx context.Context, item *EncryptedItem) (applied bool, err error)

	// CountByShare 统计保险库内条目数量
	CountByShare(ctx context.Context, shareID string) (int64, error)
}

// ShareKeyRepository 保险库密钥仓储接口
// Keys are append-only: saving an existing (share, rotation) never changes it.
type ShareKeyRepository interface {
	// Get 获取指定轮换的密钥，不存在时返回 code.ErrorShareKeyNotFound
	Get(ctx context.Context, shareID string, rotation int64) (*ShareKey, error)

	// List 按轮换号升序列出密钥
	List(ctx context.Context, shareID string) ([]*ShareKey, error)

	// SaveAll 在一次提交中保存全部密钥
	SaveAll(ctx context.Context, shareID string, keys []*ShareKey) error
}

// ItemKeyRepository 条目密钥仓储接口
type ItemKeyRepository interface {
	// Get 获取条目密钥，不存在时返回 code.ErrorShareKeyNotFound
	Get(ctx context.Context, itemID string, rotation int64) (*ItemKey, error)

	// ListByShare 列出保险库内全部条目密钥
	ListByShare(ctx context.Context, shareID string) ([]*ItemKey, error)

	// SaveAll 保存条目密钥
	SaveAll(ctx context.Context, shareID string, keys []*ItemKey) error
}

// ShareRepository 保险库仓储接口
type ShareRepository interface {
	// Get 获取保险库，不存在时返回 code.ErrorShareNotFound
	Get(ctx context.Context, shareID string) (*Share, error)

	// List 列出全部本地保险库
	List(ctx context.Context) ([]*Share, error)

	// Upsert 创建或更新保险库元数据（不改变游标）
	Upsert(ctx context.Context, share *Share) error

	// Purge 删除保险库及其条目、密钥和游标
	Purge(ctx context.Context, shareID string) error
}

// SyncCommitter 同步提交接口
// Each call is one commit: everything it writes lands together or not at all.
type SyncCommitter interface {
	// CommitFull 全量同步提交：条目按 revision 规则合并，游标一并更新
	// An empty lastEventID merges items only: no removal, cursor unchanged.
	CommitFull(ctx context.Context, shareID string, items []*EncryptedItem, lastEventID string) (applied int, err error)

	// CommitEvents 增量事件页提交
	CommitEvents(ctx context.Context, shareID string, events *ShareEvents) (applied int, err error)
}

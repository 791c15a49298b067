package model

import "time"

const (
	TableNameShare    = "share"
	TableNameShareKey = "share_key"
	TableNameItemKey  = "item_key"
)

// Share mapped from table <share>
type Share struct {
	ShareID            string    `gorm:"column:share_id;primaryKey;size:64" json:"shareId"`
	VaultContent       []byte    `gorm:"column:vault_content" json:"vaultContent"`
	ContentKeyRotation int64     `gorm:"column:content_key_rotation" json:"contentKeyRotation"`
	Owner              bool      `gorm:"column:owner;default:false" json:"owner"`
	CreateTime         int64     `gorm:"column:create_time" json:"createTime"`
	LastEventID        string    `gorm:"column:last_event_id" json:"lastEventId"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName Share's table name
func (*Share) TableName() string {
	return TableNameShare
}

// ShareKey mapped from table <share_key>
type ShareKey struct {
	ShareID    string `gorm:"column:share_id;primaryKey;size:64" json:"shareId"`
	Rotation   int64  `gorm:"column:rotation;primaryKey" json:"rotation"`
	WrappedKey []byte `gorm:"column:wrapped_key;not null" json:"wrappedKey"`
	CreateTime int64  `gorm:"column:create_time" json:"createTime"`
}

// TableName ShareKey's table name
func (*ShareKey) TableName() string {
	return TableNameShareKey
}

// ItemKey mapped from table <item_key>
type ItemKey struct {
	ItemID     string `gorm:"column:item_id;primaryKey;size:64" json:"itemId"`
	Rotation   int64  `gorm:"column:rotation;primaryKey" json:"rotation"`
	ShareID    string `gorm:"column:share_id;not null;index:idx_item_key_share;size:64" json:"shareId"`
	WrappedKey []byte `gorm:"column:wrapped_key;not null" json:"wrappedKey"`
	CreateTime int64  `gorm:"column:create_time" json:"createTime"`
}

// TableName ItemKey's table name
func (*ItemKey) TableName() string {
	return TableNameItemKey
}

package model

import "time"

const TableNameItem = "item"

// Item mapped from table <item>
type Item struct {
	ShareID              string    `gorm:"column:share_id;primaryKey;size:64" json:"shareId"`
	ItemID               string    `gorm:"column:item_id;primaryKey;size:64" json:"itemId"`
	Revision             int64     `gorm:"column:revision;not null" json:"revision"`
	RotationID           int64     `gorm:"column:rotation_id;not null" json:"rotationId"`
	Title                []byte    `gorm:"column:title" json:"title"`
	Note                 []byte    `gorm:"column:note" json:"note"`
	Content              []byte    `gorm:"column:content" json:"content"`
	ContentFormatVersion int       `gorm:"column:content_format_version;not null;default:1" json:"contentFormatVersion"`
	State                int       `gorm:"column:state;not null;index:idx_item_state" json:"state"`
	ItemKeyed            bool      `gorm:"column:item_keyed;default:false" json:"itemKeyed"`
	SignatureEmail       string    `gorm:"column:signature_email" json:"signatureEmail"`
	CreateTime           int64     `gorm:"column:create_time" json:"createTime"`
	ModifyTime           int64     `gorm:"column:modify_time" json:"modifyTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName Item's table name
func (*Item) TableName() string {
	return TableNameItem
}

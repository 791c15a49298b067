// Package domain 定义领域模型和接口
package domain

// ItemState 条目状态
type ItemState int

const (
	ItemStateActive  ItemState = 1
	ItemStateTrashed ItemState = 2
)

func (s ItemState) String() string {
	switch s {
	case ItemStateActive:
		return "active"
	case ItemStateTrashed:
		return "trashed"
	}
	return "unknown"
}

// EncryptedItem 加密条目，本地缓存与远端一致的密文形态
// Title, Note and Content are nonce||ct||tag blobs sealed under the key named
// by RotationID: the share key itself, or the item key when ItemKeyed is set.
type EncryptedItem struct {
	ID                   string
	ShareID              string
	Revision             int64
	RotationID           int64
	Title                []byte
	Note                 []byte
	Content              []byte
	ContentFormatVersion int
	State                ItemState
	ItemKeyed            bool
	SignatureEmail       string
	CreateTime           int64
	ModifyTime           int64
}

// IsTrashed 判断条目是否在回收站
func (i *EncryptedItem) IsTrashed() bool {
	return i.State == ItemStateTrashed
}

// ItemContents 解密后的条目内容
// Only ever handed out inside an encryption scope.
type ItemContents struct {
	Title                string
	Note                 string
	Content              []byte
	ContentFormatVersion int
}

// DecryptedItem 条目元数据加解密内容
type DecryptedItem struct {
	ID             string
	ShareID        string
	Revision       int64
	State          ItemState
	SignatureEmail string
	CreateTime     int64
	ModifyTime     int64
	Contents       *ItemContents

	// Err is set, and Contents nil, when the item failed to authenticate.
	Err error
}

// ItemUpdate 待提交的条目变更
type ItemUpdate struct {
	ShareID      string
	ItemID       string
	LastRevision int64
	Contents     *ItemContents
}

package remote

import (
	"encoding/base64"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/go-playground/validator/v10"
)

// Res 统一的响应结构：Code/Status/Message/Data
type Res[T any] struct {
	Code    int    `json:"code"`
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

// ListRes 分页列表
type ListRes[T any] struct {
	List  []T   `json:"list"`
	Pager Pager `json:"pager"`
}

// Pager 翻页信息
type Pager struct {
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
	TotalRows int    `json:"totalRows"`
	NextToken string `json:"nextToken,omitempty"`
}

// ShareResponse 保险库
type ShareResponse struct {
	ShareID            string `json:"shareId" validate:"required"`
	VaultContent       string `json:"vaultContent" validate:"omitempty,base64"`
	ContentKeyRotation int64  `json:"contentKeyRotation" validate:"gte=0"`
	Owner              bool   `json:"owner"`
	CreateTime         int64  `json:"createTime"`
}

// ShareKeyResponse 保险库轮换密钥，Key 由账户密钥封装
type ShareKeyResponse struct {
	KeyRotation int64  `json:"keyRotation" validate:"gte=1"`
	Key         string `json:"key" validate:"required,base64"`
	CreateTime  int64  `json:"createTime"`
}

// ItemKeyResponse 条目密钥，Key 由同轮换的保险库密钥封装
type ItemKeyResponse struct {
	KeyRotation int64  `json:"keyRotation" validate:"gte=1"`
	Key         string `json:"key" validate:"required,base64"`
	CreateTime  int64  `json:"createTime"`
}

// ItemResponse 加密条目
type ItemResponse struct {
	ItemID               string `json:"itemId" validate:"required"`
	Revision             int64  `json:"revision" validate:"gte=1"`
	KeyRotation          int64  `json:"keyRotation" validate:"gte=1"`
	Title                string `json:"title" validate:"omitempty,base64"`
	Note                 string `json:"note" validate:"omitempty,base64"`
	Content              string `json:"content" validate:"required,base64"`
	ContentFormatVersion int    `json:"contentFormatVersion" validate:"gte=1"`
	State                int    `json:"state" validate:"oneof=1 2"`
	ItemKeyed            bool   `json:"itemKeyed"`
	SignatureEmail       string `json:"signatureEmail" validate:"omitempty,email"`
	CreateTime           int64  `json:"createTime"`
	ModifyTime           int64  `json:"modifyTime"`
}

// EventsResponse 增量事件
type EventsResponse struct {
	LastEventID    string          `json:"lastEventId" validate:"required"`
	UpdatedItems   []*ItemResponse `json:"updatedItems" validate:"dive"`
	DeletedItemIDs []string        `json:"deletedItemIds"`
	KeysRotated    bool            `json:"keysRotated"`
	EventsPending  bool            `json:"eventsPending"`
}

// LatestEventResponse 最新事件游标
type LatestEventResponse struct {
	EventID string `json:"eventId" validate:"required"`
}

// ItemKeyRequest 新条目密钥，随创建请求上传
type ItemKeyRequest struct {
	KeyRotation int64  `json:"keyRotation"`
	Key         string `json:"key"`
}

// CreateItemRequest 创建条目请求
type CreateItemRequest struct {
	KeyRotation          int64           `json:"keyRotation"`
	Title                string          `json:"title"`
	Note                 string          `json:"note"`
	Content              string          `json:"content"`
	ContentFormatVersion int             `json:"contentFormatVersion"`
	ItemKey              *ItemKeyRequest `json:"itemKey,omitempty"`
}

// UpdateItemRequest 更新条目请求，LastRevision 为乐观锁令牌
type UpdateItemRequest struct {
	KeyRotation          int64  `json:"keyRotation"`
	LastRevision         int64  `json:"lastRevision"`
	Title                string `json:"title"`
	Note                 string `json:"note"`
	Content              string `json:"content"`
	ContentFormatVersion int    `json:"contentFormatVersion"`
}

// TrashItemRequest 移入回收站请求
type TrashItemRequest struct {
	Revision int64 `json:"revision"`
}

// PushMessage 推送通知
type PushMessage struct {
	Type     string   `json:"type"`
	ShareIDs []string `json:"shareIds"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验远端数据
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return apperrors.New(code.ErrorInvalidResponse, err)
	}
	return nil
}

// Encode 密文转 Base64
func Encode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// Decode Base64 转密文
func Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperrors.New(code.ErrorInvalidResponse, err)
	}
	return b, nil
}

// ToDomain 转换为领域模型
func (r *ShareResponse) ToDomain() (*domain.Share, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	content, err := Decode(r.VaultContent)
	if err != nil {
		return nil, err
	}
	return &domain.Share{
		ID:                 r.ShareID,
		VaultContent:       content,
		ContentKeyRotation: r.ContentKeyRotation,
		Owner:              r.Owner,
		CreateTime:         r.CreateTime,
	}, nil
}

// ToDomain 转换为领域模型
func (r *ShareKeyResponse) ToDomain(shareID string) (*domain.RemoteShareKey, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	return &domain.RemoteShareKey{
		ShareID:    shareID,
		Rotation:   r.KeyRotation,
		Key:        r.Key,
		CreateTime: r.CreateTime,
	}, nil
}

// ToDomain 转换为领域模型
func (r *ItemKeyResponse) ToDomain(shareID, itemID string) (*domain.ItemKey, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	key, err := Decode(r.Key)
	if err != nil {
		return nil, err
	}
	return &domain.ItemKey{
		ShareID:    shareID,
		ItemID:     itemID,
		Rotation:   r.KeyRotation,
		WrappedKey: key,
		CreateTime: r.CreateTime,
	}, nil
}

// ToDomain 转换为领域模型
func (r *ItemResponse) ToDomain(shareID string) (*domain.EncryptedItem, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	item := &domain.EncryptedItem{
		ID:                   r.ItemID,
		ShareID:              shareID,
		Revision:             r.Revision,
		RotationID:           r.KeyRotation,
		ContentFormatVersion: r.ContentFormatVersion,
		State:                domain.ItemState(r.State),
		ItemKeyed:            r.ItemKeyed,
		SignatureEmail:       r.SignatureEmail,
		CreateTime:           r.CreateTime,
		ModifyTime:           r.ModifyTime,
	}
	var err error
	if item.Title, err = Decode(r.Title); err != nil {
		return nil, err
	}
	if item.Note, err = Decode(r.Note); err != nil {
		return nil, err
	}
	if item.Content, err = Decode(r.Content); err != nil {
		return nil, err
	}
	return item, nil
}

// ToDomain 转换为领域模型
func (r *EventsResponse) ToDomain(shareID string) (*domain.ShareEvents, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	ev := &domain.ShareEvents{
		LastEventID:    r.LastEventID,
		DeletedItemIDs: r.DeletedItemIDs,
		KeysRotated:    r.KeysRotated,
		More:           r.EventsPending,
	}
	for _, it := range r.UpdatedItems {
		item, err := it.ToDomain(shareID)
		if err != nil {
			return nil, err
		}
		ev.UpdatedItems = append(ev.UpdatedItems, item)
	}
	return ev, nil
}

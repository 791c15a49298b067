package service

import (
	"context"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/keys"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/pkg/fetch"
)

// RemoteAPI 同步与条目服务依赖的远端接口，由 *remote.Client 实现
type RemoteAPI interface {
	keys.KeySource

	ListShares(ctx context.Context) ([]*domain.Share, error)
	ItemPage(ctx context.Context, shareID, cursor string) (*fetch.Page[*remote.ItemResponse], error)
	GetLatestEventID(ctx context.Context, shareID string) (string, error)
	GetEvents(ctx context.Context, shareID, since string) (*domain.ShareEvents, error)

	CreateItem(ctx context.Context, shareID string, req *remote.CreateItemRequest) (*domain.EncryptedItem, error)
	UpdateItem(ctx context.Context, shareID, itemID string, req *remote.UpdateItemRequest) (*domain.EncryptedItem, error)
	TrashItem(ctx context.Context, shareID, itemID string, revision int64) (*domain.EncryptedItem, error)
}

var _ RemoteAPI = (*remote.Client)(nil)

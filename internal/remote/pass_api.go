package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/pkg/fetch"
)

const apiPrefix = "/pass/v1"

func sharePath(shareID string, parts ...string) string {
	p := apiPrefix + "/share/" + url.PathEscape(shareID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListShares 获取全部保险库
func (c *Client) ListShares(ctx context.Context) ([]*domain.Share, error) {
	data, err := call[[]*ShareResponse](ctx, c, http.MethodGet, apiPrefix+"/share", nil, nil)
	if err != nil {
		return nil, err
	}
	shares := make([]*domain.Share, 0, len(data))
	for _, s := range data {
		share, err := s.ToDomain()
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// ShareKeyPage 按页获取保险库密钥，游标为页码
func (c *Client) ShareKeyPage(ctx context.Context, shareID, cursor string) (*fetch.Page[*ShareKeyResponse], error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			page = 1
		} else {
			page = n
		}
	}
	q := url.Values{}
	q.Set("Page", strconv.Itoa(page))
	q.Set("PageSize", strconv.Itoa(c.cfg.PageSize))

	data, err := call[ListRes[*ShareKeyResponse]](ctx, c, http.MethodGet, sharePath(shareID, "key"), q, nil)
	if err != nil {
		return nil, err
	}
	next := ""
	if page*c.cfg.PageSize < data.Pager.TotalRows {
		next = strconv.Itoa(page + 1)
	}
	return &fetch.Page[*ShareKeyResponse]{Items: data.List, Total: data.Pager.TotalRows, NextCursor: next}, nil
}

// ItemPage 按页获取加密条目，游标为服务端返回的 NextToken
func (c *Client) ItemPage(ctx context.Context, shareID, cursor string) (*fetch.Page[*ItemResponse], error) {
	q := url.Values{}
	q.Set("PageSize", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		q.Set("Since", cursor)
	}
	data, err := call[ListRes[*ItemResponse]](ctx, c, http.MethodGet, sharePath(shareID, "item"), q, nil)
	if err != nil {
		return nil, err
	}
	return &fetch.Page[*ItemResponse]{Items: data.List, Total: data.Pager.TotalRows, NextCursor: data.Pager.NextToken}, nil
}

// GetItemKeys 获取条目的全部轮换密钥
func (c *Client) GetItemKeys(ctx context.Context, shareID, itemID string) ([]*domain.ItemKey, error) {
	data, err := call[[]*ItemKeyResponse](ctx, c, http.MethodGet, sharePath(shareID, "item", itemID, "key"), nil, nil)
	if err != nil {
		return nil, err
	}
	keys := make([]*domain.ItemKey, 0, len(data))
	for _, k := range data {
		key, err := k.ToDomain(shareID, itemID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// GetLatestEventID 获取保险库最新事件游标
func (c *Client) GetLatestEventID(ctx context.Context, shareID string) (string, error) {
	data, err := call[*LatestEventResponse](ctx, c, http.MethodGet, sharePath(shareID, "event"), nil, nil)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = &LatestEventResponse{}
	}
	if err := Validate(data); err != nil {
		return "", err
	}
	return data.EventID, nil
}

// GetEvents 获取 since 之后的一页事件
func (c *Client) GetEvents(ctx context.Context, shareID, since string) (*domain.ShareEvents, error) {
	data, err := call[*EventsResponse](ctx, c, http.MethodGet, sharePath(shareID, "event", since), nil, nil)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = &EventsResponse{}
	}
	return data.ToDomain(shareID)
}

// CreateItem 创建条目
func (c *Client) CreateItem(ctx context.Context, shareID string, req *CreateItemRequest) (*domain.EncryptedItem, error) {
	return c.itemCall(ctx, http.MethodPost, shareID, sharePath(shareID, "item"), req)
}

// UpdateItem 更新条目，版本不一致返回 ErrorRevisionConflict
func (c *Client) UpdateItem(ctx context.Context, shareID, itemID string, req *UpdateItemRequest) (*domain.EncryptedItem, error) {
	return c.itemCall(ctx, http.MethodPut, shareID, sharePath(shareID, "item", itemID), req)
}

// TrashItem 将条目移入回收站
func (c *Client) TrashItem(ctx context.Context, shareID, itemID string, revision int64) (*domain.EncryptedItem, error) {
	return c.itemCall(ctx, http.MethodPost, shareID, sharePath(shareID, "item", itemID, "trash"), &TrashItemRequest{Revision: revision})
}

func (c *Client) itemCall(ctx context.Context, method, shareID, path string, body any) (*domain.EncryptedItem, error) {
	data, err := call[*ItemResponse](ctx, c, method, path, nil, body)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = &ItemResponse{}
	}
	return data.ToDomain(shareID)
}

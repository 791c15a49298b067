// Package backup 本地缓存的加密快照
// A snapshot holds ciphertext items and wrapped keys only: share keys stay
// sealed under the device master key, item keys under their share key.
package backup

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/logger"
	"github.com/haierkeys/fast-pass-sync/pkg/storage"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FormatVersion 快照格式版本
const FormatVersion = 1

// FilePrefix 归档文件名前缀
const FilePrefix = "fast-pass-"

// Snapshot 快照归档
type Snapshot struct {
	Version   int              `json:"version"`
	ID        string           `json:"id"`
	CreatedAt int64            `json:"createdAt"`
	Shares    []*ShareSnapshot `json:"shares"`
}

// ShareSnapshot 单个保险库的快照
type ShareSnapshot struct {
	ShareID            string          `json:"shareId"`
	LastEventID        string          `json:"lastEventId"`
	ContentKeyRotation int64           `json:"contentKeyRotation"`
	VaultContent       []byte          `json:"vaultContent,omitempty"`
	ShareKeys          []*WrappedKey   `json:"shareKeys"`
	ItemKeys           []*WrappedKey   `json:"itemKeys,omitempty"`
	Items              []*ItemSnapshot `json:"items"`
}

// WrappedKey 包装后的密钥，ItemID 仅用于条目密钥
type WrappedKey struct {
	ItemID   string `json:"itemId,omitempty"`
	Rotation int64  `json:"rotation"`
	Key      []byte `json:"key"`
}

// ItemSnapshot 条目密文
type ItemSnapshot struct {
	ID                   string `json:"id"`
	Revision             int64  `json:"revision"`
	Rotation             int64  `json:"rotation"`
	Title                []byte `json:"title"`
	Note                 []byte `json:"note"`
	Content              []byte `json:"content"`
	ContentFormatVersion int    `json:"contentFormatVersion"`
	State                int    `json:"state"`
	ItemKeyed            bool   `json:"itemKeyed,omitempty"`
	ModifyTime           int64  `json:"modifyTime"`
}

// Result 一次备份的结果
type Result struct {
	FileKey string
	Shares  int
	Items   int
	Removed []string
}

// Deps 备份依赖
type Deps struct {
	Shares    domain.ShareRepository
	Items     domain.ItemRepository
	ShareKeys domain.ShareKeyRepository
	ItemKeys  domain.ItemKeyRepository
	Store     storage.Storager
}

// Service 备份服务
type Service struct {
	deps    Deps
	retain  int
	logger  *zap.Logger
	running atomic.Bool
	now     func() time.Time
}

// NewService 创建备份服务，retain<=0 时不清理旧归档
func NewService(deps Deps, retain int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, retain: retain, logger: logger, now: time.Now}
}

// Snapshot 从本地缓存构建快照
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	shares, err := s.deps.Shares.List(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:   FormatVersion,
		ID:        uuid.NewString(),
		CreatedAt: s.now().UnixMilli(),
		Shares:    make([]*ShareSnapshot, 0, len(shares)),
	}
	for _, share := range shares {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ss, err := s.shareSnapshot(ctx, share)
		if err != nil {
			return nil, err
		}
		snap.Shares = append(snap.Shares, ss)
	}
	return snap, nil
}

func (s *Service) shareSnapshot(ctx context.Context, share *domain.Share) (*ShareSnapshot, error) {
	ss := &ShareSnapshot{
		ShareID:            share.ID,
		LastEventID:        share.LastEventID,
		ContentKeyRotation: share.ContentKeyRotation,
		VaultContent:       share.VaultContent,
	}

	shareKeys, err := s.deps.ShareKeys.List(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	for _, k := range shareKeys {
		ss.ShareKeys = append(ss.ShareKeys, &WrappedKey{Rotation: k.Rotation, Key: k.WrappedKey})
	}

	itemKeys, err := s.deps.ItemKeys.ListByShare(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	for _, k := range itemKeys {
		ss.ItemKeys = append(ss.ItemKeys, &WrappedKey{ItemID: k.ItemID, Rotation: k.Rotation, Key: k.WrappedKey})
	}

	items, err := s.deps.Items.List(ctx, share.ID, 0)
	if err != nil {
		return nil, err
	}
	ss.Items = make([]*ItemSnapshot, 0, len(items))
	for _, it := range items {
		ss.Items = append(ss.Items, &ItemSnapshot{
			ID:                   it.ID,
			Revision:             it.Revision,
			Rotation:             it.RotationID,
			Title:                it.Title,
			Note:                 it.Note,
			Content:              it.Content,
			ContentFormatVersion: it.ContentFormatVersion,
			State:                int(it.State),
			ItemKeyed:            it.ItemKeyed,
			ModifyTime:           it.ModifyTime,
		})
	}
	return ss, nil
}

// Run 写入一份快照并按保留数清理旧归档
// A second Run while one is in flight returns ErrorBackupFailure at once.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, apperrors.New(code.ErrorBackupFailure, nil).WithDetails("already running")
	}
	defer s.running.Store(false)

	start := s.now()
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, apperrors.New(code.ErrorBackupFailure, err)
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return nil, apperrors.New(code.ErrorBackupFailure, err)
	}

	fileKey := FileName(start, snap.ID)
	if _, err := s.deps.Store.SendContent(ctx, fileKey, data, start); err != nil {
		return nil, apperrors.New(code.ErrorBackupFailure, err).WithDetails("file=" + fileKey)
	}

	res := &Result{FileKey: fileKey, Shares: len(snap.Shares)}
	for _, ss := range snap.Shares {
		res.Items += len(ss.Items)
	}

	res.Removed, err = s.prune(ctx)
	if err != nil {
		// 归档已写入，清理失败只记录
		s.logger.Warn("backup prune failed", zap.Error(err))
	}

	s.logger.Info("backup written",
		zap.String(logger.FieldFileKey, fileKey),
		zap.Int("shares", res.Shares),
		zap.Int(logger.FieldCount, res.Items),
		zap.Duration(logger.FieldDuration, s.now().Sub(start)))
	return res, nil
}

// prune 删除超出保留数量的最旧归档
func (s *Service) prune(ctx context.Context) ([]string, error) {
	if s.retain <= 0 {
		return nil, nil
	}
	keys, err := s.deps.Store.List(ctx, FilePrefix)
	if err != nil {
		return nil, err
	}
	if len(keys) <= s.retain {
		return nil, nil
	}
	var removed []string
	for _, key := range keys[:len(keys)-s.retain] {
		if err := s.deps.Store.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed = append(removed, key)
	}
	return removed, nil
}

// FileName 归档文件名，按时间字典序排列
func FileName(t time.Time, id string) string {
	short, _, _ := strings.Cut(id, "-")
	return FilePrefix + t.UTC().Format("20060102T150405.000Z") + "-" + short + ".json"
}

// Decode 解析归档内容
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.New(code.ErrorInvalidResponse, err)
	}
	if snap.Version != FormatVersion {
		return nil, apperrors.New(code.ErrorInvalidResponse, nil).WithDetails("unsupported backup version")
	}
	return &snap, nil
}

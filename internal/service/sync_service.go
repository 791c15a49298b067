// Package service 同步与条目业务逻辑
package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/keys"
	"github.com/haierkeys/fast-pass-sync/internal/masterkey"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
	"github.com/haierkeys/fast-pass-sync/pkg/fetch"
	"github.com/haierkeys/fast-pass-sync/pkg/logger"
	"github.com/haierkeys/fast-pass-sync/pkg/workerpool"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SyncState 同步状态
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSyncing
	SyncSynced
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncSyncing:
		return "syncing"
	case SyncSynced:
		return "synced"
	case SyncError:
		return "error"
	}
	return "unknown"
}

// SyncStatus 同步状态快照
type SyncStatus struct {
	State    SyncState
	LastErr  error
	LastSync time.Time
}

// SyncConfig 同步配置
type SyncConfig struct {
	// MaxParallelCalls 并发上限，<=0 时取 workerpool.DefaultParallelism
	MaxParallelCalls int
	// MaxEventPages 单次增量同步最多拉取的事件页数
	MaxEventPages int
}

// SyncDeps 同步服务依赖
type SyncDeps struct {
	Remote    RemoteAPI
	Keys      *keys.Manager
	Provider  *masterkey.Provider
	Shares    domain.ShareRepository
	Committer domain.SyncCommitter
	// Pool runs push-triggered share syncs, optional
	Pool *workerpool.Pool
}

// SyncService 同步协调器
// Per share: share keys first, then the item listing (first sync) or the
// event stream after the stored cursor. Shares sync in parallel; one failing
// share never undoes what the others committed.
type SyncService struct {
	deps   SyncDeps
	cfg    SyncConfig
	logger *zap.Logger

	group singleflight.Group

	mu     sync.RWMutex
	status SyncStatus
}

// NewSyncService 创建同步服务
func NewSyncService(deps SyncDeps, cfg SyncConfig, logger *zap.Logger) *SyncService {
	if cfg.MaxEventPages <= 0 {
		cfg.MaxEventPages = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{deps: deps, cfg: cfg, logger: logger}
}

// Status 当前同步状态
func (s *SyncService) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *SyncService) setState(state SyncState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.LastErr = err
	if state == SyncSynced {
		s.status.LastSync = time.Now()
	}
	s.logger.Debug("sync state", zap.String(logger.FieldState, state.String()), zap.Error(err))
}

// cycle 包装一次同步周期的状态流转
func (s *SyncService) cycle(ctx context.Context, fn func(ec *masterkey.EncryptionContext) error) error {
	s.setState(SyncSyncing, nil)
	err := s.deps.Provider.WithEncryptionContext(ctx, fn)
	if err != nil {
		s.setState(SyncError, err)
		return err
	}
	s.setState(SyncSynced, nil)
	return nil
}

// Sync 同步全部保险库，并发触发合并为一次
func (s *SyncService) Sync(ctx context.Context) error {
	_, err, _ := s.group.Do("*", func() (any, error) {
		return nil, s.cycle(ctx, func(ec *masterkey.EncryptionContext) error {
			return s.syncAll(ctx, ec)
		})
	})
	return err
}

// SyncShare 同步单个保险库，本地尚无该保险库时退化为全量同步
func (s *SyncService) SyncShare(ctx context.Context, shareID string) error {
	if _, err := s.deps.Shares.Get(ctx, shareID); err != nil {
		if apperrors.Is(err, code.ErrorShareNotFound) {
			return s.Sync(ctx)
		}
		return err
	}
	return s.cycle(ctx, func(ec *masterkey.EncryptionContext) error {
		_, err := s.syncShare(ctx, ec, shareID)
		return err
	})
}

// Notify 推送通知入口：每个保险库排队一次同步，重复通知合并
func (s *SyncService) Notify(ctx context.Context, shareIDs []string) {
	for _, id := range shareIDs {
		if s.deps.Pool == nil {
			if err := s.SyncShare(ctx, id); err != nil {
				s.logger.Warn("push sync failed", zap.String(logger.FieldShareID, id), zap.Error(err))
			}
			continue
		}
		shareID := id
		queued, err := s.deps.Pool.SubmitKeyed(ctx, "sync:"+shareID, func(ctx context.Context) error {
			return s.SyncShare(ctx, shareID)
		})
		if err != nil {
			s.logger.Warn("push sync not queued", zap.String(logger.FieldShareID, shareID), zap.Error(err))
			continue
		}
		if queued {
			s.logger.Debug("push sync queued", zap.String(logger.FieldShareID, shareID))
		}
	}
}

func (s *SyncService) syncAll(ctx context.Context, ec *masterkey.EncryptionContext) error {
	start := time.Now()
	remoteShares, err := s.deps.Remote.ListShares(ctx)
	if err != nil {
		return err
	}
	if err := s.reconcileShares(ctx, remoteShares); err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		failed  []string
		causes  []error
		applied int
	)
	workerpool.RunConcurrently(ctx, s.cfg.MaxParallelCalls, remoteShares,
		func(ctx context.Context, share *domain.Share) (int, error) {
			return s.syncShare(ctx, ec, share.ID)
		},
		func(share *domain.Share, n int) {
			mu.Lock()
			applied += n
			mu.Unlock()
		},
		func(share *domain.Share, err error) {
			s.logger.Warn("share sync failed", zap.String(logger.FieldShareID, share.ID), zap.Error(err))
			mu.Lock()
			failed = append(failed, "share="+share.ID)
			causes = append(causes, err)
			mu.Unlock()
		})

	s.logger.Info("sync finished",
		zap.Int("shares", len(remoteShares)),
		zap.Int("failed", len(failed)),
		zap.Int(logger.FieldCount, applied),
		zap.Duration(logger.FieldDuration, time.Since(start)))

	if len(causes) > 0 {
		return apperrors.New(code.ErrorSyncFailure, errors.Join(causes...)).WithDetails(failed...)
	}
	return nil
}

// reconcileShares 更新本地保险库元数据，清除远端已不存在的保险库
func (s *SyncService) reconcileShares(ctx context.Context, remoteShares []*domain.Share) error {
	keep := make(map[string]struct{}, len(remoteShares))
	for _, share := range remoteShares {
		keep[share.ID] = struct{}{}
		if err := s.deps.Shares.Upsert(ctx, share); err != nil {
			return err
		}
	}

	local, err := s.deps.Shares.List(ctx)
	if err != nil {
		return err
	}
	for _, share := range local {
		if _, ok := keep[share.ID]; ok {
			continue
		}
		if err := s.deps.Shares.Purge(ctx, share.ID); err != nil {
			return err
		}
		s.logger.Info("share removed remotely, purged", zap.String(logger.FieldShareID, share.ID))
	}
	return nil
}

// syncShare 同步单个保险库，返回写入的条目数
func (s *SyncService) syncShare(ctx context.Context, ec *masterkey.EncryptionContext, shareID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.deps.Keys.RefreshShareKeys(ctx, ec, shareID); err != nil {
		return 0, err
	}

	share, err := s.deps.Shares.Get(ctx, shareID)
	if err != nil {
		return 0, err
	}
	if share.LastEventID == "" {
		return s.fullSync(ctx, shareID)
	}
	return s.eventSync(ctx, ec, shareID, share.LastEventID)
}

// fullSync 首次同步：先记下最新事件游标，再拉取全部条目并一次提交
// Events that land while the listing is paged are replayed by the next
// incremental sync; the revision rule makes the replay harmless. A listing
// shorter than the declared total is merged without moving the cursor, so the
// next sync lists the share again.
func (s *SyncService) fullSync(ctx context.Context, shareID string) (int, error) {
	latest, err := s.deps.Remote.GetLatestEventID(ctx, shareID)
	if err != nil {
		return 0, err
	}

	var (
		applied int
		total   int
		short   bool
	)
	err = fetch.FetchAllPaginated(ctx,
		func(ctx context.Context, cursor string) (*fetch.Page[*remote.ItemResponse], error) {
			page, err := s.deps.Remote.ItemPage(ctx, shareID, cursor)
			if err == nil && page != nil {
				total = page.Total
			}
			return page, err
		},
		func(r *remote.ItemResponse) (*domain.EncryptedItem, error) {
			return r.ToDomain(shareID)
		},
		func(ctx context.Context, items []*domain.EncryptedItem) error {
			if err := s.storeItemKeys(ctx, shareID, items); err != nil {
				return err
			}
			cursor := latest
			if short = len(items) < total; short {
				cursor = ""
			}
			applied, err = s.deps.Committer.CommitFull(ctx, shareID, items, cursor)
			return err
		})
	if err != nil {
		return 0, err
	}

	if short {
		s.logger.Warn("share listing shorter than declared total, cursor kept",
			zap.String(logger.FieldShareID, shareID),
			zap.Int(logger.FieldCount, applied),
			zap.Int("total", total))
		return applied, apperrors.New(code.ErrorSyncIncomplete, nil).WithDetails(
			"share="+shareID, "total="+strconv.Itoa(total))
	}

	s.logger.Info("share full sync",
		zap.String(logger.FieldShareID, shareID),
		zap.String(logger.FieldCursor, latest),
		zap.Int(logger.FieldCount, applied))
	return applied, nil
}

// eventSync 增量同步：逐页提交，每页提交后游标前移
// Stopping at MaxEventPages with events still pending is reported as
// ErrorSyncIncomplete; the committed pages stay and the next sync resumes.
func (s *SyncService) eventSync(ctx context.Context, ec *masterkey.EncryptionContext, shareID, cursor string) (int, error) {
	var applied int
	for page := 0; page < s.cfg.MaxEventPages; page++ {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		ev, err := s.deps.Remote.GetEvents(ctx, shareID, cursor)
		if err != nil {
			return applied, err
		}
		if ev.KeysRotated {
			if err := s.deps.Keys.RefreshShareKeys(ctx, ec, shareID); err != nil {
				return applied, err
			}
		}
		if err := s.storeItemKeys(ctx, shareID, ev.UpdatedItems); err != nil {
			return applied, err
		}
		n, err := s.deps.Committer.CommitEvents(ctx, shareID, ev)
		if err != nil {
			return applied, err
		}
		applied += n

		s.logger.Debug("share events applied",
			zap.String(logger.FieldShareID, shareID),
			zap.String(logger.FieldCursor, ev.LastEventID),
			zap.Int(logger.FieldCount, n))

		cursor = ev.LastEventID
		if !ev.More {
			return applied, nil
		}
	}
	return applied, apperrors.New(code.ErrorSyncIncomplete, nil).WithDetails(
		"share="+shareID, "cursor="+cursor, "pages="+strconv.Itoa(s.cfg.MaxEventPages))
}

// storeItemKeys 拉取并保存带条目密钥的条目所需密钥，先于条目写入
func (s *SyncService) storeItemKeys(ctx context.Context, shareID string, items []*domain.EncryptedItem) error {
	var keyed []*domain.EncryptedItem
	for _, it := range items {
		if it.ItemKeyed {
			keyed = append(keyed, it)
		}
	}
	if len(keyed) == 0 {
		return nil
	}

	results := workerpool.RunConcurrently(ctx, s.cfg.MaxParallelCalls, keyed,
		func(ctx context.Context, it *domain.EncryptedItem) ([]*domain.ItemKey, error) {
			return s.deps.Remote.GetItemKeys(ctx, shareID, it.ID)
		}, nil, nil)

	var all []*domain.ItemKey
	var errs []error
	for _, r := range results {
		if !r.OK() {
			errs = append(errs, r.Err)
			continue
		}
		all = append(all, r.Value...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return s.deps.Keys.StoreItemKeys(ctx, shareID, all)
}

// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/backup"
	"github.com/haierkeys/fast-pass-sync/internal/dao"
	"github.com/haierkeys/fast-pass-sync/internal/domain"
	"github.com/haierkeys/fast-pass-sync/internal/keys"
	"github.com/haierkeys/fast-pass-sync/internal/masterkey"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/internal/service"
	"github.com/haierkeys/fast-pass-sync/pkg/cipher"
	"github.com/haierkeys/fast-pass-sync/pkg/storage"
	"github.com/haierkeys/fast-pass-sync/pkg/workerpool"
	"github.com/haierkeys/fast-pass-sync/pkg/writequeue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 应用容器，封装所有依赖和服务
type App struct {
	// 基础设施（注入的依赖）
	config *AppConfig
	logger *zap.Logger
	DB     *gorm.DB
	Dao    *dao.Dao

	// 并发控制组件
	workerPool    *workerpool.Pool
	writeQueueMgr *writequeue.Manager

	// Repository 层
	ItemRepo     domain.ItemRepository
	ShareRepo    domain.ShareRepository
	ShareKeyRepo domain.ShareKeyRepository
	ItemKeyRepo  domain.ItemKeyRepository

	// 密钥与远端
	Provider *masterkey.Provider
	Keys     *keys.Manager
	Remote   *remote.Client

	// Service 层
	SyncService *service.SyncService
	ItemService *service.ItemService
	// BackupService 未配置存储时为 nil
	BackupService *backup.Service

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewApp 创建应用容器实例
// 初始化所有依赖并进行依赖注入
func NewApp(cfg *AppConfig, logger *zap.Logger, db *gorm.DB) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	a := &App{
		config:     cfg,
		logger:     logger,
		DB:         db,
		shutdownCh: make(chan struct{}),
	}

	// 初始化 Worker Pool
	wpConfig := cfg.GetWorkerPoolConfig()
	a.workerPool = workerpool.New(&wpConfig, logger)

	// 初始化 Write Queue Manager
	wqConfig := cfg.GetWriteQueueConfig()
	a.writeQueueMgr = writequeue.New(&wqConfig, logger)

	d, err := dao.New(db, a.writeQueueMgr, logger)
	if err != nil {
		return nil, fmt.Errorf("init dao: %w", err)
	}
	a.Dao = d

	// 初始化 Repository 层
	a.ItemRepo = dao.NewItemRepository(d)
	a.ShareRepo = dao.NewShareRepository(d)
	a.ShareKeyRepo = dao.NewShareKeyRepository(d)
	a.ItemKeyRepo = dao.NewItemKeyRepository(d)

	// 主密钥
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Provider = provider

	// 远端客户端与账户密钥
	client, err := remote.NewClient(cfg.Remote, remote.WithLogger(logger.Named("remote")))
	if err != nil {
		return nil, fmt.Errorf("init remote client: %w", err)
	}
	a.Remote = client
	opener, err := remote.NewAccountKeyOpener(cfg.Remote.AccountKey, cipherOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("init account key: %w", err)
	}

	a.Keys = keys.NewManager(a.ShareKeyRepo, a.ItemKeyRepo, client, opener, logger.Named("keys"))

	// 初始化 Service 层
	a.SyncService = service.NewSyncService(service.SyncDeps{
		Remote:    client,
		Keys:      a.Keys,
		Provider:  provider,
		Shares:    a.ShareRepo,
		Committer: dao.NewSyncCommitter(d),
		Pool:      a.workerPool,
	}, service.SyncConfig{
		MaxParallelCalls: cfg.Sync.MaxParallelCalls,
		MaxEventPages:    cfg.Sync.MaxEventPages,
	}, logger.Named("sync"))

	a.ItemService = service.NewItemService(client, a.Keys, provider, a.ItemRepo, a.SyncService,
		cfg.Sync.MaxParallelCalls, logger.Named("item"))

	// 备份存储可选，配置错误只影响备份
	store, err := storage.NewClient(&cfg.Backup.Storage, logger.Named("storage"))
	if err != nil {
		logger.Warn("backup storage unavailable", zap.Error(err))
	} else {
		a.BackupService = backup.NewService(backup.Deps{
			Shares:    a.ShareRepo,
			Items:     a.ItemRepo,
			ShareKeys: a.ShareKeyRepo,
			ItemKeys:  a.ItemKeyRepo,
			Store:     store,
		}, cfg.Backup.Retain, logger.Named("backup"))
	}

	return a, nil
}

func cipherOptions(cfg *AppConfig) []cipher.Option {
	return []cipher.Option{cipher.WithAlgorithm(cipher.Algorithm(strings.ToLower(cfg.Crypto.Algorithm)))}
}

// newProvider 按配置选择主密钥的包装方式
func newProvider(cfg *AppConfig, logger *zap.Logger) (*masterkey.Provider, error) {
	opts := cipherOptions(cfg)

	var store masterkey.SecretStore
	if cfg.Crypto.Keychain {
		s, err := masterkey.NewKeychainSecretStore(cfg.Crypto.AppID, opts...)
		if err != nil {
			return nil, fmt.Errorf("init keychain: %w", err)
		}
		store = s
	} else {
		store = masterkey.NewDeviceSecretStore(cfg.Crypto.AppID, masterkey.WithWrapCipher(opts...))
	}

	return masterkey.NewProvider(store, masterkey.NewFileKeySlot(cfg.Crypto.KeyFile),
		masterkey.WithLogger(logger.Named("masterkey")),
		masterkey.WithCipherOptions(opts...),
	), nil
}

// Close 关闭数据库连接
func (a *App) Close() error {
	if a.Dao != nil {
		if err := a.Dao.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}

// Config 获取应用配置
func (a *App) Config() *AppConfig {
	return a.config
}

// Logger 获取日志器
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// WorkerPool 获取 Worker Pool
func (a *App) WorkerPool() *workerpool.Pool {
	return a.workerPool
}

// DefaultShutdownTimeout 默认关闭超时时间
const DefaultShutdownTimeout = 30 * time.Second

// Shutdown 优雅关闭应用容器
// 按顺序关闭：Worker Pool -> 后台操作 -> Write Queue Manager -> Database
// ctx 用于控制关闭超时，如果为 nil 则使用配置的超时
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("App container shutting down...")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), a.config.GetShutdownTimeout())
		defer cancel()
	}

	// 标记关闭
	select {
	case <-a.shutdownCh:
		return nil
	default:
		close(a.shutdownCh)
	}

	var errs []error

	// 1. 关闭 Worker Pool（停止接受新的推送同步，等待进行中的完成）
	if a.workerPool != nil {
		if err := a.workerPool.Shutdown(ctx); err != nil {
			a.logger.Warn("Worker pool shutdown error", zap.Error(err))
			errs = append(errs, fmt.Errorf("worker pool shutdown: %w", err))
		}
	}

	// 2. 等待所有后台操作完成
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All background operations completed")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout waiting for background operations")
		errs = append(errs, fmt.Errorf("background operations timeout: %w", ctx.Err()))
	}

	// 3. 关闭 Write Queue Manager（排空所有队列）
	if a.writeQueueMgr != nil {
		if err := a.writeQueueMgr.Shutdown(ctx); err != nil {
			a.logger.Warn("write queue manager shutdown error", zap.Error(err))
			errs = append(errs, fmt.Errorf("write queue manager shutdown: %w", err))
		}
	}

	// 4. 关闭数据库连接
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		a.logger.Warn("App container shutdown completed with errors", zap.Int("errorCount", len(errs)))
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	a.logger.Info("App container shutdown completed successfully")
	return nil
}

// IsShuttingDown 检查应用是否正在关闭
func (a *App) IsShuttingDown() bool {
	select {
	case <-a.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownCh 返回关闭信号通道（用于监听关闭事件）
func (a *App) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// TrackOperation 跟踪后台操作（用于优雅关闭时等待）
// 返回一个函数，在操作完成时调用
func (a *App) TrackOperation() func() {
	a.wg.Add(1)
	return func() {
		a.wg.Done()
	}
}

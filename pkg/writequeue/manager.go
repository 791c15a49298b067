// Package writequeue provides a per-share write queue
// Package writequeue 提供按保险库划分的写队列
// Serializes local cache writes for the same share so SQLite never sees two
// writers for one share at once ("database is locked").
// 用于串行化同一保险库的 SQLite 写操作
package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// 错误定义
var (
	// ErrWriteQueueFull 当队列已满时返回
	ErrWriteQueueFull = errors.New("write queue is full")
	// ErrWriteQueueClosed 当写队列管理器已关闭时返回
	ErrWriteQueueClosed = errors.New("write queue is closed")
	// ErrWriteTimeout 当写操作超时时返回
	ErrWriteTimeout = errors.New("write operation timeout")
)

// Config write queue configuration
// Config 写队列配置
type Config struct {
	// QueueCapacity 每个保险库队列容量，默认 100
	QueueCapacity int
	// WriteTimeout 写操作超时时间，默认 30 秒
	WriteTimeout time.Duration
	// IdleTimeout 空闲清理超时时间，默认 10 分钟
	IdleTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 100,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   10 * time.Minute,
	}
}

type writeOp struct {
	ctx    context.Context
	fn     func() error
	result chan error
}

// keyQueue 单个 key 的写队列
type keyQueue struct {
	key      string
	ch       chan writeOp
	lastUsed atomic.Int64
	closed   atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

func (q *keyQueue) stop() {
	q.closed.Store(true)
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Manager 管理所有 key 的写队列
type Manager struct {
	config Config
	logger *zap.Logger

	queues sync.Map // map[string]*keyQueue

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	cleanupWg   sync.WaitGroup
	cleanupDone chan struct{}
}

// New 创建写队列管理器
// cfg 为 nil 时使用默认配置，logger 为 nil 时使用 nop logger
func New(cfg *Config, logger *zap.Logger) *Manager {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.QueueCapacity > 0 {
			c.QueueCapacity = cfg.QueueCapacity
		}
		if cfg.WriteTimeout > 0 {
			c.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.IdleTimeout > 0 {
			c.IdleTimeout = cfg.IdleTimeout
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:      c,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
	}

	// 启动空闲队列清理 goroutine
	m.cleanupWg.Add(1)
	go m.cleanupIdleQueues()

	return m
}

// Execute runs fn on key's queue and waits for its result.
// Operations for the same key run one at a time in FIFO order.
// Execute 执行写操作，同一 key 的写操作按 FIFO 顺序串行执行
func (m *Manager) Execute(ctx context.Context, key string, fn func() error) error {
	result := make(chan error, 1)
	if err := m.submit(key, writeOp{ctx: ctx, fn: fn, result: result}); err != nil {
		return err
	}

	timeout := m.config.WriteTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.ctx.Done():
		return ErrWriteQueueClosed
	}
}

// submit enqueues op. The read lock keeps cleanup from stopping the queue
// between lookup and send.
func (m *Manager) submit(key string, op writeOp) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrWriteQueueClosed
	}

	select {
	case m.getOrCreateQueue(key).ch <- op:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// getOrCreateQueue 获取或创建写队列（懒加载），调用方持有读锁
func (m *Manager) getOrCreateQueue(key string) *keyQueue {
	if v, ok := m.queues.Load(key); ok {
		q := v.(*keyQueue)
		if !q.closed.Load() {
			q.lastUsed.Store(time.Now().UnixNano())
			return q
		}
		m.queues.CompareAndDelete(key, q)
	}

	q := &keyQueue{
		key:    key,
		ch:     make(chan writeOp, m.config.QueueCapacity),
		stopCh: make(chan struct{}),
	}
	q.lastUsed.Store(time.Now().UnixNano())

	// LoadOrStore 确保只有一个队列被创建
	actual, loaded := m.queues.LoadOrStore(key, q)
	if loaded {
		existing := actual.(*keyQueue)
		existing.lastUsed.Store(time.Now().UnixNano())
		return existing
	}

	q.workerWg.Add(1)
	go m.worker(q)

	m.logger.Debug("created write queue", zap.String("key", key))
	return q
}

func (m *Manager) worker(q *keyQueue) {
	defer q.workerWg.Done()
	defer q.closed.Store(true)

	for {
		select {
		case <-m.ctx.Done():
			m.drainQueue(q)
			return
		case <-q.stopCh:
			m.drainQueue(q)
			return
		case op := <-q.ch:
			m.executeOp(q, op)
		}
	}
}

func (m *Manager) executeOp(q *keyQueue, op writeOp) {
	q.lastUsed.Store(time.Now().UnixNano())

	if err := op.ctx.Err(); err != nil {
		op.result <- err
		return
	}
	op.result <- op.fn()
}

func (m *Manager) drainQueue(q *keyQueue) {
	for {
		select {
		case op := <-q.ch:
			m.executeOp(q, op)
		default:
			return
		}
	}
}

// cleanupIdleQueues 定期清理空闲队列
func (m *Manager) cleanupIdleQueues() {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(m.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.cleanupDone:
			return
		case <-ticker.C:
			m.doCleanup()
		}
	}
}

func (m *Manager) doCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixNano()
	idle := m.config.IdleTimeout.Nanoseconds()

	m.queues.Range(func(k, v any) bool {
		q := v.(*keyQueue)
		if now-q.lastUsed.Load() > idle && len(q.ch) == 0 && !q.closed.Load() {
			m.logger.Debug("cleaning up idle write queue", zap.String("key", q.key))
			q.stop()
			m.queues.CompareAndDelete(k, q)
		}
		return true
	})
}

// Shutdown 关闭写队列管理器，等待已提交的写操作完成
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("write queue manager shutting down")
	close(m.cleanupDone)

	done := make(chan struct{})
	go func() {
		m.queues.Range(func(_, v any) bool {
			v.(*keyQueue).stop()
			return true
		})
		m.queues.Range(func(_, v any) bool {
			v.(*keyQueue).workerWg.Wait()
			return true
		})
		m.cleanupWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.logger.Warn("write queue manager shutdown timeout, forcing cancellation")
		m.cancel()
		return ctx.Err()
	}
}

// QueueCount 返回当前活跃队列数量
func (m *Manager) QueueCount() int {
	count := 0
	m.queues.Range(func(_, v any) bool {
		if !v.(*keyQueue).closed.Load() {
			count++
		}
		return true
	})
	return count
}

// IsClosed 返回管理器是否已关闭
func (m *Manager) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

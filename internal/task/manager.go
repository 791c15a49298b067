package task

import (
	"context"

	"github.com/haierkeys/fast-pass-sync/internal/app"

	"go.uber.org/zap"
)

// Manager 任务管理器,负责创建和管理所有任务
type Manager struct {
	scheduler *Scheduler
	logger    *zap.Logger
}

// NewManager 创建任务管理器
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		scheduler: NewScheduler(logger),
		logger:    logger,
	}
}

// RegisterTasks 创建并注册所有已登记的任务
func (m *Manager) RegisterTasks(appContainer *app.App) error {
	return m.register(appContainer, GetFactories())
}

func (m *Manager) register(appContainer *app.App, factories []TaskFactory) error {
	for _, factory := range factories {
		t, err := factory(appContainer)
		if err != nil {
			m.logger.Warn("failed to create task", zap.Error(err))
			return err
		}
		if t == nil {
			continue
		}
		if err := m.scheduler.AddTask(t); err != nil {
			return err
		}
		m.logger.Info("task registered", zap.String("name", t.Name()), zap.String("spec", t.Spec()))
	}
	return nil
}

// Start 启动所有已注册的任务
func (m *Manager) Start() {
	m.scheduler.Start()
}

// Stop 停止所有任务
func (m *Manager) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}

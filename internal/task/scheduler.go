package task

import (
	"context"
	"sync"

	"github.com/haierkeys/fast-pass-sync/internal/app"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task 定义任务接口
type Task interface {
	Name() string                  // 任务名称
	Spec() string                  // cron 表达式，支持秒位与 @every
	IsStartupRun() bool            // 是否立即执行一次
	Run(ctx context.Context) error // 执行任务
}

// ParseSpec 校验 cron 表达式
func ParseSpec(spec string) (cron.Schedule, error) {
	return app.CronParser.Parse(spec)
}

// Scheduler 任务调度器
// A run still in progress when its next tick fires is skipped.
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	tasks []Task
	wg    sync.WaitGroup // 启动时的立即执行
}

// NewScheduler 创建任务调度器
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithParser(app.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task Task) error {
	if _, err := s.cron.AddFunc(task.Spec(), func() { s.run(task, "loopRun") }); err != nil {
		return errors.Wrapf(err, "task %s spec %q", task.Name(), task.Spec())
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start 启动所有任务
func (s *Scheduler) Start() {
	if len(s.tasks) == 0 {
		s.logger.Info("no tasks to schedule")
		return
	}

	s.logger.Info("tasks starting", zap.Int("count", len(s.tasks)))

	for _, task := range s.tasks {
		if !task.IsStartupRun() {
			continue
		}
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			s.run(t, "startupRun")
		}(task)
	}
	s.cron.Start()
}

// Stop 停止调度，等待进行中的任务
// 超时后取消任务的 context
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("tasks stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("tasks stop timeout")
		return ctx.Err()
	}
}

func (s *Scheduler) run(task Task, mode string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panic",
				zap.String("name", task.Name()),
				zap.String("mode", mode),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	s.logger.Info("task running", zap.String("name", task.Name()), zap.String("mode", mode))
	if err := task.Run(s.ctx); err != nil {
		s.logger.Error("task running error",
			zap.String("name", task.Name()),
			zap.String("mode", mode),
			zap.Error(err))
	}
}

// cronLogger 将 cron 的日志接到 zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

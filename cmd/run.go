package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	internalApp "github.com/haierkeys/fast-pass-sync/internal/app"
	"github.com/haierkeys/fast-pass-sync/internal/remote"
	"github.com/haierkeys/fast-pass-sync/internal/task"
	"github.com/haierkeys/fast-pass-sync/pkg/util"

	"github.com/radovskyb/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// daemon 常驻进程：推送通道 + 定时任务
type daemon struct {
	s      *session
	tasks  *task.Manager
	cancel context.CancelFunc
}

func startDaemon(f *rootFlags) (*daemon, error) {
	s, err := openSession(f)
	if err != nil {
		return nil, err
	}
	a := s.app

	s.logger.Info(fmt.Sprintf("%s v%s (Git: %s, BuildTime: %s)", internalApp.Name, internalApp.Version, internalApp.GitTag, internalApp.BuildTime),
		zap.String("host", util.GetHostname()),
		zap.String("os", util.GetOSPrettyName()),
		zap.String("config", s.configPath))

	d := &daemon{s: s, tasks: task.NewManager(s.logger.Named("task"))}
	if err := d.tasks.RegisterTasks(a); err != nil {
		_ = s.closeWithTimeout()
		return nil, fmt.Errorf("register tasks: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	cfg := a.Config()
	if !cfg.Push.Disabled {
		listener := a.Remote.NewPushListener(func(shareIDs []string) {
			a.SyncService.Notify(ctx, shareIDs)
		}, remote.WithBackoff(cfg.GetPushBackoff()))

		done := a.TrackOperation()
		go func() {
			defer done()
			_ = listener.Run(ctx)
		}()
	} else {
		s.logger.Info("push channel disabled, relying on scheduled sync")
	}

	d.tasks.Start()
	return d, nil
}

// stop 关闭顺序：推送 -> 定时任务 -> 应用容器
func (d *daemon) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.s.config.GetShutdownTimeout())
	defer cancel()

	d.cancel()
	if err := d.tasks.Stop(ctx); err != nil {
		d.s.logger.Warn("tasks stop", zap.Error(err))
	}
	return d.s.close(ctx)
}

// pinFlags 将工作目录转为绝对路径，重启时再次切换仍指向同一目录
func pinFlags(f rootFlags) rootFlags {
	if f.dir != "" {
		if abs, err := filepath.Abs(f.dir); err == nil {
			f.dir = abs
		}
	}
	return f
}

// reloadFlags 配置变更后重启使用的参数：保留启动参数，只替换配置文件
func reloadFlags(base rootFlags, configPath string) *rootFlags {
	base.config = configPath
	return &base
}

func init() {
	var runCommand = &cobra.Command{
		Use:   "run [-c config_file] [-d working_dir]",
		Short: "Run the sync daemon: push channel, scheduled sync and backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := pinFlags(*globalFlags)
			d, err := startDaemon(globalFlags)
			if err != nil {
				return err
			}

			var mu sync.Mutex
			w := watcher.New()

			// 每个监听周期至多接收 1 个事件，只通知写入
			w.SetMaxEvents(1)
			w.FilterOps(watcher.Write)

			go func() {
				for {
					select {
					case event := <-w.Event:
						mu.Lock()
						if d != nil {
							d.s.logger.Info("config watcher change", zap.String("event", event.Op.String()), zap.String("file", event.Path))
							if err := d.stop(); err != nil {
								bootstrapLogger.Warn("daemon stop", zap.Error(err))
							}
						}
						// 重新加载配置并启动
						d, err = startDaemon(reloadFlags(base, event.Path))
						if err != nil {
							bootstrapLogger.Error("daemon restart error, waiting for next config change", zap.Error(err))
						}
						mu.Unlock()
					case err := <-w.Error:
						bootstrapLogger.Error("config watcher error", zap.Error(err))
					case <-w.Closed:
						return
					}
				}
			}()

			if err := w.Add(d.s.configPath); err != nil {
				d.s.logger.Error("config watcher file error", zap.Error(err))
			}
			go func() {
				if err := w.Start(time.Second * 5); err != nil {
					bootstrapLogger.Error("config watcher start error", zap.Error(err))
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			w.Close()
			mu.Lock()
			defer mu.Unlock()
			if d == nil {
				return nil
			}
			d.s.logger.Info("Received shutdown signal, initiating graceful shutdown...")
			if err := d.stop(); err != nil {
				return fmt.Errorf("shutdown completed with error: %w", err)
			}
			bootstrapLogger.Info("Service has been shut down gracefully.")
			return nil
		},
	}

	rootCmd.AddCommand(runCommand)
}

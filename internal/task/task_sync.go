package task

import (
	"context"

	"github.com/haierkeys/fast-pass-sync/internal/app"
)

// SyncTask 定时全量同步，推送通道断开时兜底
type SyncTask struct {
	app *app.App
}

func (t *SyncTask) Name() string {
	return "SyncScheduled"
}

func (t *SyncTask) Spec() string {
	return t.app.Config().Sync.Cron
}

func (t *SyncTask) IsStartupRun() bool {
	return !t.app.Config().Sync.SkipStartup
}

func (t *SyncTask) Run(ctx context.Context) error {
	return t.app.SyncService.Sync(ctx)
}

// NewSyncTask 创建同步任务
func NewSyncTask(appContainer *app.App) (Task, error) {
	if appContainer.Config().Sync.Cron == "" {
		return nil, nil
	}
	return &SyncTask{app: appContainer}, nil
}

func init() {
	RegisterWithApp(func(appContainer *app.App) (Task, error) {
		return NewSyncTask(appContainer)
	})
}

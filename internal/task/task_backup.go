package task

import (
	"context"

	"github.com/haierkeys/fast-pass-sync/internal/app"
	"github.com/haierkeys/fast-pass-sync/pkg/logger"

	"go.uber.org/zap"
)

// BackupTask handles scheduled encrypted backups
type BackupTask struct {
	app    *app.App
	logger *zap.Logger
}

// Name returns the task name
func (t *BackupTask) Name() string {
	return "BackupScheduled"
}

// Spec returns the configured cron expression
func (t *BackupTask) Spec() string {
	return t.app.Config().Backup.Cron
}

// IsStartupRun returns whether to run on startup
func (t *BackupTask) IsStartupRun() bool {
	return false
}

// Run writes one archive and prunes old ones
func (t *BackupTask) Run(ctx context.Context) error {
	res, err := t.app.BackupService.Run(ctx)
	if err != nil {
		return err
	}
	t.logger.Info("backup done",
		zap.String(logger.FieldFileKey, res.FileKey),
		zap.Int(logger.FieldCount, res.Items),
		zap.Int("removed", len(res.Removed)))
	return nil
}

// NewBackupTask creates a new BackupTask instance, nil when backups are off
func NewBackupTask(appContainer *app.App) (Task, error) {
	if !appContainer.Config().Backup.Enabled || appContainer.BackupService == nil {
		return nil, nil
	}
	return &BackupTask{
		app:    appContainer,
		logger: appContainer.Logger(),
	}, nil
}

// init registers the backup task
func init() {
	RegisterWithApp(func(appContainer *app.App) (Task, error) {
		return NewBackupTask(appContainer)
	})
}

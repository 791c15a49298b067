package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/dao"
	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAccountKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

// unsetEnv 清除变量，测试结束后恢复
func unsetEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	unsetEnv(t, EnvBaseURL, EnvToken, EnvAccountKey)
	dir := t.TempDir()
	p := writeConfig(t, dir, "remote:\n  base-url: https://pass.example.com\nsync:\n  skip-startup: true\n")

	cfg, realpath, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, p, realpath)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "@every 15m", cfg.Sync.Cron)
	assert.True(t, cfg.Sync.SkipStartup)
	assert.False(t, cfg.Push.Disabled)
	assert.Equal(t, 7, cfg.Backup.Retain)
	assert.Equal(t, "localfs", cfg.Backup.Storage.Type)
	assert.Equal(t, 100, cfg.Remote.PageSize)

	// 相对路径落在配置目录下
	assert.Equal(t, filepath.Join(dir, "storage/database/pass.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dir, "storage/keys/master.key"), cfg.Crypto.KeyFile)
	assert.Equal(t, filepath.Join(dir, "storage/backup"), cfg.Backup.Storage.SavePath)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	unsetEnv(t, EnvBaseURL, EnvToken, EnvAccountKey)
	dir := t.TempDir()
	p := writeConfig(t, dir, "remote:\n  base-url: https://from-file.example.com\n  token: file-token\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte(EnvToken+"=dotenv-token\n"+EnvAccountKey+"="+testAccountKey+"\n"), 0600))
	t.Setenv(EnvBaseURL, "https://from-env.example.com")

	cfg, _, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "dotenv-token", cfg.Remote.Token)
	assert.Equal(t, testAccountKey, cfg.Remote.AccountKey)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Validation(t *testing.T) {
	unsetEnv(t, EnvBaseURL, EnvToken, EnvAccountKey)
	dir := t.TempDir()
	p := writeConfig(t, dir, "remote:\n  base-url: not a url\nsync:\n  cron: \"every tuesday\"\ncrypto:\n  algorithm: rot13\n")

	_, _, err := LoadConfig(p)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, code.ErrorInvalidConfig))
	assert.Contains(t, err.Error(), "remote.base-url")
	assert.Contains(t, err.Error(), "sync.cron")
	assert.Contains(t, err.Error(), "crypto.algorithm")

	p = writeConfig(t, dir, "sync:\n  cron: \"*/30 * * * * *\"\n")
	_, _, err = LoadConfig(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.base-url")
	assert.NotContains(t, err.Error(), "sync.cron")
}

func TestConfig_Durations(t *testing.T) {
	cfg := &AppConfig{}
	assert.Equal(t, DefaultShutdownTimeout, cfg.GetShutdownTimeout())
	minB, maxB := cfg.GetPushBackoff()
	assert.Equal(t, time.Second, minB)
	assert.Equal(t, time.Minute, maxB)

	cfg.App.ShutdownTimeout = "5s"
	cfg.Push.MinBackoff = "2s"
	cfg.Push.MaxBackoff = "1s" // 小于下限时回落
	assert.Equal(t, 5*time.Second, cfg.GetShutdownTimeout())
	minB, maxB = cfg.GetPushBackoff()
	assert.Equal(t, 2*time.Second, minB)
	assert.Equal(t, time.Minute, maxB)
}

func TestConfig_Save(t *testing.T) {
	unsetEnv(t, EnvBaseURL, EnvToken, EnvAccountKey)
	dir := t.TempDir()
	p := writeConfig(t, dir, "remote:\n  base-url: https://pass.example.com\n")
	cfg, _, err := LoadConfig(p)
	require.NoError(t, err)

	cfg.Sync.Cron = "@every 1h"
	require.NoError(t, cfg.Save())

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, _, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "@every 1h", again.Sync.Cron)
}

func newTestApp(t *testing.T, extra string) *App {
	t.Helper()
	unsetEnv(t, EnvBaseURL, EnvToken, EnvAccountKey)
	dir := t.TempDir()
	p := writeConfig(t, dir, "remote:\n  base-url: http://127.0.0.1:1\n  account-key: "+testAccountKey+"\n"+extra)
	cfg, _, err := LoadConfig(p)
	require.NoError(t, err)

	db, err := dao.NewDBEngine(cfg.Database)
	require.NoError(t, err)
	a, err := NewApp(cfg, zap.NewNop(), db)
	require.NoError(t, err)
	return a
}

func TestNewApp_Wiring(t *testing.T) {
	a := newTestApp(t, "")
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	assert.NotNil(t, a.SyncService)
	assert.NotNil(t, a.ItemService)
	assert.NotNil(t, a.Keys)
	assert.NotNil(t, a.Provider)
	assert.NotNil(t, a.BackupService)
	assert.NotNil(t, a.WorkerPool())
}

func TestNewApp_InvalidBackupStorage(t *testing.T) {
	a := newTestApp(t, "backup:\n  storage:\n    type: ftp\n")
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	// 存储配置错误不影响同步
	assert.Nil(t, a.BackupService)
	assert.NotNil(t, a.SyncService)
}

func TestNewApp_RequiresAccountKey(t *testing.T) {
	unsetEnv(t, EnvBaseURL, EnvToken, EnvAccountKey)
	dir := t.TempDir()
	p := writeConfig(t, dir, "remote:\n  base-url: http://127.0.0.1:1\n")
	cfg, _, err := LoadConfig(p)
	require.NoError(t, err)
	db, err := dao.NewDBEngine(cfg.Database)
	require.NoError(t, err)

	_, err = NewApp(cfg, zap.NewNop(), db)
	assert.Error(t, err)

	_, err = NewApp(nil, zap.NewNop(), db)
	assert.Error(t, err)
}

func TestShutdown_WaitsForTrackedOperations(t *testing.T) {
	a := newTestApp(t, "")

	release := a.TrackOperation()
	finished := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
		close(finished)
	}()

	require.NoError(t, a.Shutdown(context.Background()))
	select {
	case <-finished:
	default:
		t.Fatal("shutdown returned before tracked operation finished")
	}
	assert.True(t, a.IsShuttingDown())

	// 重复关闭直接返回
	assert.NoError(t, a.Shutdown(context.Background()))
}

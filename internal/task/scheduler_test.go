package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haierkeys/fast-pass-sync/internal/app"
	"github.com/haierkeys/fast-pass-sync/internal/dao"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTask struct {
	name    string
	spec    string
	startup bool
	run     func(ctx context.Context) error
	calls   atomic.Int32
}

func (f *fakeTask) Name() string       { return f.name }
func (f *fakeTask) Spec() string       { return f.spec }
func (f *fakeTask) IsStartupRun() bool { return f.startup }
func (f *fakeTask) Run(ctx context.Context) error {
	f.calls.Add(1)
	return f.run(ctx)
}

func TestScheduler_StartupRun(t *testing.T) {
	s := NewScheduler(nil)
	ran := make(chan struct{})
	require.NoError(t, s.AddTask(&fakeTask{name: "t", spec: "@every 1h", startup: true, run: func(context.Context) error {
		close(ran)
		return errors.New("logged, not fatal")
	}}))
	s.Start()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("startup run did not happen")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler(nil)
	err := s.AddTask(&fakeTask{name: "bad", spec: "every tuesday", run: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	_, err = ParseSpec("0 3 * * *")
	assert.NoError(t, err)
	_, err = ParseSpec("*/5 * * * * *")
	assert.NoError(t, err)
}

func TestScheduler_LoopRunSurvivesPanic(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	second := make(chan struct{})
	var n atomic.Int32
	require.NoError(t, s.AddTask(&fakeTask{name: "p", spec: "* * * * * *", run: func(context.Context) error {
		if n.Add(1) == 1 {
			panic("boom")
		}
		select {
		case <-second:
		default:
			close(second)
		}
		return nil
	}}))
	s.Start()

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not rescheduled after panic")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopTimeoutCancelsRun(t *testing.T) {
	s := NewScheduler(nil)
	started := make(chan struct{})
	canceled := make(chan struct{})
	require.NoError(t, s.AddTask(&fakeTask{name: "slow", spec: "@every 1h", startup: true, run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}}))
	s.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("running task context not canceled")
	}
}

func newTestApp(t *testing.T, extra string) *app.App {
	t.Helper()
	for _, k := range []string{app.EnvBaseURL, app.EnvToken, app.EnvAccountKey} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	body := "remote:\n  base-url: http://127.0.0.1:1\n  account-key: AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\n" + extra
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))

	cfg, _, err := app.LoadConfig(p)
	require.NoError(t, err)
	db, err := dao.NewDBEngine(cfg.Database)
	require.NoError(t, err)
	a, err := app.NewApp(cfg, zap.NewNop(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestManager_RegisterTasks(t *testing.T) {
	factories := []TaskFactory{NewSyncTask, NewBackupTask}

	a := newTestApp(t, "")
	m := NewManager(nil)
	require.NoError(t, m.register(a, factories))
	require.Len(t, m.scheduler.tasks, 1)
	assert.Equal(t, "SyncScheduled", m.scheduler.tasks[0].Name())
	assert.True(t, m.scheduler.tasks[0].IsStartupRun())

	a = newTestApp(t, "sync:\n  skip-startup: true\nbackup:\n  enabled: true\n  cron: \"0 4 * * *\"\n")
	m = NewManager(nil)
	require.NoError(t, m.register(a, factories))
	require.Len(t, m.scheduler.tasks, 2)
	assert.False(t, m.scheduler.tasks[0].IsStartupRun())
	assert.Equal(t, "0 4 * * *", m.scheduler.tasks[1].Spec())
}

func TestManager_FactoryError(t *testing.T) {
	a := newTestApp(t, "")
	m := NewManager(nil)
	err := m.register(a, []TaskFactory{func(*app.App) (Task, error) { return nil, errors.New("broken") }})
	assert.EqualError(t, err, "broken")
}

func TestRegistry_HasBuiltinTasks(t *testing.T) {
	assert.GreaterOrEqual(t, len(GetFactories()), 2)
}

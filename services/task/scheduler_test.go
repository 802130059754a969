package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type capturedLifecycle struct {
	hooks []fx.Hook
}

func (l *capturedLifecycle) Append(h fx.Hook) {
	l.hooks = append(l.hooks, h)
}

func TestSchedulerOutlivesStartContextDeadline(t *testing.T) {
	s := NewScheduler(nil)
	lc := &capturedLifecycle{}
	StartScheduler(lc, s)
	require.Len(t, lc.hooks, 1)

	// fx hands OnStart a context bounded by the app start timeout. The
	// loop must keep running after that deadline fires.
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, lc.hooks[0].OnStart(startCtx))

	<-startCtx.Done()
	select {
	case <-s.done:
		t.Fatal("scheduler loop exited with the start context")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lc.hooks[0].OnStop(context.Background()))
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop on shutdown")
	}
}

func TestNextRunTime(t *testing.T) {
	beforeRun := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC), nextRunTime(beforeRun, 1, 0))

	afterRun := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC), nextRunTime(afterRun, 1, 0))
}

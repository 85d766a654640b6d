package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

// putFakeAdbOnPath puts a slow fake "adb" first on PATH, so tests can
// tell an in-flight watch loop from one that already exited.
func putFakeAdbOnPath(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "adb")
	script := "#!/bin/sh\nexec sleep 30\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestPermissionApproverNoopWhenDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.PermissionApprove = false
	sess := session.New(cfg)
	w := NewPermissionApprover(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.Job)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

func TestPermissionApproverNoopForUnrelatedState(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewPermissionApprover(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.NetworkUp)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

func TestPermissionApproverStopNoopWithNoInFlightTask(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewPermissionApprover(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.Stop)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

// A watch loop that never sees a permission dialog must not hold up the
// JOB state's errgroup.Wait() forever: Enter(Job) has to return as soon as
// the watch is started, not once it finishes.
func TestPermissionApproverEnterJobReturnsWithoutWaitingForWatchLoop(t *testing.T) {
	putFakeAdbOnPath(t)
	cfg := config.Defaults()
	cfg.PermissionApprove = true
	sess := session.New(cfg)
	w := NewPermissionApprover(testLogEntry(), sess)

	done := make(chan struct{})
	go func() {
		res, err := w.Enter(context.Background(), fsm.Job)
		assert.NoError(t, err)
		assert.Equal(t, fsm.Done, res)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enter(Job) blocked on the logcat watch loop instead of returning immediately")
	}

	res, err := w.Enter(context.Background(), fsm.Stop)
	require.NoError(t, err)
	assert.Equal(t, fsm.Done, res)
}

package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

func TestLogCapturerNoopWithNoConfiguredPaths(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewLogCapturer(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.Stop)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

func TestLogCapturerNoopForNonStopState(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogcatOutput = "/tmp/should-not-be-used.log"
	sess := session.New(cfg)
	w := NewLogCapturer(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.Job)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

func TestResolveOutputPathKeepsAbsolutePathsUnchanged(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewLogCapturer(testLogEntry(), sess)

	dest, err := w.resolveOutputPath("/tmp/bugreport.zip")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bugreport.zip", dest)
}

func TestResolveOutputPathRootsRelativePathsInScratchDir(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewLogCapturer(testLogEntry(), sess)

	dest, err := w.resolveOutputPath("logcat.txt")
	require.NoError(t, err)

	scratch, err := sess.ScratchDir()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(scratch) })
	assert.Equal(t, filepath.Join(scratch, "logcat.txt"), dest)
}

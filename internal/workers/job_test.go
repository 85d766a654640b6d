package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

func TestJobRunnerCapturesZeroExitCode(t *testing.T) {
	cfg := config.Defaults()
	cfg.JobCommand = "true"
	sess := session.New(cfg)
	w := NewJobRunner(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.Job)
	require.NoError(t, err)
	assert.Equal(t, fsm.Done, res)

	code, ok := sess.JobExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)
}

func TestJobRunnerNonZeroExitIsNotAFailure(t *testing.T) {
	cfg := config.Defaults()
	cfg.JobCommand = "false"
	sess := session.New(cfg)
	w := NewJobRunner(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.Job)
	require.NoError(t, err, "a nonzero test exit is the intended outcome, not an orchestration failure")
	assert.Equal(t, fsm.Done, res)

	code, ok := sess.JobExitCode()
	require.True(t, ok)
	assert.NotEqual(t, 0, code)
}

func TestJobRunnerNoopForUnrelatedState(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewJobRunner(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.NetworkUp)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

func TestJobRunnerStopIsNoopWhenNeverStarted(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewJobRunner(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.Stop)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

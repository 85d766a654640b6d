package workers

import (
	"context"
	"os"
	"os/exec"

	"github.com/Sirupsen/logrus"

	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/progress"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

// JobRunner spawns the user-supplied test command and captures its exit
// code. Unlike every other worker it never reports FAIL for a non-zero
// exit: that is its intended outcome (§7), not an orchestration failure.
// Grounded on §4.7; the teacher has no direct analogue since
// taskcluster-worker's job execution goes through its own sandbox/shell
// abstraction (engines/native/sandbox.go), so this is written in that
// file's os/exec idiom applied to a single opaque child process.
type JobRunner struct {
	log  *logrus.Entry
	sess *session.Session
}

func NewJobRunner(log *logrus.Entry, sess *session.Session) *JobRunner {
	return &JobRunner{log: log.WithField("worker", "Test Job Runner"), sess: sess}
}

func (w *JobRunner) Name() string { return "Test Job Runner" }

func (w *JobRunner) Enter(ctx context.Context, state fsm.State) (fsm.Result, error) {
	switch state {
	case fsm.Job:
		if err := w.runJob(ctx); err != nil {
			return fsm.Fail, err
		}
		return fsm.Done, nil
	case fsm.Stop:
		proc := w.sess.JobProc()
		if proc == nil || proc.Process == nil || proc.ProcessState != nil {
			return fsm.NOOP, nil
		}
		_ = proc.Process.Kill()
		return fsm.Done, nil
	default:
		return fsm.NOOP, nil
	}
}

func (w *JobRunner) Exit(ctx context.Context, state fsm.State) (fsm.Result, error) {
	return fsm.NOOP, nil
}

func (w *JobRunner) runJob(ctx context.Context) error {
	cfg := w.sess.Config
	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.JobCommand)
	cmd.Dir = cfg.JobWorkdir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	w.sess.SetJobProc(cmd)
	progress.Success(w.log, "running test command: "+cfg.JobCommand)

	runErr := cmd.Run()

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		runErr = nil
	} else if runErr == nil && cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	w.sess.SetJobExitCode(exitCode)

	if runErr != nil {
		// A genuine launch error (not a nonzero exit) is a real failure.
		return runErr
	}

	if exitCode == 0 {
		progress.Success(w.log, "test command succeeded")
	} else {
		progress.Warn(w.log, "test command exited non-zero")
	}
	return nil
}

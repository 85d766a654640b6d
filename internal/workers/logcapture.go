package workers

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Sirupsen/logrus"

	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/progress"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

// LogCapturer pulls guest diagnostics (logcat, kernel log, bugreport)
// through adb and writes them to host files during STOP. Best-effort:
// every failure is logged and swallowed, per §4.8. Relative output paths
// are rooted at the session's per-run scratch directory
// (session.Session.ScratchDir) so concurrent harness runs don't clobber
// each other's artifacts; absolute paths are honored as configured.
type LogCapturer struct {
	log  *logrus.Entry
	sess *session.Session
}

func NewLogCapturer(log *logrus.Entry, sess *session.Session) *LogCapturer {
	return &LogCapturer{log: log.WithField("worker", "Log Capturer"), sess: sess}
}

func (w *LogCapturer) Name() string { return "Log Capturer" }

type artifact struct {
	outputPath string
	args       []string
}

func (w *LogCapturer) Enter(ctx context.Context, state fsm.State) (fsm.Result, error) {
	if state != fsm.Stop {
		return fsm.NOOP, nil
	}

	cfg := w.sess.Config
	artifacts := []artifact{
		{cfg.LogcatOutput, []string{"logcat", "-d"}},
		{cfg.DmesgOutput, []string{"shell", "dmesg"}},
		{cfg.BugreportOutput, []string{"bugreport"}},
	}

	captured := false
	for _, a := range artifacts {
		if a.outputPath == "" {
			continue
		}
		if w.capture(ctx, a) {
			captured = true
		}
	}

	if captured {
		return fsm.Done, nil
	}
	return fsm.NOOP, nil
}

func (w *LogCapturer) Exit(ctx context.Context, state fsm.State) (fsm.Result, error) {
	return fsm.NOOP, nil
}

func (w *LogCapturer) capture(ctx context.Context, a artifact) bool {
	cmd := exec.CommandContext(ctx, "adb", a.args...)
	output, err := cmd.Output()
	if err != nil {
		progress.Warn(w.log, "failed to capture "+a.outputPath+": "+err.Error())
		return false
	}

	dest, err := w.resolveOutputPath(a.outputPath)
	if err != nil {
		progress.Warn(w.log, "failed to prepare output path for "+a.outputPath+": "+err.Error())
		return false
	}

	if err := os.WriteFile(dest, output, 0o644); err != nil {
		progress.Warn(w.log, "failed to write "+dest+": "+err.Error())
		return false
	}
	progress.Success(w.log, "captured artifact: "+dest)
	return true
}

// resolveOutputPath roots a relative configured path at this run's
// scratch directory; an absolute path is returned unchanged.
func (w *LogCapturer) resolveOutputPath(outputPath string) (string, error) {
	if filepath.IsAbs(outputPath) {
		return outputPath, nil
	}
	dir, err := w.sess.ScratchDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, outputPath), nil
}

package workers

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/Sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

const (
	vncModesettingSettle = 10 * time.Second
	defaultRecorderBin   = "vnc_recorder"
)

// ScreenRecorder spawns an external VNC-recording binary pointed at the
// emulator's VNC port. Grounded on
// original_source/workers/vnc_recorder.py.
type ScreenRecorder struct {
	log  *logrus.Entry
	sess *session.Session

	// settle overrides vncModesettingSettle; zero means use the default.
	// Exists so tests don't have to wait out the real delay.
	settle time.Duration
}

func NewScreenRecorder(log *logrus.Entry, sess *session.Session) *ScreenRecorder {
	return &ScreenRecorder{log: log.WithField("worker", "Screen Recorder"), sess: sess}
}

func (w *ScreenRecorder) Name() string { return "Screen Recorder" }

func (w *ScreenRecorder) Enter(ctx context.Context, state fsm.State) (fsm.Result, error) {
	switch state {
	case fsm.QemuUp:
		if !w.sess.Config.VncRecorder {
			return fsm.NOOP, nil
		}
		if err := w.ensureRecorder(ctx); err != nil {
			return fsm.Fail, err
		}
		return fsm.Done, nil
	case fsm.Stop:
		proc := w.sess.VncRecorderProc()
		if proc == nil || proc.Process == nil || proc.ProcessState != nil {
			return fsm.NOOP, nil
		}
		if err := proc.Process.Signal(termSignal()); err != nil && !isNoSuchProcess(err) {
			return fsm.Fail, err
		}
		return fsm.Done, nil
	default:
		return fsm.NOOP, nil
	}
}

func (w *ScreenRecorder) Exit(ctx context.Context, state fsm.State) (fsm.Result, error) {
	return fsm.NOOP, nil
}

func (w *ScreenRecorder) ensureRecorder(ctx context.Context) error {
	if err := sleepCtx(ctx, w.modesettingSettle()); err != nil {
		return err
	}

	bin := w.sess.Config.VncRecorderBin
	if bin == "" {
		bin = defaultRecorderBin
	}

	// cmd outlives this function: it runs until STOP sends it a
	// termination signal, so it must not be tied to a cancelable
	// context the way exec.CommandContext would kill it on return.
	cmd := exec.Command(bin,
		"--password", "",
		"--port", strconv.Itoa(w.sess.Config.VncRecorderPort),
		"--outfile", w.sess.Config.VncRecorderOutput,
	)
	if !w.sess.Config.VncRecorderDebug {
		cmd.Stderr = io.Discard
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start VNC recorder")
	}
	w.sess.SetVncRecorderProc(cmd)
	return nil
}

// modesettingSettle is the VNC mode-settling delay before spawning the
// recorder. A method (not the bare constant) so tests can shorten it via
// w.settle.
func (w *ScreenRecorder) modesettingSettle() time.Duration {
	if w.settle > 0 {
		return w.settle
	}
	return vncModesettingSettle
}

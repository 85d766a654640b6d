package workers

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Sirupsen/logrus"

	"github.com/EtchDroid/qemu-android-harness/internal/atomics"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

const keyPressSpacing = 300 * time.Millisecond

// PermissionApprover watches the guest log for the USB-permission dialog
// the VirtWifi installer's activity can trigger, and auto-dismisses it.
// Grounded on original_source/workers/permission_checker.py for the
// dialog-watching logic, and on engines/native/sandbox.go's
// resolve/cancel shutdown shape (atomics.Once guarding a single in-flight
// background task) for Job/Stop coordination.
type PermissionApprover struct {
	log  *logrus.Entry
	sess *session.Session

	mu      sync.Mutex
	cancel  context.CancelFunc
	resolve atomics.Once
}

func NewPermissionApprover(log *logrus.Entry, sess *session.Session) *PermissionApprover {
	return &PermissionApprover{log: log.WithField("worker", "Permission approver"), sess: sess}
}

func (w *PermissionApprover) Name() string { return "Permission approver" }

func (w *PermissionApprover) Enter(ctx context.Context, state fsm.State) (fsm.Result, error) {
	switch state {
	case fsm.Job:
		if !w.sess.Config.PermissionApprove {
			return fsm.NOOP, nil
		}
		taskCtx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.cancel = cancel
		w.mu.Unlock()

		w.resolve.Do(func() {
			w.ensurePermsApproved(taskCtx)
		})
		return fsm.Done, nil
	case fsm.Stop:
		return w.stopInFlight(), nil
	default:
		return fsm.NOOP, nil
	}
}

func (w *PermissionApprover) Exit(ctx context.Context, state fsm.State) (fsm.Result, error) {
	return fsm.NOOP, nil
}

func (w *PermissionApprover) keypress(ctx context.Context, key string) {
	cmd := exec.CommandContext(ctx, "adb", "shell", "input", "keyboard", "keyevent", "KEYCODE_"+key)
	_ = cmd.Run()
	select {
	case <-ctx.Done():
	case <-time.After(keyPressSpacing):
	}
}

func (w *PermissionApprover) approvePermission(ctx context.Context) {
	buttons := w.sess.Config.PermissionApproveButtons
	if len(buttons) == 0 {
		buttons = []string{"DPAD_RIGHT", "DPAD_RIGHT", "ENTER"}
	}
	for _, key := range buttons {
		w.keypress(ctx, strings.TrimPrefix(key, "KEYCODE_"))
	}
}

func (w *PermissionApprover) ensurePermsApproved(ctx context.Context) {
	cmd := exec.CommandContext(ctx, "adb", "logcat")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.log.WithError(err).Warn("failed to open adb logcat pipe")
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		w.log.WithError(err).Warn("failed to start adb logcat")
		return
	}
	w.sess.SetAdbProc(cmd)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "USB-PERMISSION") {
			if strings.Contains(line, "USB-PERMISSION-REQUESTED") {
				w.approvePermission(ctx)
			}
			_ = cmd.Process.Kill()
			break
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return
		default:
		}
	}
	_ = cmd.Wait()
}

func (w *PermissionApprover) stopInFlight() fsm.Result {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	result := fsm.NOOP
	if proc := w.sess.AdbProc(); proc != nil && proc.Process != nil && proc.ProcessState == nil {
		if err := proc.Process.Kill(); err == nil {
			result = fsm.Done
		}
	}
	if cancel != nil {
		cancel()
		result = fsm.Done
	}
	// Blocks until ensurePermsApproved has returned, same as resolve.Wait()
	// in sandbox.go's Kill/Abort. A no-op if Job was never entered.
	w.resolve.Wait()
	return result
}

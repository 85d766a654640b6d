// Package workers holds the concrete fsm.Worker implementations: the
// Emulator Manager, VirtWifi Installer, Permission Approver, Screen
// Recorder, Test Job Runner, and Log Capturer.
package workers

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Sirupsen/logrus"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/EtchDroid/qemu-android-harness/internal/atomics"
	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/progress"
	"github.com/EtchDroid/qemu-android-harness/internal/qemuimage"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
	"github.com/EtchDroid/qemu-android-harness/internal/termio"
)

// preflightImages is the set of raw disk images §4.3's default QEMU
// argument vector boots from, relative to the QEMU working directory.
var preflightImages = []string{"system.sfs", "ramdisk.img"}

const (
	socketWaitTimeout     = 30 * time.Second
	dex2oatWaitTimeout    = 40 * time.Second
	bootAnimWaitTimeout   = 40 * time.Second
	guestSettleFactor     = 10 * time.Second
	debloatSettleDuration = 10 * time.Second
	monitorProbeDuration  = 2700 * time.Millisecond
)

// EmulatorManager owns the QEMU child process and the two Unix-domain
// console sockets (serial, monitor). Grounded on
// original_source/workers/qemu_manager.py's QemuSystemManager and on
// engines/qemu/vm/vm.go's process/socket lifecycle.
type EmulatorManager struct {
	log  *logrus.Entry
	sess *session.Session

	readersWG atomics.WaitGroup
}

// NewEmulatorManager constructs the worker. log should already be tagged
// with the component name by the caller's logger setup.
func NewEmulatorManager(log *logrus.Entry, sess *session.Session) *EmulatorManager {
	return &EmulatorManager{log: log.WithField("worker", "Emulator Manager"), sess: sess}
}

func (w *EmulatorManager) Name() string { return "Emulator Manager" }

func (w *EmulatorManager) Enter(ctx context.Context, state fsm.State) (fsm.Result, error) {
	switch state {
	case fsm.QemuUp:
		if err := w.ensureQemu(ctx); err != nil {
			return fsm.Fail, err
		}
		return fsm.Done, nil
	case fsm.Stop:
		if err := w.ensureStopped(ctx); err != nil {
			return fsm.Fail, err
		}
		return fsm.Done, nil
	default:
		return fsm.NOOP, nil
	}
}

func (w *EmulatorManager) Exit(ctx context.Context, state fsm.State) (fsm.Result, error) {
	return fsm.NOOP, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (w *EmulatorManager) ensureQemu(ctx context.Context) error {
	cfg := w.sess.Config

	kvm, decider := kvmAvailable()
	if kvm {
		progress.Success(w.log, fmt.Sprintf("KVM is available (decider: %s)", decider))
	} else {
		progress.Fail(w.log, fmt.Sprintf("KVM is not available, performance may be very low (decider: %s)", decider))
	}

	if !kvm && cfg.QemuForceKVM {
		progress.Warn(w.log, "ignoring and forcing KVM on as requested")
		kvm = true
	} else if !kvm {
		w.sess.SetTimeoutMultiplier(5)
	}

	qemuArgs := buildQemuArgs(cfg.QemuArgs, kvm)
	if cfg.QemuDebug {
		w.log.WithField("qemu_args", qemuArgs).Debug("QEMU args")
	}

	w.preflightDiskImages(cfg.QemuWorkdir)

	cmd := exec.Command(cfg.QemuBin, qemuArgs...)
	cmd.Dir = cfg.QemuWorkdir
	if cfg.QemuDebug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start QEMU")
	}
	w.sess.SetQemuProc(cmd)
	w.sess.SetStopDebug(false)

	if err := sleepCtx(ctx, 1*time.Second); err != nil {
		return err
	}

	if err := w.connectConsoles(ctx); err != nil {
		return err
	}

	found := termio.WaitForPrompt(ctx, w.sess.SerialBuffer(), termio.DefaultPromptSentinel)
	if !found {
		progress.Warn(w.log, "timeout while waiting for shell prompt")
	}

	if err := w.runOneshot(ctx, "stty cols 194"); err != nil {
		return err
	}
	if err := w.runOneshot(ctx, "stty rows 80"); err != nil {
		return err
	}
	termio.WaitForPrompt(ctx, w.sess.SerialBuffer(), termio.DefaultPromptSentinel)

	if err := sleepCtx(ctx, w.sess.Scaled(guestSettleFactor)); err != nil {
		return err
	}

	if ok, err := w.detectPackageManager(ctx); err != nil {
		return err
	} else if !ok {
		progress.Warn(w.log, "timeout waiting for package manager")
	} else {
		progress.Success(w.log, "package manager is running")
	}

	if err := w.debloat(ctx); err != nil {
		return err
	}
	progress.Success(w.log, "system debloated")

	if err := sleepCtx(ctx, debloatSettleDuration); err != nil {
		return err
	}
	termio.WaitForPrompt(ctx, w.sess.SerialBuffer(), termio.DefaultPromptSentinel)

	w.probeGuestProcesses(ctx)

	dex2oatCtx, cancel := context.WithTimeout(ctx, dex2oatWaitTimeout)
	gone, err := termio.RunAndNotExpect(dex2oatCtx, w.sess.SerialBuffer(), func() error {
		return w.send("ps -A | grep dex.oat")
	}, []byte("dex2oat"))
	cancel()
	if err != nil {
		return err
	}
	if gone {
		progress.Success(w.log, "dex2oat terminated")
	}

	bootCtx, cancel := context.WithTimeout(ctx, bootAnimWaitTimeout)
	bootGone, err := termio.RunAndNotExpect(bootCtx, w.sess.SerialBuffer(), func() error {
		return w.send("ps -A | grep bootanim")
	}, []byte("bootanimation"))
	cancel()
	if err != nil {
		return err
	}
	if !bootGone {
		progress.Warn(w.log, "timeout waiting for boot animation to stop")
	} else {
		progress.Success(w.log, "boot animation terminated")
	}

	return nil
}

// preflightDiskImages logs qemu-img metadata for the raw images QEMU is
// about to boot from. It is a best-effort diagnostic: a missing qemu-img
// binary or an unreadable image just produces a warning, since the images
// §4.3 ships are plain raw files and booting can still proceed without
// this check succeeding.
func (w *EmulatorManager) preflightDiskImages(workdir string) {
	for _, name := range preflightImages {
		path := filepath.Join(workdir, name)
		report, err := qemuimage.InspectRawImage(path)
		if err != nil {
			progress.Warn(w.log, fmt.Sprintf("could not inspect %s: %s", name, err))
			continue
		}
		w.log.WithFields(logrus.Fields{
			"image":        name,
			"virtual_size": report.VirtualSizeBytes,
			"actual_size":  report.ActualSizeBytes,
			"dirty":        report.Dirty,
		}).Debug("disk image preflight")
		if report.Dirty {
			progress.Warn(w.log, fmt.Sprintf("%s has the dirty flag set, a previous run may have crashed", name))
		}
	}
}

// buildQemuArgs injects or removes -enable-kvm depending on acceleration
// availability, per §4.3 step 2.
func buildQemuArgs(args []string, kvm bool) []string {
	out := append([]string(nil), args...)
	has := false
	idx := -1
	for i, a := range out {
		if a == "-enable-kvm" {
			has = true
			idx = i
			break
		}
	}
	if kvm && !has {
		out = append([]string{"-enable-kvm"}, out...)
	} else if !kvm && has {
		out = append(out[:idx], out[idx+1:]...)
	}
	return out
}

func (w *EmulatorManager) connectConsoles(ctx context.Context) error {
	if err := waitExists(ctx, config.SerialSocketPath, socketWaitTimeout); err != nil {
		return errors.Wrap(err, "serial socket never appeared")
	}
	serialConn, err := net.Dial("unix", config.SerialSocketPath)
	if err != nil {
		return errors.Wrap(err, "failed to dial serial socket")
	}
	w.sess.SetSerialConn(serialConn)
	w.startReader(serialConn, w.sess.SerialBuffer(), "VM")
	progress.Success(w.log, "connected to QEMU serial socket")

	if err := waitExists(ctx, config.MonitorSocketPath, socketWaitTimeout); err != nil {
		return errors.Wrap(err, "monitor socket never appeared")
	}
	monitorConn, err := net.Dial("unix", config.MonitorSocketPath)
	if err != nil {
		return errors.Wrap(err, "failed to dial monitor socket")
	}
	w.sess.SetMonitorConn(monitorConn)
	w.startReader(monitorConn, w.sess.MonitorBuffer(), "QEMU")
	progress.Success(w.log, "connected to QEMU monitor socket")

	return nil
}

// startReader runs the background accumulator task for one console
// connection. It is the sole appender to buf (§3 invariant) and exits
// once the session's stop-debug flag is set. Registered on readersWG so
// ensureStopped can drain and wait for it, the way sandbox.go's
// sessions.WaitAndDrain() waits out in-flight shells before tearing down.
func (w *EmulatorManager) startReader(conn net.Conn, buf *termio.Buffer, tag string) {
	if err := w.readersWG.Add(1); err != nil {
		// Already draining: ensureStopped is underway, no new readers.
		return
	}
	go func() {
		defer w.readersWG.Done()
		chunk := make([]byte, 4096)
		for {
			if w.sess.StopDebug() {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, err := conn.Read(chunk)
			if n > 0 {
				buf.Append(chunk[:n])
				if w.sess.Config.QemuDebug {
					w.log.Debugf("%s: %s", tag, termio.StripANSI(chunk[:n]))
				}
			}
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return
			}
		}
	}()
}

func waitExists(ctx context.Context, path string, timeout time.Duration) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to set up file system monitoring")
	}
	defer watcher.Close()

	dir := parentDir(path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to monitor %q", dir)
	}

	// The socket may have been created between the Stat above and Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Op&fsnotify.Create != 0 && ev.Name == path {
				return nil
			}
		case werr := <-watcher.Errors:
			return errors.Wrap(werr, "file system monitoring error")
		case <-deadlineCtx.Done():
			return errors.Errorf("%q didn't show up within %s", path, timeout)
		}
	}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (w *EmulatorManager) send(command string) error {
	conn := w.sess.SerialWriter()
	if conn == nil {
		return errors.New("serial connection not established")
	}
	_, err := conn.Write([]byte(command + "\n"))
	return err
}

func (w *EmulatorManager) runOneshot(ctx context.Context, command string) error {
	return w.send(command)
}

func (w *EmulatorManager) detectPackageManager(ctx context.Context) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return termio.RunAndNotExpect(probeCtx, w.sess.SerialBuffer(), func() error {
		return w.send("pm path android")
	}, []byte("Can't find service: package"))
}

func (w *EmulatorManager) debloat(ctx context.Context) error {
	if err := w.send("("); err != nil {
		return err
	}
	for _, pkg := range w.sess.Config.DisablePackages {
		if err := w.send(fmt.Sprintf("pm disable --user 0 %s", pkg)); err != nil {
			return err
		}
	}
	if err := w.send(")"); err != nil {
		return err
	}
	termio.WaitForPrompt(ctx, w.sess.SerialBuffer(), termio.DefaultPromptSentinel)
	return nil
}

// probeGuestProcesses nudges the monitor connection with "top", per
// SPEC_FULL.md's supplemented feature from qemu_manager.py. Best-effort:
// failures here don't fail QEMU_UP.
func (w *EmulatorManager) probeGuestProcesses(ctx context.Context) {
	conn := w.sess.MonitorWriter()
	if conn == nil {
		return
	}
	progress.Success(w.log, "VM processes (top)")
	if _, err := conn.Write([]byte("top\n")); err != nil {
		return
	}
	_ = sleepCtx(ctx, monitorProbeDuration)
	_, _ = conn.Write([]byte("q"))
}

func (w *EmulatorManager) ensureStopped(ctx context.Context) error {
	proc := w.sess.QemuProc()
	if proc == nil || proc.Process == nil || (proc.ProcessState != nil && proc.ProcessState.Exited()) {
		return nil
	}

	w.sess.SetStopDebug(true)
	if err := sleepCtx(ctx, 1*time.Second); err != nil {
		// Still attempt teardown even if interrupted.
	}

	if conn := w.sess.SerialWriter(); conn != nil {
		conn.Close()
	}
	if conn := w.sess.MonitorWriter(); conn != nil {
		conn.Close()
	}

	if err := proc.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		if !isNoSuchProcess(err) {
			progress.Warn(w.log, fmt.Sprintf("failed to send SIGTERM to QEMU: %s", err))
		}
	}

	done := make(chan struct{})
	go func() {
		proc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		if err := proc.Process.Kill(); err != nil && !isNoSuchProcess(err) {
			progress.Warn(w.log, fmt.Sprintf("failed to kill QEMU: %s", err))
		}
		<-done
	}

	w.readersWG.WaitAndDrain()
	return nil
}

func isNoSuchProcess(err error) bool {
	if err == nil {
		return false
	}
	return bytes.Contains([]byte(err.Error()), []byte("process already finished")) ||
		errors.Is(err, os.ErrProcessDone) ||
		errors.Is(err, syscall.ESRCH)
}

package workers

import (
	"context"
	"encoding/base64"
	"os"
	"time"

	"github.com/Sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/progress"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
	"github.com/EtchDroid/qemu-android-harness/internal/termio"
)

const (
	virtwifiChunkSize  = 1024
	virtwifiChunkPause = 100 * time.Millisecond
	guestAPKPath       = "/data/local/tmp/app.apk"
)

// VirtwifiInstaller pushes the VirtWifi connector APK into the guest and
// installs it, so the test run has a simulated Wi-Fi connection. Grounded
// on original_source/workers/virtwifi_manager.py.
type VirtwifiInstaller struct {
	log  *logrus.Entry
	sess *session.Session
}

func NewVirtwifiInstaller(log *logrus.Entry, sess *session.Session) *VirtwifiInstaller {
	return &VirtwifiInstaller{log: log.WithField("worker", "VirtWifi enabler"), sess: sess}
}

func (w *VirtwifiInstaller) Name() string { return "VirtWifi enabler" }

func (w *VirtwifiInstaller) Enter(ctx context.Context, state fsm.State) (fsm.Result, error) {
	if state != fsm.NetworkUp {
		return fsm.NOOP, nil
	}
	if !w.sess.Config.VirtwifiHack {
		return fsm.NOOP, nil
	}
	if err := w.ensureVirtwifi(ctx); err != nil {
		return fsm.Fail, err
	}
	return fsm.Done, nil
}

func (w *VirtwifiInstaller) Exit(ctx context.Context, state fsm.State) (fsm.Result, error) {
	return fsm.NOOP, nil
}

func (w *VirtwifiInstaller) send(data string) error {
	conn := w.sess.SerialWriter()
	if conn == nil {
		return errors.New("serial connection not established")
	}
	_, err := conn.Write([]byte(data))
	return err
}

func (w *VirtwifiInstaller) waitPrompt(ctx context.Context) {
	termio.WaitForPrompt(ctx, w.sess.SerialBuffer(), termio.DefaultPromptSentinel)
}

func (w *VirtwifiInstaller) ensureVirtwifi(ctx context.Context) error {
	apkPath := w.sess.Config.VirtwifiConnectorAPK
	apkData, err := os.ReadFile(apkPath)
	if err != nil {
		return errors.Wrapf(err, "VirtWifiConnector APK path %q does not exist or is not readable", apkPath)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(apkData)))
	base64.StdEncoding.Encode(encoded, apkData)

	if err := w.send("svc wifi enable\n"); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	w.waitPrompt(ctx)

	if err := w.send("base64 -d > " + guestAPKPath + " << EOF\n"); err != nil {
		return err
	}
	err = termio.StreamChunked(ctx, func(chunk []byte) error {
		return w.send(string(chunk) + "\n")
	}, encoded, virtwifiChunkSize, virtwifiChunkPause)
	if err != nil {
		return errors.Wrap(err, "failed to stream APK into guest")
	}
	if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	if err := w.send("EOF\n"); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 1*time.Second); err != nil {
		return err
	}
	w.waitPrompt(ctx)

	if err := w.send("pm install " + guestAPKPath + "\n"); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	w.waitPrompt(ctx)

	if err := w.send("rm " + guestAPKPath + "\n"); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	w.waitPrompt(ctx)

	if err := w.send("am start -a android.intent.action.MAIN -n eu.depau.virtwificonnector/.MainActivity\n"); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 3*time.Second); err != nil {
		return err
	}
	w.waitPrompt(ctx)

	if err := w.send("input keyevent KEYCODE_ESCAPE\n"); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	w.waitPrompt(ctx)

	progress.Success(w.log, "VirtWifi connector installed and launched")
	return sleepCtx(ctx, 5*time.Second)
}

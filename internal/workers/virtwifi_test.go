package workers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

func testLogEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return logrus.NewEntry(log)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestVirtwifiNoopWhenDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.VirtwifiHack = false
	sess := session.New(cfg)
	w := NewVirtwifiInstaller(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.NetworkUp)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

func TestVirtwifiNoopForUnrelatedState(t *testing.T) {
	sess := session.New(config.Defaults())
	w := NewVirtwifiInstaller(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.QemuUp)
	require.NoError(t, err)
	assert.Equal(t, fsm.NOOP, res)
}

func TestVirtwifiFailsOnMissingAPK(t *testing.T) {
	cfg := config.Defaults()
	cfg.VirtwifiHack = true
	cfg.VirtwifiConnectorAPK = filepath.Join(t.TempDir(), "does-not-exist.apk")
	sess := session.New(cfg)
	w := NewVirtwifiInstaller(testLogEntry(), sess)

	res, err := w.Enter(context.Background(), fsm.NetworkUp)
	require.Error(t, err)
	assert.Equal(t, fsm.Fail, res)
	assert.Contains(t, err.Error(), "does not exist or is not readable")
}

package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
)

// mockWorker records every Enter/Exit call it receives, and can be
// configured to fail, hang, or do nothing for specific states.
type mockWorker struct {
	name string

	mu         sync.Mutex
	entered    []fsm.State
	exited     []fsm.State
	stopCalls  int
	failOn     map[fsm.State]bool
	hangOn     map[fsm.State]bool
	resultOn   map[fsm.State]fsm.Result
}

func newMockWorker(name string) *mockWorker {
	return &mockWorker{
		name:     name,
		failOn:   map[fsm.State]bool{},
		hangOn:   map[fsm.State]bool{},
		resultOn: map[fsm.State]fsm.Result{},
	}
}

func (m *mockWorker) Name() string { return m.name }

func (m *mockWorker) Enter(ctx context.Context, state fsm.State) (fsm.Result, error) {
	m.mu.Lock()
	m.entered = append(m.entered, state)
	if state == fsm.Stop {
		m.stopCalls++
	}
	fail := m.failOn[state]
	hang := m.hangOn[state]
	res, configured := m.resultOn[state]
	m.mu.Unlock()

	if hang {
		<-ctx.Done()
		return fsm.Fail, ctx.Err()
	}
	if fail {
		return fsm.Fail, nil
	}
	if configured {
		return res, nil
	}
	return fsm.NOOP, nil
}

func (m *mockWorker) Exit(ctx context.Context, state fsm.State) (fsm.Result, error) {
	m.mu.Lock()
	m.exited = append(m.exited, state)
	m.mu.Unlock()
	return fsm.NOOP, nil
}

func newTestDriver(workers ...fsm.Worker) (*Driver, *session.Session) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	sess := session.New(config.Defaults())
	return New(log, sess, workers), sess
}

func TestHappyPathVisitsForwardSequenceInOrder(t *testing.T) {
	w := newMockWorker("w1")
	d, sess := newTestDriver(w)
	sess.SetJobExitCode(0)

	code := d.Run(context.Background())

	assert.Equal(t, 0, code)
	assert.Equal(t, []fsm.State{fsm.Init, fsm.QemuUp, fsm.NetworkUp, fsm.Job, fsm.Stop}, w.entered)
	assert.Equal(t, []fsm.State{fsm.Init, fsm.QemuUp, fsm.NetworkUp, fsm.Job}, w.exited)
}

func TestStopRunsExactlyOnceEvenOnFailure(t *testing.T) {
	good := newMockWorker("good")
	bad := newMockWorker("bad")
	bad.failOn[fsm.NetworkUp] = true

	d, _ := newTestDriver(good, bad)
	code := d.Run(context.Background())

	assert.Equal(t, FailureExitCode, code)
	assert.Equal(t, 1, good.stopCalls)
	assert.Equal(t, 1, bad.stopCalls)
}

func TestFailureBreaksForwardWalkAndJumpsToStop(t *testing.T) {
	bad := newMockWorker("bad")
	bad.failOn[fsm.QemuUp] = true
	other := newMockWorker("other")

	d, _ := newTestDriver(bad, other)
	code := d.Run(context.Background())

	assert.Equal(t, FailureExitCode, code)
	// Neither worker should have been asked to enter NETWORK_UP or JOB.
	assert.NotContains(t, other.entered, fsm.NetworkUp)
	assert.NotContains(t, other.entered, fsm.Job)
	assert.Equal(t, 1, other.stopCalls)
}

func TestNoopStateHasNoRecordedSideEffectBeyondCall(t *testing.T) {
	w := newMockWorker("w")
	d, sess := newTestDriver(w)
	sess.SetJobExitCode(0)

	d.Run(context.Background())

	// NOOP is the default mock behavior; the driver must not treat it as
	// a failure or skip subsequent states.
	assert.Contains(t, w.entered, fsm.Init)
	assert.Contains(t, w.entered, fsm.QemuUp)
}

func TestStopSurvivesWorkerHang(t *testing.T) {
	hung := newMockWorker("hung")
	hung.hangOn[fsm.Stop] = true

	d, _ := newTestDriver(hung)
	start := time.Now()
	code := d.Run(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, FailureExitCode, code)
	assert.Less(t, elapsed, 15*time.Second, "STOP must be bounded by its own 10s ceiling")
}

func TestForcedTeardownViaCanceledContext(t *testing.T) {
	w := newMockWorker("w")
	d, _ := newTestDriver(w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := d.Run(ctx)
	assert.Equal(t, FailureExitCode, code)
	assert.Equal(t, 1, w.stopCalls)
}

func TestMissingJobExitCodeIsFailure(t *testing.T) {
	w := newMockWorker("w")
	d, _ := newTestDriver(w)

	code := d.Run(context.Background())
	assert.Equal(t, FailureExitCode, code)
}

func TestNonZeroJobExitCodePropagates(t *testing.T) {
	w := newMockWorker("w")
	d, sess := newTestDriver(w)
	sess.SetJobExitCode(7)

	code := d.Run(context.Background())
	assert.Equal(t, 7, code)
}

func TestDeadlineForJobIsUnbounded(t *testing.T) {
	_, _, ok := deadlineFor(fsm.Job)
	require.False(t, ok)
}

func TestDeadlineForQemuUpScales(t *testing.T) {
	d, scaled, ok := deadlineFor(fsm.QemuUp)
	require.True(t, ok)
	require.True(t, scaled)
	assert.Equal(t, qemuUpDeadline, d)
}

// Package orchestrator implements the Driver: the barrier-synchronized
// state machine that marches every worker through the global lifecycle
// (§4.2), enforcing per-state deadlines, forced teardown, and the
// guarantee that every worker's STOP hook always runs.
//
// Grounded on engines/qemu/vm/vm.go's VirtualMachine.Start(), which fans
// out goroutines for the serial/monitor readers and the QEMU wait, then
// selects on their completion — generalized here from one VM's internal
// fan-out into the full multi-worker barrier the spec describes. The
// state-walk/driver loop itself isn't present in the retrieval pack (the
// teacher engine is driven by taskcluster-worker's own task-plugin
// pipeline, not retrieved); it is reconstructed from the
// enter/exit/TransitionResult contract every original_source/workers/*.py
// file implements.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sirupsen/logrus"

	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/progress"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
	"golang.org/x/sync/errgroup"
)

// Per-state deadlines, §4.2.
const (
	qemuUpDeadline    = 25 * time.Minute
	networkUpDeadline = 90 * time.Second
	initDeadline      = 30 * time.Second
	stopDeadline      = 10 * time.Second
)

// FailureExitCode is returned when the forward walk is broken by a worker
// failure, per §4.2 step 7 ("a non-zero failure code").
const FailureExitCode = 1

// Driver walks every registered worker through the global state sequence.
type Driver struct {
	Log     *logrus.Logger
	Session *session.Session
	Workers []fsm.Worker
}

// New constructs a Driver over the given session and workers, in
// registration order (§4.2's "Workers are launched in registration
// order").
func New(log *logrus.Logger, sess *session.Session, workers []fsm.Worker) *Driver {
	return &Driver{Log: log, Session: sess, Workers: workers}
}

// Run walks INIT -> QEMU_UP -> NETWORK_UP -> JOB, then STOP regardless of
// outcome, and returns the process exit code per §4.2 step 7.
func (d *Driver) Run(ctx context.Context) int {
	var failure error

forward:
	for _, state := range fsm.Sequence {
		select {
		case <-ctx.Done():
			failure = fmt.Errorf("context canceled before entering %s: %w", state, ctx.Err())
			break forward
		default:
		}

		if err := d.transition(ctx, state, d.enterFn(state)); err != nil {
			failure = err
			break forward
		}
		if err := d.transition(ctx, state, d.exitFn(state)); err != nil {
			failure = err
			break forward
		}
	}

	if failure != nil {
		progress.Fail(d.entry(), failure.Error())
	}

	d.runStop()

	if failure != nil {
		return FailureExitCode
	}

	code, ok := d.Session.JobExitCode()
	if !ok {
		progress.Fail(d.entry(), "job never reported an exit code")
		return FailureExitCode
	}
	return code
}

func (d *Driver) entry() *logrus.Entry {
	return d.Log.WithField("component", "driver")
}

type hookFn func(w fsm.Worker, ctx context.Context) (fsm.Result, error)

func (d *Driver) enterFn(state fsm.State) hookFn {
	return func(w fsm.Worker, ctx context.Context) (fsm.Result, error) {
		return w.Enter(ctx, state)
	}
}

func (d *Driver) exitFn(state fsm.State) hookFn {
	return func(w fsm.Worker, ctx context.Context) (fsm.Result, error) {
		return w.Exit(ctx, state)
	}
}

// deadlineFor returns the unscaled duration for state and whether it
// should be scaled by the session's timeout multiplier. ok is false when
// the state has no driver-imposed deadline (JOB, per §4.2).
func deadlineFor(state fsm.State) (d time.Duration, scaled bool, ok bool) {
	switch state {
	case fsm.Init:
		return initDeadline, false, true
	case fsm.QemuUp:
		return qemuUpDeadline, true, true
	case fsm.NetworkUp:
		return networkUpDeadline, true, true
	case fsm.Job:
		return 0, false, false
	default:
		return 0, false, false
	}
}

// transition invokes fn on every worker concurrently and waits for all to
// settle, enforcing state's per-state deadline (§4.2 step 5).
func (d *Driver) transition(ctx context.Context, state fsm.State, fn hookFn) error {
	hctx := ctx
	cancel := func() {}
	if base, scaled, hasDeadline := deadlineFor(state); hasDeadline {
		timeout := base
		if scaled {
			timeout = d.Session.Scaled(base)
		}
		hctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	g, gctx := errgroup.WithContext(hctx)
	for _, w := range d.Workers {
		w := w
		g.Go(func() error {
			res, err := fn(w, gctx)
			if err != nil {
				return fmt.Errorf("worker %q failed on %s: %w", w.Name(), state, err)
			}
			if res == fsm.Fail {
				return fmt.Errorf("worker %q reported FAIL on %s", w.Name(), state)
			}
			if res == fsm.Done {
				d.Log.WithFields(logrus.Fields{"worker": w.Name(), "state": state.String()}).Debug("DONE")
			}
			return nil
		})
	}

	return g.Wait()
}

// runStop invokes Enter(STOP) on every worker concurrently, each bounded
// by its own 10s ceiling, swallowing individual failures so every worker
// gets a chance to clean up (§4.2 step 6). It does not honor the outer
// context: teardown must run even if that context is already canceled.
func (d *Driver) runStop() {
	var wg sync.WaitGroup
	for _, w := range d.Workers {
		wg.Add(1)
		go func(w fsm.Worker) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), stopDeadline)
			defer cancel()

			res, err := w.Enter(ctx, fsm.Stop)
			log := d.Log.WithField("worker", w.Name())
			if err != nil {
				progress.Warn(log, fmt.Sprintf("STOP hook failed: %s", err))
				return
			}
			log.WithField("result", res.String()).Debug("STOP complete")
		}(w)
	}
	wg.Wait()
}

// Command qemu-android-harness boots an Android guest inside QEMU, runs a
// user-supplied test command against it, and tears everything down
// cleanly. See §6 of the specification this implements for the full CLI
// and configuration contract.
//
// Grounded on commands/daemon/service.go's docopt args-map shape, adapted
// from a multi-subcommand OS-service wrapper into the single-invocation
// CLI §6 mandates.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sirupsen/logrus"
	docopt "github.com/docopt/docopt-go"

	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/fsm"
	"github.com/EtchDroid/qemu-android-harness/internal/orchestrator"
	"github.com/EtchDroid/qemu-android-harness/internal/session"
	"github.com/EtchDroid/qemu-android-harness/internal/workers"
)

const usage = `qemu-android-harness

Boots an Android guest in QEMU, runs a test command against it, and tears
the guest down while preserving diagnostic artifacts.

Usage:
  qemu-android-harness [--verbose]
  qemu-android-harness -h | --help

Options:
  -h --help     Show this help message.
  --verbose     Enable debug-level logging.
`

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		return 2
	}

	log := logrus.New()
	if verbose, _ := opts.Bool("--verbose"); verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return orchestrator.FailureExitCode
	}

	sess := session.New(cfg)
	rootEntry := log.WithField("component", "harness")

	workerList := []fsm.Worker{
		workers.NewEmulatorManager(rootEntry, sess),
		workers.NewVirtwifiInstaller(rootEntry, sess),
		workers.NewPermissionApprover(rootEntry, sess),
		workers.NewScreenRecorder(rootEntry, sess),
		workers.NewJobRunner(rootEntry, sess),
		workers.NewLogCapturer(rootEntry, sess),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		log.Warn("termination signal received, forcing teardown")
		cancel()
	}()

	driver := orchestrator.New(log, sess, workerList)
	return driver.Run(ctx)
}

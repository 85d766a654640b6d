package workers

import "syscall"

// termSignal is the signal used to ask a managed subprocess to shut down
// gracefully, factored out so every worker that terminates a child process
// uses the same one.
func termSignal() syscall.Signal {
	return syscall.SIGTERM
}

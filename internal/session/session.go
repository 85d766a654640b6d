// Package session holds the Shared Session State: the single in-process
// object every worker reads and (for its documented fields) mutates.
//
// Grounded on engines/qemu/vm/vm.go's VirtualMachine struct — a
// mutex-guarded bag of subprocess handles and socket state — generalized
// from one VM-owned resource bag into the full multi-writer table §3
// documents.
package session

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskcluster/slugid-go/slugid"

	"github.com/EtchDroid/qemu-android-harness/internal/config"
	"github.com/EtchDroid/qemu-android-harness/internal/termio"
)

// Session is the shared mutable record passed by reference to every
// worker. Each field below lists its single documented writer in §3; the
// mutex only protects concurrent reads racing the one writer goroutine, it
// does not grant other workers permission to write.
type Session struct {
	// Config is set once by the driver before the state walk begins.
	Config config.Config

	mu sync.Mutex

	// timeoutMultiplier: written by the Emulator Manager, exactly once,
	// before NETWORK_UP (§3 invariant).
	timeoutMultiplier int

	// qemuProc: written by the Emulator Manager.
	qemuProc *exec.Cmd

	// serialConn/monitorConn: written (dialed) by the Emulator Manager;
	// serialConn is also written to (commands sent) by whichever worker
	// is active in the current state, serialized by the state machine.
	serialConn  net.Conn
	monitorConn net.Conn

	// serialBuffer/monitorBuffer: appended to only by the Emulator
	// Manager's background reader tasks; every other reader is a
	// prompt-waiting helper.
	serialBuffer  *termio.Buffer
	monitorBuffer *termio.Buffer

	// stopDebug: written by the Emulator Manager to signal the
	// background reader tasks to exit.
	stopDebug bool

	// adbProc: written by the Permission Approver.
	adbProc *exec.Cmd

	// vncRecorderProc: written by the Screen Recorder.
	vncRecorderProc *exec.Cmd

	// jobProc/jobExitCode: written by the Test Job Runner.
	jobProc     *exec.Cmd
	jobExitCode int
	jobExitSet  bool

	// runID: assigned once in New, never rewritten. Names this run's
	// scratch directory so artifacts from concurrent runs of the harness
	// on the same host don't collide.
	runID      string
	scratchDir string
}

// New constructs empty shared state seeded with cfg and a timeout
// multiplier of 1, per §4.2 step 2. runID is a slugid.Nice() identifier,
// the same scheme the teacher uses to name its task/run-scoped
// resources.
func New(cfg config.Config) *Session {
	return &Session{
		Config:            cfg,
		timeoutMultiplier: 1,
		serialBuffer:      &termio.Buffer{},
		monitorBuffer:     &termio.Buffer{},
		runID:             slugid.Nice(),
	}
}

// RunID is this session's unique identifier, stable for its lifetime.
func (s *Session) RunID() string {
	return s.runID
}

// ScratchDir lazily creates and returns this run's artifact scratch
// directory under the OS temp dir, named with RunID so the Log Capturer's
// relative output paths don't collide across concurrent runs.
func (s *Session) ScratchDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scratchDir != "" {
		return s.scratchDir, nil
	}
	dir := filepath.Join(os.TempDir(), "qemu-android-harness-"+s.runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	s.scratchDir = dir
	return dir, nil
}

// SetTimeoutMultiplier is called by the Emulator Manager exactly once.
func (s *Session) SetTimeoutMultiplier(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutMultiplier = n
}

// TimeoutMultiplier returns the current scaling factor.
func (s *Session) TimeoutMultiplier() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeoutMultiplier
}

// Scaled multiplies d by the current timeout multiplier.
func (s *Session) Scaled(d time.Duration) time.Duration {
	return d * time.Duration(s.TimeoutMultiplier())
}

func (s *Session) SetQemuProc(p *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qemuProc = p
}

func (s *Session) QemuProc() *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qemuProc
}

func (s *Session) SetSerialConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serialConn = c
}

// SerialWriter returns the current serial connection, used both to read
// and write. §9's Open Question: the original has a qemu_sock_writer/
// qemu_serial_writer naming inconsistency in the VirtWifi worker; this is
// the one documented accessor every worker uses, so there's no room for
// that typo to recur.
func (s *Session) SerialWriter() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialConn
}

func (s *Session) SetMonitorConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitorConn = c
}

func (s *Session) MonitorWriter() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitorConn
}

// SerialBuffer is the append-only accumulator fed by the Emulator
// Manager's serial reader task; prompt waiters read it.
func (s *Session) SerialBuffer() *termio.Buffer {
	return s.serialBuffer
}

// MonitorBuffer is the monitor-socket counterpart of SerialBuffer.
func (s *Session) MonitorBuffer() *termio.Buffer {
	return s.monitorBuffer
}

func (s *Session) SetStopDebug(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopDebug = v
}

func (s *Session) StopDebug() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDebug
}

func (s *Session) SetAdbProc(p *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adbProc = p
}

func (s *Session) AdbProc() *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adbProc
}

func (s *Session) SetVncRecorderProc(p *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vncRecorderProc = p
}

func (s *Session) VncRecorderProc() *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vncRecorderProc
}

func (s *Session) SetJobProc(p *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobProc = p
}

func (s *Session) JobProc() *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobProc
}

func (s *Session) SetJobExitCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobExitCode = code
	s.jobExitSet = true
}

// JobExitCode returns the job's captured exit code and whether the job
// runner ever recorded one.
func (s *Session) JobExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobExitCode, s.jobExitSet
}

// Package termio holds the shared utilities every worker uses to talk to
// the guest over the serial console: an append-only byte accumulator, the
// shell-prompt waiter, the run-and-not-expect poller, ANSI stripping, and
// the chunked base64 streaming helper used to push files into the guest.
//
// Grounded on original_source/workers/qemu_manager.go's
// qemu_log_reader/wait_shell_prompt/run_and_not_expect and
// virtwifi_manager.py's chunked heredoc write.
package termio

import "sync"

// Buffer is a monotonic, append-only byte accumulator. Per §3's invariant,
// it is the sole write target of a background reader task; every other
// caller only reads it. No caller ever trims it.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// Append adds b to the end of the buffer. Only the background reader task
// that owns this buffer should call this.
func (buf *Buffer) Append(b []byte) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.data = append(buf.data, b...)
}

// Bytes returns a snapshot of the buffer's current contents. The returned
// slice is a copy and safe to retain.
func (buf *Buffer) Bytes() []byte {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	out := make([]byte, len(buf.data))
	copy(out, buf.data)
	return out
}

// Len returns the number of bytes currently accumulated.
func (buf *Buffer) Len() int {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.data)
}

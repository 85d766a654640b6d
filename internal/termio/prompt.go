package termio

import (
	"bytes"
	"context"
	"regexp"
	"time"
)

// ansiEscape matches the same class of escape sequences as
// original_source/workers/qemu_manager.py's ansi_escape regexp.
var ansiEscape = regexp.MustCompile(`(?:\x1B[@-Z\\-_]|[\x80-\x9A\x9C-\x9F]|(?:\x1B\[|\x9B)[0-?]*[ -/]*[@-~])`)

// StripANSI removes ANSI escape sequences from b, used by the debug tee
// when echoing serial/monitor traffic (qemu_debug) and by the prompt
// waiter when matching the sentinel.
func StripANSI(b []byte) []byte {
	return ansiEscape.ReplaceAll(b, nil)
}

// DefaultPromptSentinel is the default root-shell prompt sentinel: a
// trailing "#" after a newline, per §4.3.
var DefaultPromptSentinel = []byte("#")

// pollInterval is how often WaitForPrompt and RunAndNotExpect re-check the
// buffer.
const pollInterval = 200 * time.Millisecond

// WaitForPrompt blocks until buf's tail (after ANSI stripping) ends with
// sentinel and at least one newline has arrived since the call started, or
// ctx is done. It returns whether the prompt was found.
//
// This is the heuristic §9's Design Notes flags as fragile; the
// tagged-probe alternative ("echo __MARK_$N__") is noted there as a future
// improvement, not implemented here — see DESIGN.md.
func WaitForPrompt(ctx context.Context, buf *Buffer, sentinel []byte) bool {
	startLen := buf.Len()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		data := buf.Bytes()
		if len(data) > startLen && bytes.Contains(data[startLen:], []byte("\n")) {
			stripped := StripANSI(data)
			trimmed := bytes.TrimRight(stripped, "\r\n \t")
			if bytes.HasSuffix(trimmed, sentinel) {
				return true
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// RunAndNotExpect periodically calls send, then scans the buffer growth
// since that send for needle. It returns true the first time the new
// output does NOT contain needle, or false if ctx is done first.
func RunAndNotExpect(ctx context.Context, buf *Buffer, send func() error, needle []byte) (bool, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		startLen := buf.Len()
		if err := send(); err != nil {
			return false, err
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}

		data := buf.Bytes()
		var window []byte
		if len(data) > startLen {
			window = data[startLen:]
		}
		if !bytes.Contains(window, needle) {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, nil
		default:
		}
	}
}

// StreamChunked writes data to send in chunks of exactly chunkSize bytes,
// except possibly the last, pausing pause after each chunk. Grounded on
// virtwifi_manager.py's 1 KiB / 100 ms chunked heredoc write, needed
// because the guest serial console is small and line-buffered.
func StreamChunked(ctx context.Context, send func([]byte) error, data []byte, chunkSize int, pause time.Duration) error {
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := send(data[i:end]); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return nil
}

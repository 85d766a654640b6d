package fsm

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Init:       "INIT",
		QemuUp:     "QEMU_UP",
		NetworkUp:  "NETWORK_UP",
		Job:        "JOB",
		Stop:       "STOP",
		State(99):  "UNKNOWN",
		State(-1):  "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestSequenceIsForwardAndExcludesStop(t *testing.T) {
	want := []State{Init, QemuUp, NetworkUp, Job}
	if len(Sequence) != len(want) {
		t.Fatalf("Sequence length = %d, want %d", len(Sequence), len(want))
	}
	for i, s := range want {
		if Sequence[i] != s {
			t.Errorf("Sequence[%d] = %v, want %v", i, Sequence[i], s)
		}
	}
	for _, s := range Sequence {
		if s == Stop {
			t.Fatalf("Sequence must not contain Stop, it's reachable from any state")
		}
	}
}

func TestResultString(t *testing.T) {
	cases := map[Result]string{
		NOOP:      "NOOP",
		Done:      "DONE",
		Fail:      "FAIL",
		Result(7): "UNKNOWN",
	}
	for r, want := range cases {
		if got := r.String(); got != want {
			t.Errorf("Result(%d).String() = %q, want %q", r, got, want)
		}
	}
}

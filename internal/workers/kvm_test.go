package workers

import "testing"

func TestKvmAvailableNeverPanics(t *testing.T) {
	// /dev/kvm is absent in most CI/sandbox environments; this just
	// checks the probe degrades gracefully rather than asserting a
	// specific answer.
	_, decider := kvmAvailable()
	if decider == "" {
		t.Fatal("kvmAvailable must always report a decider")
	}
}

func TestBuildQemuArgsInjectsEnableKvm(t *testing.T) {
	args := buildQemuArgs([]string{"-m", "512"}, true)
	found := false
	for _, a := range args {
		if a == "-enable-kvm" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected -enable-kvm to be injected, got %v", args)
	}
}

func TestBuildQemuArgsRemovesEnableKvmWhenUnavailable(t *testing.T) {
	args := buildQemuArgs([]string{"-enable-kvm", "-m", "512"}, false)
	for _, a := range args {
		if a == "-enable-kvm" {
			t.Fatalf("expected -enable-kvm to be removed, got %v", args)
		}
	}
}

func TestBuildQemuArgsIdempotentWhenAlreadyCorrect(t *testing.T) {
	args := buildQemuArgs([]string{"-enable-kvm", "-m", "512"}, true)
	count := 0
	for _, a := range args {
		if a == "-enable-kvm" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one -enable-kvm, got %d", count)
	}
}

package workers

import "os"

// kvmDecider names why kvmAvailable returned what it did, mirroring the
// original's request to log "decider" alongside the yes/no answer
// (SPEC_FULL.md's KVM/acceleration decision logging supplement).
type kvmDecider string

const (
	deciderDevKVMAccessible   kvmDecider = "/dev/kvm accessible"
	deciderDevKVMInaccessible kvmDecider = "/dev/kvm missing or not writable"
)

// kvmAvailable reports whether host-kernel virtualization acceleration
// looks usable, approximated (as in most userspace QEMU wrappers) by
// whether /dev/kvm can be opened for read-write.
func kvmAvailable() (bool, kvmDecider) {
	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		return false, deciderDevKVMInaccessible
	}
	f.Close()
	return true, deciderDevKVMAccessible
}

// Package qemuimage runs a boot-time sanity check on the raw disk images
// an Emulator Manager run is about to hand to QEMU.
//
// Grounded on engines/qemu/image/inspect.go's idea of shelling out to
// qemu-img for machine-readable image metadata, but scoped down to what a
// raw-image boot preflight actually needs: this harness never builds or
// snapshots qcow2 images (that's commands/qemu-build/buildimage.go's job,
// out of scope per DESIGN.md), so there's no qcow2 format parameter and no
// snapshot list here, only the size/dirty-flag fields
// internal/workers/emulator.go logs before starting QEMU.
package qemuimage

import (
	"encoding/json"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// DiskImageReport is the subset of `qemu-img info --output json` this
// harness cares about for a raw disk image.
type DiskImageReport struct {
	VirtualSizeBytes int64 `json:"virtual-size"`
	ActualSizeBytes  int64 `json:"actual-size"`
	Dirty            bool  `json:"dirty-flag"`
}

// InspectRawImage shells out to `qemu-img info -f raw` for path and
// decodes its JSON report. An error means either qemu-img isn't
// installed or the image is missing/unreadable; callers in this harness
// treat both as non-fatal (§4.3's images are plain raw files and booting
// doesn't depend on this check succeeding).
func InspectRawImage(path string) (*DiskImageReport, error) {
	cmd := exec.Command("qemu-img", "info", "-f", "raw", "--output", "json", "--", filepath.Base(path))
	cmd.Dir = filepath.Dir(path)

	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "qemu-img info failed for %q", path)
	}

	var report DiskImageReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, errors.Wrapf(err, "could not decode qemu-img output for %q", path)
	}
	return &report, nil
}

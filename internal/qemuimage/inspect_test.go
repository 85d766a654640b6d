package qemuimage

import "testing"

func TestInspectRawImageMissingFileFails(t *testing.T) {
	if _, err := InspectRawImage("/nonexistent/path/system.sfs"); err == nil {
		t.Fatal("expected an error for a missing image")
	}
}

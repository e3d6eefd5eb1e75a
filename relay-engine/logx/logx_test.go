package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRejectsBadConfig(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNewStderr(t *testing.T) {
	lg, closeFn, err := New(Config{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closeFn()

	if !lg.Core().Enabled(-1) {
		t.Error("Expected debug to be enabled")
	}
}

func TestNewSplitsFiles(t *testing.T) {
	dir := t.TempDir()

	lg, closeFn, err := New(Config{Level: "info", Format: "json", Path: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	lg.Debug("hidden debug")
	lg.Info("peer connected")
	lg.Error("dial failed")
	closeFn()

	info, err := os.ReadFile(filepath.Join(dir, "info.log"))
	if err != nil {
		t.Fatalf("Failed to read info.log: %v", err)
	}
	errs, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("Failed to read error.log: %v", err)
	}

	if !strings.Contains(string(info), "peer connected") {
		t.Errorf("Expected info entry in info.log, got %q", info)
	}
	if strings.Contains(string(info), "dial failed") {
		t.Error("Expected errors to stay out of info.log")
	}
	if strings.Contains(string(info), "hidden debug") {
		t.Error("Expected debug to be filtered")
	}
	if !strings.Contains(string(errs), "dial failed") {
		t.Errorf("Expected error entry in error.log, got %q", errs)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := Setup("vaultd", "test", Options{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer closeFn()
	defer log.SetOutput(os.Stderr)

	logger.Debug("vault opened", slog.Uint64("vaultId", 7))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["message"] != "vault opened" {
		t.Fatalf("unexpected message %v", line["message"])
	}
	if line["severity"] != "DEBUG" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
	if line["service"] != "vaultd" || line["env"] != "test" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", line)
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := Setup("vaultd", "", Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer closeFn()
	defer log.SetOutput(os.Stderr)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), `"severity":"WARN"`) {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "vaultd.log")
	logger, closeFn, err := Setup("vaultd", "", Options{File: path, MaxSizeMB: 1, Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer log.SetOutput(os.Stderr)

	logger.Info("to file")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Fatalf("log file missing line: %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	level, err := ParseLevel("WARNING")
	if err != nil || level != slog.LevelWarn {
		t.Fatalf("unexpected level %v (%v)", level, err)
	}
}

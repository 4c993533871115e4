package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitFileLogging(t *testing.T) {
	tmpDir := t.TempDir()

	if err := Init(Options{DebugDir: tmpDir}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Info("switch broken", "device", "Branch-Switch1")
	Close()

	today := time.Now().Format("2006-01-02")
	content, err := os.ReadFile(filepath.Join(tmpDir, today+".jsonl"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), "switch broken") {
		t.Errorf("expected log file to contain message, got: %s", content)
	}
}

func TestInitStderrLevels(t *testing.T) {
	var stderr bytes.Buffer

	if err := Init(Options{Stderr: &stderr}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Debug("debug message")
	Info("info message")

	out := stderr.String()
	if strings.Contains(out, "debug message") {
		t.Error("debug should not appear on stderr without --verbose")
	}
	if !strings.Contains(out, "info message") {
		t.Error("info should appear on stderr")
	}
}

func TestInitVerbose(t *testing.T) {
	var stderr bytes.Buffer

	if err := Init(Options{Verbose: true, Stderr: &stderr}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Debug("debug message")
	if !strings.Contains(stderr.String(), "debug message") {
		t.Error("debug should appear on stderr with --verbose")
	}
}

func TestInitJSONFormat(t *testing.T) {
	var stderr bytes.Buffer

	if err := Init(Options{JSONFormat: true, Stderr: &stderr}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Info("restore complete", "lab", "lab1")
	out := stderr.String()
	if !strings.Contains(out, `"msg":"restore complete"`) {
		t.Errorf("expected JSON output, got: %s", out)
	}
	if !strings.Contains(out, `"lab":"lab1"`) {
		t.Errorf("expected lab attr in JSON output, got: %s", out)
	}
}

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"debug", "DEBUG"},
		{"DEBUG", "DEBUG"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"info", "INFO"},
		{"", "INFO"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		t.Setenv("UPROOT_LOG_LEVEL", tt.value)
		if got := LevelFromEnv().String(); got != tt.want {
			t.Errorf("LevelFromEnv(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestCleanup(t *testing.T) {
	tmpDir := t.TempDir()

	old := time.Now().AddDate(0, 0, -20).Format("2006-01-02") + ".jsonl"
	recent := time.Now().Format("2006-01-02") + ".jsonl"
	other := "notes.txt"
	for _, name := range []string{old, recent, other} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	Cleanup(tmpDir, 14)

	if _, err := os.Stat(filepath.Join(tmpDir, old)); !os.IsNotExist(err) {
		t.Error("old log file should have been removed")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, recent)); err != nil {
		t.Error("recent log file should remain")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, other)); err != nil {
		t.Error("non-log file should remain")
	}
}

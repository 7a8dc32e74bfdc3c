package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"warning level", "warning", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"invalid level", "invalid", slog.LevelInfo}, // defaults to info
		{"empty string", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := ParseLevel(tt.input); result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != slog.LevelInfo {
		t.Errorf("Default level = %v, want %v", cfg.Level, slog.LevelInfo)
	}
	if cfg.Format != "json" {
		t.Errorf("Default Format = %q, want json", cfg.Format)
	}
	if cfg.MaxSize != 100 || cfg.MaxBackups != 5 {
		t.Errorf("Unexpected rotation defaults: %d MB, %d backups", cfg.MaxSize, cfg.MaxBackups)
	}
	if !cfg.Console {
		t.Errorf("Default Console = %v, want true", cfg.Console)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := NewLogger(Config{Level: slog.LevelInfo, Console: true, ConsoleWriter: &buf})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("Batch delivered", "batch_id", "b-1", "records", 20)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line above the level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Line is not JSON: %v", err)
	}
	if entry["msg"] != "Batch delivered" || entry["batch_id"] != "b-1" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := NewLogger(Config{Level: slog.LevelInfo, Format: "TEXT", Console: true, ConsoleWriter: &buf})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Info("Run state changed", "state", "listing")

	if !strings.Contains(buf.String(), "state=listing") {
		t.Errorf("Expected text output, got %q", buf.String())
	}
}

func TestNewLoggerFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "oppcrawl.log")
	var console bytes.Buffer

	logger, closer, err := NewLogger(Config{
		Level:         slog.LevelDebug,
		FilePath:      logFile,
		MaxSize:       10,
		MaxBackups:    3,
		Console:       true,
		ConsoleWriter: &console,
	})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Debug("test message")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Log file was not created: %v", err)
	}
	if !strings.Contains(string(content), "test message") {
		t.Errorf("File is missing the entry: %q", content)
	}
	if !strings.Contains(console.String(), "test message") {
		t.Errorf("Console is missing the entry: %q", console.String())
	}
}

func TestNewLoggerNoOutputsFallsBackToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := NewLogger(Config{Level: slog.LevelInfo, ConsoleWriter: &buf})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("hello")
	if buf.Len() == 0 {
		t.Error("Expected console output when nothing else is configured")
	}
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logFile := filepath.Join(t.TempDir(), "test.log")
	closer, err := SetDefault(Config{Level: slog.LevelDebug, FilePath: logFile, MaxSize: 10, MaxBackups: 3})
	if err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	defer closer.Close()

	slog.Info("test message from default logger")

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Errorf("Log file was not created at %s", logFile)
	}
}

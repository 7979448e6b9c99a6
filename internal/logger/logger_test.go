package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		log, err := New(Config{Level: "info", Format: "json"})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if log.Core().Enabled(zapcore.DebugLevel) {
			t.Error("Debug should be disabled at info level")
		}
	})

	t.Run("console debug", func(t *testing.T) {
		log, err := New(Config{Level: "debug", Format: "console"})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if !log.Core().Enabled(zapcore.DebugLevel) {
			t.Error("Debug should be enabled at debug level")
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
			t.Error("Expected error for invalid level")
		}
	})

	t.Run("custom output", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New(Config{Level: "info", Format: "json", Output: &buf})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		log.Info("to buffer")
		if !strings.Contains(buf.String(), "to buffer") {
			t.Errorf("Expected log line in buffer, got %q", buf.String())
		}
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "test.log")
		log, err := New(Config{
			Level:  "info",
			Format: "json",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		log.Info("written to file")
		_ = log.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Log file not created: %v", err)
		}
		if len(data) == 0 {
			t.Error("Log file is empty")
		}
	})
}

func TestSafeHeaders(t *testing.T) {
	headers := map[string][]string{
		"Authorization": {"Bearer secret"},
		"X-Api-Key":     {"key"},
		"Content-Type":  {"application/json"},
	}

	safe := SafeHeaders(headers)
	if safe["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization not redacted: %s", safe["Authorization"])
	}
	if safe["X-Api-Key"] != "[REDACTED]" {
		t.Errorf("X-Api-Key not redacted: %s", safe["X-Api-Key"])
	}
	if safe["Content-Type"] != "application/json" {
		t.Errorf("Content-Type altered: %s", safe["Content-Type"])
	}
}

func TestWithHelpers(t *testing.T) {
	log := NewNop()
	if log.WithRequestID("abc") == nil || log.WithComponent("api") == nil {
		t.Fatal("Derived loggers must not be nil")
	}
}

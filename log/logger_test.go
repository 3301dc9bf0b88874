package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogger_SessionContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter("sess-7", zapcore.DebugLevel, &buf)

	logger.Info("connected to debug endpoint", map[string]any{"addr": "127.0.0.1:9100"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v\n%s", err, buf.String())
	}

	if entry["session_id"] != "sess-7" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if entry["message"] != "connected to debug endpoint" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["addr"] != "127.0.0.1:9100" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter("sess-7", zapcore.InfoLevel, &buf)

	logger.Debug("suppressed", nil)
	if buf.Len() != 0 {
		t.Errorf("debug entry leaked through info level: %s", buf.String())
	}

	logger.Warn("kept", nil)
	if buf.Len() == 0 {
		t.Error("warn entry missing at info level")
	}
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("sess-7", zapcore.InfoLevel)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
	// Stderr sync failures are platform noise, not test failures.
	_ = logger.Sync()
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Debug("x", nil)
	logger.Info("x", map[string]any{"k": "v"})
	logger.Warn("x", nil)
	logger.Error("x", nil)
	logger.Sugar().Infof("x %d", 1)
}

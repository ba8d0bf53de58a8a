package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "debug", Console: &buf})
	if l.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}

	l = New(Options{Level: "invalid", Console: &buf})
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", l.GetLevel())
	}

	l = New(Options{Console: &buf})
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info default, got %s", l.GetLevel())
	}
}

func TestNewWritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "alphawatch.log")
	l := New(Options{Level: "info", File: path, Console: &buf})
	l.Info().Str("model", "grok-4").Msg("trade changes detected")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"model":"grok-4"`)) {
		t.Errorf("file log missing field: %s", data)
	}
	if !bytes.Contains(buf.Bytes(), []byte("trade changes detected")) {
		t.Errorf("console log missing message: %s", buf.String())
	}
}

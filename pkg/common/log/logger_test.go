package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	tests := []struct {
		log  func(string, ...interface{})
		tag  string
		text string
	}{
		{logger.Debug, "[DEBUG]", "scanning sector 0"},
		{logger.Info, "[INFO]", "mounted sector 1"},
		{logger.Warn, "[WARN]", "skipping corrupt entry"},
		{logger.Error, "[ERROR]", "erase failed"},
	}
	for _, tt := range tests {
		buf.Reset()
		tt.log(tt.text)
		if !strings.Contains(buf.String(), tt.tag) || !strings.Contains(buf.String(), tt.text) {
			t.Errorf("expected %s %q, got: %s", tt.tag, tt.text, buf.String())
		}
	}
}

func TestStandardLoggerFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	logger.WithFields(map[string]interface{}{
		"sector":    2,
		"component": "gc",
	}).WithField("addr", "0x2000").Info("Rotated %d entries", 5)

	out := buf.String()
	if !strings.Contains(out, " addr=0x2000 component=gc sector=2 Rotated 5 entries") {
		t.Errorf("fields not rendered in sorted order, got: %s", out)
	}
}

func TestStandardLoggerFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("messages below the level leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn message missing: %s", buf.String())
	}

	logger.SetLevel(LevelError)
	if logger.GetLevel() != LevelError {
		t.Errorf("expected level ERROR, got %s", logger.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestDiscard(t *testing.T) {
	logger := NewDiscard()
	logger.Error("nothing should happen")
	if logger.GetLevel() <= LevelFatal {
		t.Errorf("discard logger should filter every level, got %s", logger.GetLevel())
	}
}

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelError,
		"prod":    slog.LevelError,
		"dev":     slog.LevelDebug,
		" DEBUG ": slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPionBridge(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	l := NewPionFactory(logger).NewLogger("ice")
	l.Debugf("hidden %d", 1)
	l.Tracef("hidden %d", 2)
	l.Warnf("candidate %s failed", "host")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("below-level messages logged: %q", out)
	}
	if !strings.Contains(out, "candidate host failed") || !strings.Contains(out, "scope=pion/ice") {
		t.Errorf("warn line missing or unscoped: %q", out)
	}
}

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"roamgo/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	// A previous run's log should be rotated away
	if err := os.WriteFile(serverLog, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.LogConfig{
		Server: config.LogSettings{
			Path:  serverLog,
			Level: "DEBUG",
		},
		Requests: config.LogSettings{
			Path:  requestLog,
			Level: "INFO",
		},
	}

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer cleanup()

	if _, err := os.Stat(serverLog); os.IsNotExist(err) {
		t.Error("Server log file not created")
	}
	if _, err := os.Stat(requestLog); os.IsNotExist(err) {
		t.Error("Request log file not created")
	}
	old, err := os.ReadFile(serverLog + ".old")
	if err != nil || !strings.Contains(string(old), "previous run") {
		t.Errorf("expected rotated log, got %q err=%v", old, err)
	}

	slog.Warn("cache write failed", "key", "places_cache")
	if got := LastWarning.LastLine(); !strings.Contains(got, "cache write failed") {
		t.Errorf("LastWarning = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	defer SetTrace(false)

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"trace", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !TraceEnabled() {
		t.Error("TRACE level should enable trace logging")
	}
}

type countingHandler struct {
	level slog.Level
	n     int
}

func (h *countingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

//nolint:gocritic // slog.Handler signature
func (h *countingHandler) Handle(context.Context, slog.Record) error { h.n++; return nil }
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h *countingHandler) WithGroup(string) slog.Handler           { return h }

func TestMultiHandler_RespectsLevels(t *testing.T) {
	debug := &countingHandler{level: slog.LevelDebug}
	warn := &countingHandler{level: slog.LevelWarn}
	logger := slog.New(NewMultiHandler(debug, warn))

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")

	if debug.n != 3 {
		t.Errorf("debug handler got %d records, want 3", debug.n)
	}
	if warn.n != 1 {
		t.Errorf("warn handler got %d records, want 1", warn.n)
	}
}

func TestTrace(t *testing.T) {
	defer SetTrace(false)
	h := &countingHandler{level: slog.LevelDebug}
	logger := slog.New(h)

	Trace(logger, "fix")
	if h.n != 0 {
		t.Fatalf("trace off: got %d records", h.n)
	}
	SetTrace(true)
	Trace(logger, "fix")
	if h.n != 1 {
		t.Fatalf("trace on: got %d records", h.n)
	}
}

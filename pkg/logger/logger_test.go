package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pricescraper/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info", Format: "json"}, false},
		{"debug console", &config.LoggingConfig{Level: "debug", Format: "console"}, false},
		{"auto format", &config.LoggingConfig{Level: "warn", Format: "auto"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"with file", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "scraper.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l == nil {
				t.Error("New() returned nil logger")
			}
			if tt.cfg.File != "" {
				if _, err := os.Stat(tt.cfg.File); err != nil {
					t.Errorf("expected log file to be created: %v", err)
				}
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func bufferLogger(t *testing.T, level string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := NewWithWriter(level, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	return l, &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := bufferLogger(t, "warn")

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("lines below warn should be filtered, got %s", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message not found in output")
	}
}

func TestDefaultFields(t *testing.T) {
	l, buf := bufferLogger(t, "info")
	l.Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if line["app"] != "pricescraper" {
		t.Errorf("expected app field, got %v", line["app"])
	}
	if line["message"] != "hello" {
		t.Errorf("expected message hello, got %v", line["message"])
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	l, buf := bufferLogger(t, "info")

	child := l.WithField("run_id", "abc")
	child.Info("child line")
	l.Info("parent line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"run_id":"abc"`) {
		t.Error("child line is missing run_id")
	}
	if strings.Contains(lines[1], "run_id") {
		t.Error("parent line should not carry the child's fields")
	}
}

func TestStructuredFieldTypes(t *testing.T) {
	l, buf := bufferLogger(t, "debug")

	l.WithFields(map[string]interface{}{
		"source": "Olx",
		"quotes": 12,
	}).InfoWithFields("unit finished", map[string]interface{}{
		"healthy":  true,
		"duration": 1500 * time.Millisecond,
		"cause":    errors.New("boom"),
		"models":   []string{"Palio", "Uno"},
	})

	out := buf.String()
	for _, want := range []string{
		`"source":"Olx"`,
		`"quotes":12`,
		`"healthy":true`,
		`"cause":"boom"`,
		`"models":["Palio","Uno"]`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestWithError(t *testing.T) {
	l, buf := bufferLogger(t, "info")

	if l.WithError(nil) != l {
		t.Error("WithError(nil) should return the same logger")
	}

	l.WithError(errors.New("catalog unreachable")).Error("fetch failed")
	if !strings.Contains(buf.String(), "catalog unreachable") {
		t.Error("error text not found in output")
	}
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogRequest(tl, "GET", "http://catalog/vehicle", 503, 20*time.Millisecond)
	LogComponentStart(tl, "scheduler", map[string]interface{}{"interval": "1h"})
	LogRunSummary(tl, "scrape", "run-1", map[string]interface{}{"persisted": 3})

	if !tl.HasError() {
		t.Error("5xx request should be logged as error")
	}
	msg, ok := tl.FindMessage("Run finished")
	if !ok {
		t.Fatal("run summary not logged")
	}
	if msg.Fields["persisted"] != 3 || msg.Fields["run_kind"] != "scrape" {
		t.Errorf("unexpected summary fields %v", msg.Fields)
	}
	start, _ := tl.FindMessage("Component started")
	if start.Fields["component"] != "scheduler" {
		t.Errorf("expected component field, got %v", start.Fields)
	}
}

func TestTestLoggerSharesCapture(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("unit", "u1").WithError(errors.New("timeout"))
	child.Warn("unit failed")

	msgs := tl.GetMessagesByLevel("WARN")
	if len(msgs) != 1 {
		t.Fatalf("expected the parent to see the child's line, got %d", len(msgs))
	}
	if msgs[0].Fields["unit"] != "u1" || msgs[0].Error == nil {
		t.Errorf("unexpected captured line %+v", msgs[0])
	}

	tl.Clear()
	if len(tl.GetMessages()) != 0 || tl.String() != "" {
		t.Error("Clear should drop everything")
	}
}

func TestGlobalLogger(t *testing.T) {
	defer SetLogger(nil)

	if err := Initialize(&config.LoggingConfig{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	if GetLogger() == nil {
		t.Error("GetLogger() returned nil")
	}

	tl := NewTestLogger()
	SetLogger(tl)
	GetLogger().Info("through global")
	if !tl.HasMessage("through global") {
		t.Error("SetLogger did not replace the global logger")
	}
}

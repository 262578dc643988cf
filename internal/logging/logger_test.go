package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "debug", JSONFormat: true}).WithComponent("risk")

	l.Info("trade rejected", "symbol", "BTCUSDT", "reason", errors.New("cooldown active"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "risk" {
		t.Errorf("component = %v, want risk", entry["component"])
	}
	if entry["symbol"] != "BTCUSDT" {
		t.Errorf("symbol = %v, want BTCUSDT", entry["symbol"])
	}
	if entry["reason"] != "cooldown active" {
		t.Errorf("reason = %v, want error text", entry["reason"])
	}
	if entry["message"] != "trade rejected" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLoggerPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "info", JSONFormat: true})

	l.Warn("cycle took %ds", 42)

	if !strings.Contains(buf.String(), "cycle took 42s") {
		t.Errorf("expected formatted message, got %s", buf.String())
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "warn", JSONFormat: true})

	l.Debug("hidden")
	l.Info("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below WARN, got %s", buf.String())
	}

	l.Error("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected error line, got %s", buf.String())
	}
}

func TestChildLoggerDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter(&buf, &Config{Level: "info", JSONFormat: true})
	child := parent.WithField("symbol", "ETHUSDT")

	parent.Info("parent")
	if strings.Contains(buf.String(), "ETHUSDT") {
		t.Errorf("parent logger picked up child field: %s", buf.String())
	}
	buf.Reset()

	child.Info("child")
	if !strings.Contains(buf.String(), "ETHUSDT") {
		t.Errorf("child logger lost its field: %s", buf.String())
	}
}

func TestFatalUsesExitHook(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "info", JSONFormat: true})
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatal("invalid configuration", "field", "max_leverage")

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "max_leverage") {
		t.Errorf("fatal line missing field: %s", buf.String())
	}
}

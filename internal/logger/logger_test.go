package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestSanitize(t *testing.T) {
	log, logs := observed()
	log.With("session_id", "s-1").Info("session processed",
		"OPENAI_API_KEY", "sk-live-123",
		"patient_name", "田中太郎",
		"doctor_id", "D001",
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["OPENAI_API_KEY"] != "[REDACTED]" {
		t.Errorf("api key = %v", fields["OPENAI_API_KEY"])
	}
	name, _ := fields["patient_name"].(string)
	if name == "田中太郎" || len(name) != 12 {
		t.Errorf("patient_name = %q, want a 12 character hash", name)
	}
	if fields["doctor_id"] != "D001" || fields["session_id"] != "s-1" {
		t.Errorf("fields = %v", fields)
	}
}

func TestHashIsStable(t *testing.T) {
	if nameHash("田中太郎") != nameHash("田中太郎") || nameHash("a") == nameHash("b") {
		t.Error("hash is not a stable function of its input")
	}
}

func TestSanitizeOddKeyValues(t *testing.T) {
	in := []any{"token", "abc", "dangling"}
	got := scrub(in)
	if len(got) != 3 || got[1] != "[REDACTED]" || got[2] != "dangling" {
		t.Errorf("got %v", got)
	}
	if in[1] != "abc" {
		t.Error("input list was modified")
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.Info("ok")
	}
}

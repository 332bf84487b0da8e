package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultIsNop(t *testing.T) {
	Set(nil)
	if L() == nil {
		t.Fatal("L returned nil")
	}
	// must not panic
	Info("ignored", zap.String("k", "v"))
}

func TestSetAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	defer Set(nil)

	Debug("hidden")
	Info("shown", zap.Int("n", 1))
	Warn("careful")
	Error("broken")

	if logs.Len() != 3 {
		t.Fatalf("Expected 3 entries, got %d", logs.Len())
	}
	e := logs.All()[0]
	if e.Message != "shown" || e.ContextMap()["n"] != int64(1) {
		t.Errorf("unexpected entry %+v", e)
	}
	if logs.All()[2].Level != zapcore.ErrorLevel {
		t.Errorf("Expected error level, got %v", logs.All()[2].Level)
	}
}

func TestInit(t *testing.T) {
	defer Set(nil)
	if err := Init("warn", true); err != nil {
		t.Fatal(err)
	}
	if L().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !L().Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled")
	}
	if err := Init("loud", false); err == nil {
		t.Error("Expected error for unknown level")
	}
}

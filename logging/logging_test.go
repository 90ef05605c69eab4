package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Setenv(EnvLevel, "")
	tests := []struct {
		level, format string
		ok            bool
		enabled       zapcore.Level
	}{
		{"info", "json", true, zapcore.InfoLevel},
		{"debug", "console", true, zapcore.DebugLevel},
		{"warn", "", true, zapcore.WarnLevel},
		{"loud", "json", false, 0},
		{"info", "xml", false, 0},
	}
	for _, tt := range tests {
		logger, err := New(tt.level, tt.format)
		if (err == nil) != tt.ok {
			t.Errorf("New(%q, %q) err = %v", tt.level, tt.format, err)
			continue
		}
		if err != nil {
			continue
		}
		if !logger.Core().Enabled(tt.enabled) || logger.Core().Enabled(tt.enabled-1) {
			t.Errorf("New(%q, %q) does not start at %v", tt.level, tt.format, tt.enabled)
		}
	}
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLevel, "error")
	logger, err := New("debug", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn enabled despite MINI_BINDER_LOG_LEVEL=error")
	}
}

package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	var tests = []struct {
		in       string
		level    Level
		errIsNil bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"loud", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLevel(tt.in)
			if l != tt.level {
				t.Errorf("\ngot level %v, wanted %v", l, tt.level)
			} else if (err == nil) != tt.errIsNil {
				t.Errorf("\nunexpected error state: %v", err)
			}
		})
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(CurrentLevel())

	SetLevel(LevelWarn)
	Debug("hidden %d", 1)
	Info("hidden %d", 2)
	Warn("shown %d", 3)
	Error("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("\nbelow-level messages were written: %q", out)
	}
	if !strings.Contains(out, warnLabel+"shown 3") || !strings.Contains(out, errorLabel+"shown 4") {
		t.Errorf("\nexpected warn and error lines, got %q", out)
	}
}

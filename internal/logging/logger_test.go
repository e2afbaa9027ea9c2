package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		verbose bool
		debug   bool
	}{
		{verbose: true, debug: true},
		{verbose: false, debug: false},
	}
	for _, tt := range tests {
		l, err := New(tt.verbose)
		if err != nil {
			t.Fatalf("New(%v): %v", tt.verbose, err)
		}
		if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
			t.Errorf("New(%v) debug enabled = %v, want %v", tt.verbose, got, tt.debug)
		}
		if !l.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("New(%v) should log info", tt.verbose)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}

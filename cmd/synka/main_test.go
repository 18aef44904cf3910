package main

import (
	"testing"

	"github.com/synkahealth/synka-client/internal/logging"
)

func TestLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want logging.LogLevel
	}{
		{"debug", logging.LevelDebug},
		{"Warn", logging.LevelWarn},
		{"ERROR", logging.LevelError},
		{"info", logging.LevelInfo},
		{"", logging.LevelInfo},
		{"bogus", logging.LevelInfo},
	}
	for _, tc := range cases {
		if got := logLevel(tc.in); got != tc.want {
			t.Errorf("logLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRootCommandRegistration(t *testing.T) {
	want := map[string]bool{
		"run": false, "sync": false, "status": false,
		"requeue": false, "cleanup": false, "clear-failed": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Expected %q subcommand registered", name)
		}
	}
}

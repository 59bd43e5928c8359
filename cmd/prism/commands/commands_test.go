package commands

import (
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		configLevel string
		override    string
		want        slog.Level
		wantErr     bool
	}{
		{"", "", slog.LevelInfo, false},
		{"info", "", slog.LevelInfo, false},
		{"debug", "", slog.LevelDebug, false},
		{"warn", "", slog.LevelWarn, false},
		{"warning", "", slog.LevelWarn, false},
		{"error", "", slog.LevelError, false},
		{"info", "debug", slog.LevelDebug, false},
		{"verbose", "", 0, true},
		{"info", "verbose", 0, true},
	}

	for _, tc := range cases {
		got, err := parseLogLevel(tc.configLevel, tc.override)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseLogLevel(%q, %q): expected error", tc.configLevel, tc.override)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLogLevel(%q, %q): unexpected error: %v", tc.configLevel, tc.override, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseLogLevel(%q, %q) = %v, want %v", tc.configLevel, tc.override, got, tc.want)
		}
	}
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	expected := []string{"serve", "policy", "approvals", "run", "version"}
	for _, name := range expected {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command is missing %q subcommand", name)
		}
	}
}

package config

import (
	"path/filepath"
	"testing"
)

func TestDataDir(t *testing.T) {
	tests := []struct {
		name        string
		xdgDataHome string
		home        string
		expected    string
	}{
		{
			name:        "XDG_DATA_HOME wins",
			xdgDataHome: "/data",
			home:        "/home/alice",
			expected:    filepath.Join("/data", "ugs"),
		},
		{
			name:     "fallback to home",
			home:     "/home/alice",
			expected: filepath.Join("/home/alice", ".local", "share", "ugs"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", tt.xdgDataHome)
			t.Setenv("HOME", tt.home)

			got, err := DataDir()
			if err != nil {
				t.Fatalf("DataDir: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMustConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/config")
	if got, expected := MustConfigDir(), filepath.Join("/config", "ugs"); got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

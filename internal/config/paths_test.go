package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataPath_Default(t *testing.T) {
	t.Setenv("TASKVOX_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	got := DataPath()
	want := filepath.Join(home, ".taskvox")
	if got != want {
		t.Errorf("DataPath() = %q, want %q", got, want)
	}
}

func TestDataPath_EnvOverride(t *testing.T) {
	t.Setenv("TASKVOX_PATH", "/tmp/custom-taskvox")

	if got := DataPath(); got != "/tmp/custom-taskvox" {
		t.Errorf("DataPath() = %q, want %q", got, "/tmp/custom-taskvox")
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Setenv("TASKVOX_PATH", "/tmp/test-taskvox")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", ConfigPath(), "/tmp/test-taskvox/config.jsonc"},
		{"dotenv", DotenvPath(), "/tmp/test-taskvox/.env"},
		{"tasks", TasksPath(), "/tmp/test-taskvox/data/tasks.json"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

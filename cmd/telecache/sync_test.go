package main_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/macrat/telecache/cmd/telecache"
)

func TestSyncCommand_Run(t *testing.T) {
	tests := []struct {
		Name     string
		Healthy  bool
		Args     []string
		Stdout   string
		Stderr   string
		ExitCode int
		Written  bool
	}{
		{
			Name:     "healthy",
			Healthy:  true,
			Stdout:   `^standard: HEALTHY: 1 records in 1 domains \([0-9.]+% valid\)\n$`,
			Stderr:   `^$`,
			ExitCode: 0,
			Written:  true,
		},
		{
			Name:     "select-tier",
			Healthy:  true,
			Args:     []string{"-t", "standard"},
			Stdout:   `^standard: HEALTHY: `,
			Stderr:   `^$`,
			ExitCode: 0,
			Written:  true,
		},
		{
			Name:     "disabled-tier",
			Healthy:  true,
			Args:     []string{"--tier", "long"},
			Stdout:   `^$`,
			Stderr:   `^error: tier "long" is not enabled\n$`,
			ExitCode: 2,
		},
		{
			Name:     "unhealthy",
			Healthy:  false,
			Stdout:   `^standard: FAILURE: `,
			ExitCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			dir := t.TempDir()
			upstream := NewUpstream(t, tt.Healthy)
			configPath := WriteConfig(t, dir, upstream.URL)

			s, stdout, stderr := MakeStreams()
			args := append([]string{"telecache sync", "-c", configPath}, tt.Args...)

			code := main.NewSyncCommand(s).Run(args)
			if code != tt.ExitCode {
				t.Errorf("unexpected exit code: expected %d but got %d\nstderr: %s", tt.ExitCode, code, stderr)
			}

			if ok, _ := regexp.MatchString(tt.Stdout, stdout.String()); !ok {
				t.Errorf("unexpected stdout:\n%s", stdout)
			}
			if tt.Stderr != "" {
				if ok, _ := regexp.MatchString(tt.Stderr, stderr.String()); !ok {
					t.Errorf("unexpected stderr:\n%s", stderr)
				}
			}

			_, err := os.Stat(filepath.Join(dir, "cache_standard.json"))
			if tt.Written && err != nil {
				t.Errorf("cache file was not written: %s", err)
			}
			if !tt.Written && err == nil {
				t.Errorf("cache file was written")
			}
		})
	}
}

func TestSyncCommand_Run_invalidConfig(t *testing.T) {
	s, _, stderr := MakeStreams()

	code := main.NewSyncCommand(s).Run([]string{"telecache sync", "--log-level", "error", "-c", filepath.Join(t.TempDir(), "telecache.toml")})
	if code != 2 {
		t.Errorf("unexpected exit code: %d", code)
	}
	if !strings.HasPrefix(stderr.String(), "error: failed to read config file: ") {
		t.Errorf("unexpected stderr:\n%s", stderr)
	}
}

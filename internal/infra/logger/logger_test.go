package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sifan077/PowerPush/config"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNew_TeesIntoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powerpush.log")
	l, err := New(Config{Level: "info", Encoding: "json", File: path})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	l.Info("push created")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "push created") {
		t.Fatalf("expected message in log file, got %q", string(data))
	}
}

func TestL_FallsBackWithoutInit(t *testing.T) {
	if L() == nil {
		t.Fatal("expected a logger")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LogConfig{Level: "warn", File: "/tmp/x.log", MaxBackups: 2}, true)
	if !cfg.Development || cfg.Level != "warn" || cfg.File != "/tmp/x.log" || cfg.MaxBackups != 2 {
		t.Fatalf("unexpected mapping: %+v", cfg)
	}
}

func TestNew_BuildsEveryEncoding(t *testing.T) {
	for _, enc := range []string{"console", "json"} {
		l, err := New(Config{Development: true, Level: "debug", Encoding: enc})
		if err != nil {
			t.Fatalf("%s: New returned error: %v", enc, err)
		}
		l.Debug("sweep finished")
	}
}

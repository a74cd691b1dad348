package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "todosync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.LivenessWindow != 30*time.Second {
		t.Fatalf("expected 30s liveness window, got %s", cfg.LivenessWindow)
	}
	if cfg.DBPath != "" {
		t.Fatalf("checkpoints should be disabled by default")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "0.0.0.0:9000"
liveness_window: 45s
ping_interval: 15s
db_path: /tmp/todosync.sqlite3
keys:
  - key: AbCdEf
    principal: alice
  - key: second
    principal: bob
log:
  level: debug
`)
	t.Setenv("TODOSYNC_SWEEP_INTERVAL", "2s")
	t.Setenv("TODOSYNC_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" || cfg.LivenessWindow != 45*time.Second || cfg.PingInterval != 15*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SweepInterval != 2*time.Second || cfg.Log.Format != "json" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	keys := cfg.KeyTable()
	if keys["AbCdEf"] != "alice" || keys["second"] != "bob" {
		t.Fatalf("key case must be preserved: %v", keys)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"ping not shorter than window": "liveness_window: 10s\nping_interval: 10s\n",
		"zero queue":                   "outbound_queue: 0\n",
		"incomplete key":               "keys:\n  - key: abc\n",
		"duplicate key":                "keys:\n  - {key: a, principal: x}\n  - {key: a, principal: y}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(Log{Level: "warn", Format: "json"}.Handler(&buf))
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output %q", out)
	}
	if !(Log{Level: "bogus"}).Handler(&buf).Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("unknown level should fall back to info")
	}
}

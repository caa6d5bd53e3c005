package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8871" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Client.AckTimeoutMS != 15000 {
		t.Fatalf("ack timeout = %d", cfg.Client.AckTimeoutMS)
	}
	if cfg.Client.QueueCapacity != 4096 {
		t.Fatalf("queue capacity = %d", cfg.Client.QueueCapacity)
	}
	if cfg.Limits.MaxContentBytes != 1<<20 {
		t.Fatalf("max content = %d", cfg.Limits.MaxContentBytes)
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  address: "0.0.0.0"
  port: 9900
storage:
  db_path: "/tmp/chatsync-test"
client:
  ws_url: "ws://localhost:9900/ws"
retention:
  enabled: true
  max_age_days: 14
`
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9900" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Client.WSURL != "ws://localhost:9900/ws" {
		t.Fatalf("ws url = %q", cfg.Client.WSURL)
	}
	if !cfg.Retention.Enabled || cfg.Retention.MaxAgeDays != 14 {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
	if cfg.Retention.Schedule == "" {
		t.Fatalf("default schedule not applied")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte("server:\n  port: 9900\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CHATSYNC_PORT", "7000")
	t.Setenv("CHATSYNC_TOKEN", "secret")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("port = %d, env did not win", cfg.Server.Port)
	}
	if cfg.Client.Token != "secret" {
		t.Fatalf("token = %q", cfg.Client.Token)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

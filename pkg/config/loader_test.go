package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigMergesEnvAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
imap:
  host: imap.example.com
  port: 993
  password: ${IMAP_SECRET}
scheduler:
  interval: 5m
  run_on_start: false
`)
	writeFile(t, dir, "local.yaml", `
scheduler:
  run_on_start: true
`)
	writeFile(t, dir, "secrets.env", "IMAP_SECRET=\"hunter2\"\n")

	cfgMap, err := LoadConfig("local", dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	var cfg struct {
		IMAP      IMAPConfig      `yaml:"imap"`
		Scheduler SchedulerConfig `yaml:"scheduler"`
	}
	if err := Decode(cfgMap, &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if cfg.IMAP.Host != "imap.example.com" || cfg.IMAP.Port != 993 {
		t.Errorf("imap = %+v", cfg.IMAP)
	}
	if cfg.IMAP.Password != "hunter2" {
		t.Errorf("password = %q, want substituted secret", cfg.IMAP.Password)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("interval = %v", cfg.Scheduler.Interval)
	}
	if !cfg.Scheduler.RunOnStart {
		t.Error("env file should override run_on_start")
	}
}

func TestLoadConfigMissingBase(t *testing.T) {
	if _, err := LoadConfig("local", t.TempDir()); err == nil {
		t.Fatal("expected error when base.yaml is missing")
	}
}

func TestSubstituteFallsBackToSystemEnv(t *testing.T) {
	t.Setenv("MAILPIPE_TEST_VAR", "from-env")
	got := substituteString("x-${MAILPIPE_TEST_VAR}", map[string]string{})
	if got != "x-from-env" {
		t.Errorf("substituteString = %q", got)
	}
}

func TestOverrideIMAPFromEnv(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.internal")
	t.Setenv("IMAP_PORT", "143")

	cfg := IMAPConfig{Host: "imap.example.com", Port: 993}
	OverrideIMAPFromEnv(&cfg)

	if cfg.Host != "mail.internal" || cfg.Port != 143 {
		t.Errorf("cfg = %+v", cfg)
	}
}

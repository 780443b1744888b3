package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseYAML = `
log_level: info
server:
  port: ":8080"
jwt:
  secret: ${JWT_SECRET}
imap:
  host: imap.example.com
  port: 993
  user: ops@example.com
  password: ${IMAP_PASSWORD}
  tls: true
classifier:
  provider: stub
ingestion:
  max_per_run: 100
scheduler:
  interval: 5m
  lock: local
`

func writeConfigDir(t *testing.T, base, secrets string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o600); err != nil {
		t.Fatal(err)
	}
	if secrets != "" {
		if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte(secrets), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfigDir(t, baseYAML, "JWT_SECRET=0123456789abcdef0123\nIMAP_PASSWORD=hunter2\n")
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("IMAP_USER", "override@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IMAP.User != "override@example.com" {
		t.Errorf("imap user = %q, want env override", cfg.IMAP.User)
	}
	if cfg.IMAP.Password != "hunter2" {
		t.Errorf("imap password = %q", cfg.IMAP.Password)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("interval = %v", cfg.Scheduler.Interval)
	}
}

func TestLoadReportsMissingFields(t *testing.T) {
	dir := writeConfigDir(t, `
server:
  port: ":8080"
classifier:
  provider: remote
`, "")
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, field := range []string{"Config.IMAP.Host", "Config.IMAP.Password", "Config.JWT.Secret", "Config.Classifier.APIKey"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

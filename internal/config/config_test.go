package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8730" {
		t.Fatalf("addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Stream.QueueCapacity != 64 || cfg.Stream.BackfillLimit != 50 {
		t.Fatalf("stream defaults wrong: %+v", cfg.Stream)
	}
	if cfg.Access.AnonymousHistory() != 30*time.Minute {
		t.Fatalf("anonymous history = %s, want 30m", cfg.Access.AnonymousHistory())
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
ingest:
  token: recorder-secret
access:
  restrict: true
  anonymousHistoryMinutes: 0
stream:
  queueCapacity: 16
users:
  - token: tok-1
    name: dispatcher
    talkgroups: [fire-dispatch]
    plan:
      name: monthly
      historyMinutes: 43200
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.Access.Restrict || cfg.Access.AnonymousHistory() != 0 {
		t.Fatalf("access not overlaid: %+v", cfg.Access)
	}
	if cfg.Stream.QueueCapacity != 16 {
		t.Fatalf("queueCapacity = %d", cfg.Stream.QueueCapacity)
	}
	// Untouched sections keep their defaults.
	if cfg.Stream.BackfillLimit != 50 {
		t.Fatalf("backfillLimit = %d, want default", cfg.Stream.BackfillLimit)
	}

	users := cfg.IdentityUsers()
	if len(users) != 1 || users[0].Plan == nil {
		t.Fatalf("identity users not converted: %+v", users)
	}
	if users[0].Plan.HistoryLimit != 43200*time.Minute {
		t.Fatalf("plan window = %s", users[0].Plan.HistoryLimit)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("TRUNKWATCH_ADDR", ":7001")
	t.Setenv("TRUNKWATCH_IMPORT_TOKEN", "env-token")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7001" || cfg.Ingest.Token != "env-token" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]string{
		"missing addr": `
server:
  addr: "  "
`,
		"user without token": `
users:
  - name: ghost
`,
		"duplicate tokens": `
users:
  - token: tok-1
    name: a
  - token: tok-1
    name: b
`,
		"negative rate": `
ingest:
  ratePerSecond: -1
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("load accepted invalid config")
			}
		})
	}
}

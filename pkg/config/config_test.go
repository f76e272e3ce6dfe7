package config

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"
)

func TestParse_DefaultsApplied(t *testing.T) {
    cfg, err := Parse([]byte("hosts: [\"db1:27017\", \"db2:27017\"]\n"))
    if err != nil { t.Fatalf("parse: %v", err) }
    if len(cfg.Hosts) != 2 { t.Fatalf("hosts = %v", cfg.Hosts) }
    if cfg.PollInterval.Std() != 5*time.Second || cfg.LagThreshold.Std() != 30*time.Second {
        t.Fatalf("defaults not applied: %+v", cfg)
    }
    if cfg.MaxConnectRetries != 5 || cfg.Mail.SMTPPort != 25 || cfg.Status.Proto != "http" {
        t.Fatalf("defaults not applied: %+v", cfg)
    }
    if cfg.Mail.Enabled() { t.Fatalf("mail enabled without recipients") }
}

func TestParse_Durations(t *testing.T) {
    cases := []struct {
        in   string
        want time.Duration
    }{
        {"45", 45 * time.Second},
        {"1m30s", 90 * time.Second},
        {"\"2s\"", 2 * time.Second},
    }
    for _, tc := range cases {
        cfg, err := Parse([]byte("hosts: [db1]\nlag_threshold: " + tc.in + "\n"))
        if err != nil { t.Fatalf("%s: %v", tc.in, err) }
        if cfg.LagThreshold.Std() != tc.want { t.Fatalf("%s: got %s, want %s", tc.in, cfg.LagThreshold.Std(), tc.want) }
    }
    if _, err := Parse([]byte("hosts: [db1]\nlag_threshold: soon\n")); err == nil { t.Fatalf("expected error for bad duration") }
}

func TestParse_Invalid(t *testing.T) {
    cases := []struct {
        name, yaml, want string
    }{
        {"no hosts", "poll_interval: 5\n", "hosts"},
        {"zero retries", "hosts: [db1]\nmax_connect_retries: 0\n", "max_connect_retries"},
        {"zero retry delay", "hosts: [db1]\nretry_delay: 0\n", "retry_delay: must be positive"},
        {"bad level", "hosts: [db1]\nlog_level: loud\n", "log_level"},
        {"bad proto", "hosts: [db1]\nstatus: {proto: udp}\n", "status.proto"},
        {"mail without sender", "hosts: [db1]\nmail: {recipients: [ops@example.com], smtp_host: mx}\n", "mail.from_email"},
        {"bad recipient", "hosts: [db1]\nmail: {from_email: a@example.com, recipients: [nope], smtp_host: mx}\n", "mail.recipients"},
        {"unknown key", "hosts: [db1]\nthreshold: 5\n", "threshold"},
        {"bad status addr", "hosts: [db1]\nstatus: {addr: localhost}\n", "status.addr"},
    }
    for _, tc := range cases {
        _, err := Parse([]byte(tc.yaml))
        if err == nil { t.Fatalf("%s: expected error", tc.name) }
        if !strings.Contains(err.Error(), tc.want) { t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want) }
    }
}

func TestLoad_File(t *testing.T) {
    path := filepath.Join(t.TempDir(), "replmon.yaml")
    body := `
hosts:
  - db1:27017
  - db2:27017
poll_interval: 10s
mail:
  from_email: replmon@example.com
  recipients: [ops@example.com]
  smtp_host: mail.example.com
status:
  addr: 127.0.0.1:9090
  proto: grpc
`
    if err := os.WriteFile(path, []byte(body), 0o600); err != nil { t.Fatal(err) }
    cfg, err := Load(path)
    if err != nil { t.Fatalf("load: %v", err) }
    if !cfg.Mail.Enabled() || cfg.Status.Proto != "grpc" || cfg.PollInterval.Std() != 10*time.Second {
        t.Fatalf("cfg = %+v", cfg)
    }
    if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil { t.Fatalf("expected error for missing file") }
}

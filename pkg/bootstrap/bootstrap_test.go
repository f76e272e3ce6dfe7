package bootstrap

import (
    "context"
    "encoding/json"
    "io"
    "log"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-replmon/pkg/config"
    "github.com/amirimatin/go-replmon/pkg/notify"
    "github.com/amirimatin/go-replmon/pkg/replset"
    rt "github.com/amirimatin/go-replmon/pkg/replset/replsettest"
    "github.com/amirimatin/go-replmon/pkg/state"
)

func testConfig(t *testing.T) config.Config {
    t.Helper()
    cfg := config.Default()
    cfg.Hosts = []string{"db1:27017", "db2:27017", "db3:27017"}
    cfg.PIDFile = filepath.Join(t.TempDir(), "replmon.pid")
    return cfg
}

func cluster() *rt.Cluster {
    c := rt.New()
    c.Set("db1:27017", rt.Host{})
    c.Set("db2:27017", rt.Host{Primary: true})
    c.Set("db3:27017", rt.Host{})
    c.SetSnapshot(replset.Snapshot{Members: []replset.MemberStatus{
        rt.Member("db1:27017", "SECONDARY", 95),
        rt.Member("db2:27017", replset.StatePrimary, 100),
        rt.Member("db3:27017", "SECONDARY", 50),
    }})
    return c
}

func TestCheck_DryRunRecordsAlert(t *testing.T) {
    app, err := Build(testConfig(t), Options{Logger: log.New(io.Discard, "", 0), Dialer: cluster(), DryRun: true})
    if err != nil { t.Fatalf("build: %v", err) }
    defer app.Close()

    rep, err := app.Check(context.Background())
    if err != nil { t.Fatalf("check: %v", err) }
    if rep.Status.Primary != "db2:27017" { t.Fatalf("primary = %q", rep.Status.Primary) }
    alerts := rep.Alerts
    if len(alerts) != 1 || !strings.Contains(alerts[0].Message, "db3:27017") { t.Fatalf("alerts = %+v", alerts) }

    b, err := app.Handlers().Status(context.Background())
    if err != nil { t.Fatalf("status: %v", err) }
    var decoded map[string]any
    if err := json.Unmarshal(b, &decoded); err != nil { t.Fatalf("status json: %v", err) }
    if decoded["primary"] != "db2:27017" { t.Fatalf("status = %s", b) }
    if !app.Handlers().Healthy() { t.Fatalf("not healthy after a successful cycle") }
}

func TestCheck_ReportsUnreachableHost(t *testing.T) {
    cfg := testConfig(t)
    cfg.MaxConnectRetries = 2
    cfg.RetryDelay = config.Duration(time.Millisecond)
    c := cluster()
    c.Update("db1:27017", func(h *rt.Host) { h.Down = true })
    app, err := Build(cfg, Options{Logger: log.New(io.Discard, "", 0), Dialer: c, DryRun: true})
    if err != nil { t.Fatalf("build: %v", err) }
    defer app.Close()

    rep, err := app.Check(context.Background())
    if err != nil { t.Fatalf("check: %v", err) }
    if rep.Status.Primary != "db2:27017" { t.Fatalf("primary = %q", rep.Status.Primary) }
    if got := c.Dials("db1:27017"); got != 2 { t.Fatalf("db1 dials = %d, want 2", got) }
    var down int
    for _, a := range rep.Alerts {
        if a.Subject == notify.HostDownSubject("db1:27017") { down++ }
    }
    if down != 1 { t.Fatalf("alerts = %+v, want one host-down alert for db1", rep.Alerts) }

    b, err := json.Marshal(rep)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var decoded struct {
        Status map[string]any `json:"status"`
        Alerts []map[string]string `json:"alerts"`
    }
    if err := json.Unmarshal(b, &decoded); err != nil { t.Fatalf("report json: %v", err) }
    if decoded.Status["primary"] != "db2:27017" || len(decoded.Alerts) != len(rep.Alerts) { t.Fatalf("report = %s", b) }
    if decoded.Alerts[0]["subject"] == "" { t.Fatalf("alert subject missing: %s", b) }
}

func TestRun_HealthClearedWhileNoPrimary(t *testing.T) {
    cfg := testConfig(t)
    cfg.PollInterval = config.Duration(time.Millisecond)
    cfg.NoPrimaryDelay = config.Duration(time.Millisecond)
    c := cluster()
    app, err := Build(cfg, Options{Logger: log.New(io.Discard, "", 0), Dialer: c})
    if err != nil { t.Fatalf("build: %v", err) }
    defer app.Close()

    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- app.Run(ctx) }()
    waitFor := func(want bool) {
        t.Helper()
        deadline := time.Now().Add(2 * time.Second)
        for app.Handlers().Healthy() != want {
            if time.Now().After(deadline) { cancel(); t.Fatalf("healthy never became %v", want) }
            time.Sleep(2 * time.Millisecond)
        }
    }
    waitFor(true)
    c.Update("db2:27017", func(h *rt.Host) { h.Primary = false })
    waitFor(false)
    c.Update("db2:27017", func(h *rt.Host) { h.Primary = true })
    waitFor(true)
    cancel()
    if err := <-done; err != nil { t.Fatalf("run: %v", err) }
}

func TestBuild_PersistsPrimaryInStateDir(t *testing.T) {
    cfg := testConfig(t)
    cfg.StateDir = t.TempDir()
    app, err := Build(cfg, Options{Logger: log.New(io.Discard, "", 0), Dialer: cluster()})
    if err != nil { t.Fatalf("build: %v", err) }
    if _, err := app.Check(context.Background()); err != nil { t.Fatalf("check: %v", err) }
    if err := app.Close(); err != nil { t.Fatalf("close: %v", err) }

    st, err := state.Open(cfg.StateDir)
    if err != nil { t.Fatalf("open: %v", err) }
    defer st.Close()
    p, err := st.LoadPrimary()
    if err != nil || p != "db2:27017" { t.Fatalf("persisted = %q, %v", p, err) }
}

func TestRun_ServesStatus(t *testing.T) {
    cfg := testConfig(t)
    cfg.Status.Addr = "127.0.0.1:0"
    cfg.PollInterval = config.Duration(time.Hour)
    app, err := Build(cfg, Options{Logger: log.New(io.Discard, "", 0), Dialer: cluster()})
    if err != nil { t.Fatalf("build: %v", err) }
    defer app.Close()

    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- app.Run(ctx) }()
    deadline := time.Now().Add(2 * time.Second)
    for !app.Monitor.Status().Healthy {
        if time.Now().After(deadline) { t.Fatalf("no cycle completed") }
        time.Sleep(5 * time.Millisecond)
    }
    cancel()
    if err := <-done; err != nil { t.Fatalf("run: %v", err) }
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
    cfg := testConfig(t)
    cfg.Hosts = nil
    if _, err := Build(cfg, Options{DryRun: true}); err == nil { t.Fatalf("expected error") }
}

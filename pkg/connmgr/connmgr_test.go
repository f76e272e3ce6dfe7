package connmgr

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    "github.com/amirimatin/go-replmon/pkg/replset"
    "github.com/amirimatin/go-replmon/pkg/replset/replsettest"
)

func newManager(t *testing.T, c *replsettest.Cluster, retries int, s *replsettest.Sleeps) *Manager {
    t.Helper()
    m, err := New(Options{
        Dialer:     c,
        MaxRetries: retries,
        RetryDelay: 5 * time.Second,
        IdleTTL:    -1,
        Logger:     log.New(io.Discard, "", 0),
        Sleep:      s.Sleep,
    })
    if err != nil { t.Fatalf("new: %v", err) }
    t.Cleanup(func() { _ = m.Close() })
    return m
}

func TestConnect_ExhaustsRetryBudget(t *testing.T) {
    c := replsettest.New()
    c.Set("db1:27017", replsettest.Host{Down: true})
    var sleeps replsettest.Sleeps
    m := newManager(t, c, 3, &sleeps)

    _, err := m.Connect(context.Background(), "db1:27017")
    var uerr *UnreachableError
    if !errors.As(err, &uerr) { t.Fatalf("err = %v, want *UnreachableError", err) }
    if !errors.Is(err, ErrUnreachable) { t.Fatalf("errors.Is(ErrUnreachable) = false") }
    if !errors.Is(err, replsettest.ErrRefused) { t.Fatalf("cause not wrapped: %v", err) }
    if uerr.Host != "db1:27017" || uerr.Attempts != 3 {
        t.Fatalf("unexpected error fields: %+v", uerr)
    }
    if got := c.Dials("db1:27017"); got != 3 { t.Fatalf("dials = %d, want 3", got) }
    d := sleeps.All()
    if len(d) != 2 { t.Fatalf("sleeps = %v, want 2 delays between 3 attempts", d) }
    for _, x := range d {
        if x != 5*time.Second { t.Fatalf("delay = %s, want fixed 5s", x) }
    }
}

func TestConnect_RecoversAfterTransientFailures(t *testing.T) {
    c := replsettest.New()
    c.Set("db1:27017", replsettest.Host{FailDials: 2})
    var sleeps replsettest.Sleeps
    m := newManager(t, c, 5, &sleeps)

    conn, err := m.Connect(context.Background(), "db1:27017")
    if err != nil { t.Fatalf("connect: %v", err) }
    if conn == nil { t.Fatalf("nil conn") }
    if got := c.Dials("db1:27017"); got != 3 { t.Fatalf("dials = %d, want 3", got) }
    if got := len(sleeps.All()); got != 2 { t.Fatalf("sleeps = %d, want 2", got) }
}

func TestConnect_ReusesCachedConnection(t *testing.T) {
    c := replsettest.New()
    c.Set("db1:27017", replsettest.Host{})
    var sleeps replsettest.Sleeps
    m := newManager(t, c, 5, &sleeps)

    a, err := m.Connect(context.Background(), "db1:27017")
    if err != nil { t.Fatalf("connect: %v", err) }
    b, err := m.Connect(context.Background(), "db1:27017")
    if err != nil { t.Fatalf("connect: %v", err) }
    if a != b { t.Fatalf("expected cached connection to be reused") }
    if got := c.Dials("db1:27017"); got != 1 { t.Fatalf("dials = %d, want 1", got) }
    if !m.Cached("db1:27017") { t.Fatalf("db1 not reported as cached") }

    m.Evict("db1:27017")
    if got := c.Closed("db1:27017"); got != 1 { t.Fatalf("closed = %d, want 1", got) }
    if m.Cached("db1:27017") { t.Fatalf("db1 still cached after evict") }
    if _, err := m.Connect(context.Background(), "db1:27017"); err != nil { t.Fatalf("connect: %v", err) }
    if got := c.Dials("db1:27017"); got != 2 { t.Fatalf("dials after evict = %d, want 2", got) }
}

func TestConnect_CancelledStopsRetrying(t *testing.T) {
    c := replsettest.New()
    c.Set("db1:27017", replsettest.Host{Down: true})
    ctx, cancel := context.WithCancel(context.Background())
    sleeps := replsettest.Sleeps{OnSleep: func(int) { cancel() }}
    m := newManager(t, c, 5, &sleeps)

    _, err := m.Connect(ctx, "db1:27017")
    if !errors.Is(err, context.Canceled) { t.Fatalf("err = %v, want context.Canceled", err) }
    if got := c.Dials("db1:27017"); got != 1 { t.Fatalf("dials = %d, want 1", got) }
}

func TestEvictIdle(t *testing.T) {
    c := replsettest.New()
    c.Set("db1:27017", replsettest.Host{})
    var sleeps replsettest.Sleeps
    m := newManager(t, c, 1, &sleeps)
    m.opts.IdleTTL = time.Minute

    if _, err := m.Connect(context.Background(), replset.HostAddress("db1:27017")); err != nil { t.Fatalf("connect: %v", err) }
    m.evictIdle(time.Now())
    if got := c.Closed("db1:27017"); got != 0 { t.Fatalf("fresh connection evicted") }
    m.evictIdle(time.Now().Add(2 * time.Minute))
    if got := c.Closed("db1:27017"); got != 1 { t.Fatalf("idle connection not evicted") }
}

func TestNew_RequiresDialer(t *testing.T) {
    if _, err := New(Options{}); err == nil { t.Fatalf("expected error for nil dialer") }
}

package connmgr

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-replmon/pkg/internal/backoff"
    "github.com/amirimatin/go-replmon/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-replmon/pkg/observability/metrics"
    "github.com/amirimatin/go-replmon/pkg/observability/tracing"
    "github.com/amirimatin/go-replmon/pkg/replset"
)

const (
    DefaultMaxRetries = 5
    DefaultRetryDelay = 5 * time.Second
    DefaultIdleTTL    = 60 * time.Second
)

// ErrUnreachable is matched by every UnreachableError.
var ErrUnreachable = errors.New("connmgr: host unreachable")

// UnreachableError reports that a host exhausted its connection retry budget.
type UnreachableError struct {
    Host     replset.HostAddress
    Attempts int
    Err      error
}

func (e *UnreachableError) Error() string {
    return fmt.Sprintf("all %d attempts to connect to host %q failed, host may be down: %v", e.Attempts, e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() []error { return []error{ErrUnreachable, e.Err} }

// Options configures a Manager.
type Options struct {
    Dialer replset.Dialer
    // MaxRetries is the number of connection attempts per Connect call.
    MaxRetries int
    // RetryDelay is the fixed pause between two attempts.
    RetryDelay time.Duration
    // IdleTTL evicts cached connections unused for this long. Negative
    // disables eviction.
    IdleTTL time.Duration
    Logger  *log.Logger
    Sleep   backoff.SleepFunc
}

// Manager opens connections with bounded retries and caches them per host so
// a later Connect to the same host reuses the open connection.
type Manager struct {
    opts    Options
    mu      sync.Mutex
    conns   map[replset.HostAddress]*managedConn
    closing chan struct{}
    once    sync.Once
}

type managedConn struct {
    c        replset.Conn
    lastUsed time.Time
}

func New(opts Options) (*Manager, error) {
    if opts.Dialer == nil { return nil, errors.New("connmgr: nil Dialer") }
    if opts.MaxRetries <= 0 { opts.MaxRetries = DefaultMaxRetries }
    if opts.RetryDelay <= 0 { opts.RetryDelay = DefaultRetryDelay }
    if opts.IdleTTL == 0 { opts.IdleTTL = DefaultIdleTTL }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.Sleep == nil { opts.Sleep = backoff.Sleep }
    m := &Manager{opts: opts, conns: make(map[replset.HostAddress]*managedConn), closing: make(chan struct{})}
    if opts.IdleTTL > 0 { go m.janitor() }
    return m, nil
}

// MaxRetries returns the configured attempt budget.
func (m *Manager) MaxRetries() int { return m.opts.MaxRetries }

// Connect returns a connection to host, reusing a cached one when present.
// Otherwise it dials up to MaxRetries times with RetryDelay between attempts
// and returns an *UnreachableError once the budget is spent. Context
// cancellation aborts immediately with ctx.Err().
func (m *Manager) Connect(ctx context.Context, host replset.HostAddress) (replset.Conn, error) {
    ctx, end := tracing.StartSpan(ctx, "connmgr.connect", attribute.String("host", string(host)))
    defer end()

    m.mu.Lock()
    if mc, ok := m.conns[host]; ok {
        mc.lastUsed = time.Now()
        c := mc.c
        m.mu.Unlock()
        obsmetrics.ConnReuse.Inc()
        return c, nil
    }
    m.mu.Unlock()

    var lastErr error
    for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
        if err := ctx.Err(); err != nil { return nil, err }
        c, err := m.opts.Dialer.Dial(ctx, host)
        if err == nil {
            return m.store(host, c), nil
        }
        if ctxErr := ctx.Err(); ctxErr != nil { return nil, ctxErr }
        lastErr = err
        obsmetrics.ConnFailures.WithLabelValues(string(host)).Inc()
        left := m.opts.MaxRetries - attempt
        if left == 0 { break }
        logutil.Warnf(m.opts.Logger, "failed to connect to host %q, trying again in %s (%d tries left): %v", host, m.opts.RetryDelay, left, err)
        if err := m.opts.Sleep(ctx, m.opts.RetryDelay); err != nil { return nil, err }
    }

    uerr := &UnreachableError{Host: host, Attempts: m.opts.MaxRetries, Err: lastErr}
    logutil.Errorf(m.opts.Logger, "%v", uerr)
    obsmetrics.HostUnreachable.WithLabelValues(string(host)).Inc()
    tracing.Fail(ctx, uerr)
    return nil, uerr
}

func (m *Manager) store(host replset.HostAddress, c replset.Conn) replset.Conn {
    m.mu.Lock()
    defer m.mu.Unlock()
    if existing, ok := m.conns[host]; ok {
        // Another caller dialed the same host meanwhile; keep the cached one.
        go closeQuietly(c)
        existing.lastUsed = time.Now()
        obsmetrics.ConnReuse.Inc()
        return existing.c
    }
    m.conns[host] = &managedConn{c: c, lastUsed: time.Now()}
    obsmetrics.ConnDials.Inc()
    obsmetrics.ConnActive.Inc()
    return c
}

// Cached reports whether a connection to host is held in the cache.
func (m *Manager) Cached(host replset.HostAddress) bool {
    m.mu.Lock(); defer m.mu.Unlock()
    _, ok := m.conns[host]
    return ok
}

// Evict closes and forgets the cached connection for host, if any. Callers
// evict after a command on the connection failed.
func (m *Manager) Evict(host replset.HostAddress) {
    m.mu.Lock()
    mc, ok := m.conns[host]
    if ok { delete(m.conns, host) }
    m.mu.Unlock()
    if !ok { return }
    obsmetrics.ConnEvictions.Inc()
    obsmetrics.ConnActive.Dec()
    closeQuietly(mc.c)
}

// Close stops the janitor and closes all cached connections.
func (m *Manager) Close() error {
    m.once.Do(func() { close(m.closing) })
    m.mu.Lock()
    conns := m.conns
    m.conns = make(map[replset.HostAddress]*managedConn)
    m.mu.Unlock()
    for range conns { obsmetrics.ConnActive.Dec() }
    for _, mc := range conns { closeQuietly(mc.c) }
    return nil
}

func (m *Manager) janitor() {
    t := time.NewTicker(m.opts.IdleTTL / 2)
    defer t.Stop()
    for {
        select {
        case <-m.closing:
            return
        case <-t.C:
            m.evictIdle(time.Now())
        }
    }
}

func (m *Manager) evictIdle(now time.Time) {
    var stale []replset.HostAddress
    m.mu.Lock()
    for host, mc := range m.conns {
        if now.Sub(mc.lastUsed) > m.opts.IdleTTL { stale = append(stale, host) }
    }
    m.mu.Unlock()
    for _, host := range stale { m.Evict(host) }
}

func closeQuietly(c replset.Conn) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = c.Close(ctx)
}

package locator

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-replmon/pkg/connmgr"
    "github.com/amirimatin/go-replmon/pkg/discovery"
    "github.com/amirimatin/go-replmon/pkg/internal/backoff"
    "github.com/amirimatin/go-replmon/pkg/internal/logutil"
    "github.com/amirimatin/go-replmon/pkg/notify"
    obsmetrics "github.com/amirimatin/go-replmon/pkg/observability/metrics"
    "github.com/amirimatin/go-replmon/pkg/observability/tracing"
    "github.com/amirimatin/go-replmon/pkg/replset"
)

// DefaultNoPrimaryDelay is the pause before a new discovery pass when no host
// reported itself primary.
const DefaultNoPrimaryDelay = 5 * time.Second

// State is threaded through successive Snapshot calls. The zero value has no
// cached primary.
type State struct {
    LastPrimary replset.HostAddress `json:"lastPrimary,omitempty"`
}

// Connector is the part of connmgr.Manager the locator needs.
type Connector interface {
    Connect(ctx context.Context, host replset.HostAddress) (replset.Conn, error)
    Cached(host replset.HostAddress) bool
    Evict(host replset.HostAddress)
}

var _ Connector = (*connmgr.Manager)(nil)

// Options configures a Locator.
type Options struct {
    Discovery discovery.Discovery
    Conns     Connector
    // Notifier receives "host may be down" alerts.
    Notifier       notify.Notifier
    Logger         *log.Logger
    NoPrimaryDelay time.Duration
    Sleep          backoff.SleepFunc

    // Optional hooks.
    OnPrimaryChange func(old, cur replset.HostAddress)
    OnUnreachable   func(host replset.HostAddress, err error)
    // OnNoPrimary runs after a discovery pass found no primary, before the
    // NoPrimaryDelay pause.
    OnNoPrimary func(hosts int)
}

// Validate checks required fields without side effects.
func (o Options) Validate() error {
    if o.Discovery == nil { return errors.New("locator: nil Discovery") }
    if o.Conns == nil { return errors.New("locator: nil Conns") }
    if o.Notifier == nil { return errors.New("locator: nil Notifier") }
    return nil
}

// Locator finds the current primary and fetches a status snapshot from it.
type Locator struct {
    opts Options
}

func New(opts Options) (*Locator, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.NoPrimaryDelay <= 0 { opts.NoPrimaryDelay = DefaultNoPrimaryDelay }
    if opts.Sleep == nil { opts.Sleep = backoff.Sleep }
    return &Locator{opts: opts}, nil
}

// Snapshot returns a status snapshot taken from the current primary together
// with the updated state.
//
// The cached primary is tried first and, if it still reports itself primary,
// no other host is contacted. Otherwise the remaining hosts are probed in
// order; the first one reporting itself primary becomes the cached primary.
// When no host does, Snapshot waits NoPrimaryDelay and starts over. It only
// returns an error when ctx is done.
func (l *Locator) Snapshot(ctx context.Context, st State) (replset.Snapshot, State, error) {
    ctx, end := tracing.StartSpan(ctx, "locator.snapshot", attribute.String("cached", string(st.LastPrimary)))
    defer end()

    for {
        if err := ctx.Err(); err != nil { return replset.Snapshot{}, st, err }

        if st.LastPrimary != "" {
            snap, ok, err := l.probe(ctx, st.LastPrimary)
            if err != nil { return replset.Snapshot{}, st, err }
            if ok { return snap, st, nil }
        }

        hosts := l.opts.Discovery.Hosts()
        for _, host := range hosts {
            if host == st.LastPrimary { continue }
            snap, ok, err := l.probe(ctx, host)
            if err != nil { return replset.Snapshot{}, st, err }
            if !ok { continue }
            old := st.LastPrimary
            st.LastPrimary = host
            obsmetrics.PrimaryChanges.Inc()
            logutil.Infof(l.opts.Logger, "primary is now %s (previously %q)", host, old)
            if l.opts.OnPrimaryChange != nil { l.opts.OnPrimaryChange(old, host) }
            return snap, st, nil
        }

        obsmetrics.NoPrimaryRetries.Inc()
        logutil.Warnf(l.opts.Logger, "no primary among %d hosts, retrying in %s", len(hosts), l.opts.NoPrimaryDelay)
        if l.opts.OnNoPrimary != nil { l.opts.OnNoPrimary(len(hosts)) }
        if err := l.opts.Sleep(ctx, l.opts.NoPrimaryDelay); err != nil { return replset.Snapshot{}, st, err }
    }
}

// probe connects to host and, if it claims to be primary, returns its status
// snapshot. ok is false for every host-level failure; err is only ctx.Err().
//
// A command failing on a cached connection evicts it and the host is dialed
// again with the full retry budget.
func (l *Locator) probe(ctx context.Context, host replset.HostAddress) (replset.Snapshot, bool, error) {
    cached := l.opts.Conns.Cached(host)
    snap, ok, evicted, err := l.query(ctx, host)
    if err != nil || !evicted || !cached { return snap, ok, err }
    logutil.Infof(l.opts.Logger, "cached connection to %s went bad, redialing", host)
    snap, ok, _, err = l.query(ctx, host)
    return snap, ok, err
}

// query runs one role check and status fetch against host. evicted reports
// that a command failed and the connection was dropped from the cache.
func (l *Locator) query(ctx context.Context, host replset.HostAddress) (snap replset.Snapshot, ok, evicted bool, err error) {
    conn, err := l.opts.Conns.Connect(ctx, host)
    if err != nil {
        if ctxErr := ctx.Err(); ctxErr != nil { return replset.Snapshot{}, false, false, ctxErr }
        var uerr *connmgr.UnreachableError
        if errors.As(err, &uerr) {
            l.reportUnreachable(ctx, host, uerr)
        } else {
            logutil.Errorf(l.opts.Logger, "connect to %s: %v", host, err)
        }
        return replset.Snapshot{}, false, false, nil
    }

    isPrimary, err := conn.IsPrimary(ctx)
    if err != nil {
        if ctxErr := ctx.Err(); ctxErr != nil { return replset.Snapshot{}, false, false, ctxErr }
        logutil.Warnf(l.opts.Logger, "role check on %s failed: %v", host, err)
        l.opts.Conns.Evict(host)
        return replset.Snapshot{}, false, true, nil
    }
    if !isPrimary {
        logutil.Debugf(l.opts.Logger, "%s is not primary", host)
        return replset.Snapshot{}, false, false, nil
    }

    snap, err = conn.Status(ctx)
    if err != nil {
        if ctxErr := ctx.Err(); ctxErr != nil { return replset.Snapshot{}, false, false, ctxErr }
        logutil.Warnf(l.opts.Logger, "status query on %s failed: %v", host, err)
        l.opts.Conns.Evict(host)
        return replset.Snapshot{}, false, true, nil
    }
    if _, ok := snap.Primary(); !ok {
        logutil.Warnf(l.opts.Logger, "status from %s lists no primary, discarding snapshot", host)
        return replset.Snapshot{}, false, false, nil
    }
    return snap, true, false, nil
}

func (l *Locator) reportUnreachable(ctx context.Context, host replset.HostAddress, uerr *connmgr.UnreachableError) {
    msg := fmt.Sprintf("All %d attempts to connect to hostname %q failed. Host may be down.", uerr.Attempts, host)
    if err := l.opts.Notifier.Notify(ctx, notify.Alert{Subject: notify.HostDownSubject(string(host)), Message: msg}); err != nil {
        obsmetrics.Alerts.WithLabelValues("host_down", "error").Inc()
        logutil.Errorf(l.opts.Logger, "alert for unreachable host %s not delivered: %v", host, err)
    } else {
        obsmetrics.Alerts.WithLabelValues("host_down", "sent").Inc()
    }
    if l.opts.OnUnreachable != nil { l.opts.OnUnreachable(host, uerr) }
}

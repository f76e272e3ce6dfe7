package monitor

import (
    "context"
    "errors"
    "fmt"
    "log"
    "strings"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-replmon/pkg/internal/backoff"
    "github.com/amirimatin/go-replmon/pkg/internal/logutil"
    "github.com/amirimatin/go-replmon/pkg/lag"
    "github.com/amirimatin/go-replmon/pkg/locator"
    "github.com/amirimatin/go-replmon/pkg/notify"
    obsmetrics "github.com/amirimatin/go-replmon/pkg/observability/metrics"
    "github.com/amirimatin/go-replmon/pkg/observability/tracing"
    "github.com/amirimatin/go-replmon/pkg/replset"
    "github.com/amirimatin/go-replmon/pkg/state"
)

const (
    DefaultPollInterval = 5 * time.Second
    DefaultLagThreshold = 30 * time.Second
)

// Snapshotter is satisfied by *locator.Locator.
type Snapshotter interface {
    Snapshot(ctx context.Context, st locator.State) (replset.Snapshot, locator.State, error)
}

// Options configures a Monitor.
type Options struct {
    Locator  Snapshotter
    Notifier notify.Notifier
    // Store persists the last confirmed primary. Optional.
    Store  state.Store
    Logger *log.Logger

    PollInterval time.Duration
    LagThreshold time.Duration
    Sleep        backoff.SleepFunc
}

// Validate checks required fields without side effects.
func (o Options) Validate() error {
    if o.Locator == nil { return errors.New("monitor: nil Locator") }
    if o.Notifier == nil { return errors.New("monitor: nil Notifier") }
    return nil
}

// Monitor runs the poll cycle: locate the primary, compute member lags and
// send one alert per cycle covering every member beyond the threshold.
type Monitor struct {
    opts Options
    // st is only touched by the goroutine running Cycle/Run.
    st locator.State
    eb eventBus

    mu     sync.RWMutex
    status Status
}

// New builds a Monitor, seeding the cached primary from opts.Store.
func New(opts Options) (*Monitor, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.PollInterval <= 0 { opts.PollInterval = DefaultPollInterval }
    if opts.LagThreshold <= 0 { opts.LagThreshold = DefaultLagThreshold }
    if opts.Sleep == nil { opts.Sleep = backoff.Sleep }
    m := &Monitor{opts: opts}
    m.status.LagThreshold = opts.LagThreshold.Seconds()
    if opts.Store != nil {
        p, err := opts.Store.LoadPrimary()
        if err != nil {
            logutil.Warnf(opts.Logger, "ignoring persisted primary: %v", err)
        } else if p != "" {
            m.st.LastPrimary = p
            logutil.Infof(opts.Logger, "starting with persisted primary %s", p)
        }
    }
    return m, nil
}

// Run executes cycles every PollInterval until ctx is done. Failures inside
// a cycle are logged and never stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
    logutil.Infof(m.opts.Logger, "monitoring replication lag every %s (threshold %s)", m.opts.PollInterval, m.opts.LagThreshold)
    for {
        if _, err := m.Cycle(ctx); err != nil {
            if ctx.Err() != nil { return nil }
            logutil.Errorf(m.opts.Logger, "monitor cycle: %v", err)
        }
        if err := m.opts.Sleep(ctx, m.opts.PollInterval); err != nil {
            logutil.Infof(m.opts.Logger, "monitor stopped")
            return nil
        }
    }
}

// Cycle performs a single poll: it blocks in discovery until a primary is
// found (or ctx is done), evaluates lag and dispatches at most one alert.
func (m *Monitor) Cycle(ctx context.Context) (Status, error) {
    ctx, end := tracing.StartSpan(ctx, "monitor.cycle")
    defer end()

    snap, st, err := m.opts.Locator.Snapshot(ctx, m.st)
    if err != nil {
        tracing.Fail(ctx, err)
        if ctx.Err() == nil { m.markUnhealthy() }
        return Status{}, err
    }
    if st.LastPrimary != m.st.LastPrimary { m.primaryChanged(m.st.LastPrimary, st.LastPrimary) }
    m.st = st

    lags, err := lag.Compute(snap)
    if err != nil {
        tracing.Fail(ctx, err)
        m.markUnhealthy()
        return Status{}, fmt.Errorf("monitor: snapshot from %s: %w", st.LastPrimary, err)
    }

    out := Status{Healthy: true, Primary: string(st.LastPrimary), LastCycle: time.Now(), LagThreshold: m.opts.LagThreshold.Seconds()}
    for _, ml := range lag.Sorted(snap, lags) {
        name := string(ml.Member.Name)
        secs := lag.Seconds(ml.Lag)
        behind := ml.Lag > m.opts.LagThreshold
        logutil.Debugf(m.opts.Logger, "member %q is %d seconds behind the primary", name, secs)
        obsmetrics.MemberLag.WithLabelValues(name).Set(ml.Lag.Seconds())
        out.Members = append(out.Members, MemberReport{Name: name, State: ml.Member.State, LagSeconds: ml.Lag.Seconds(), Behind: behind})
        if !behind { continue }
        line := fmt.Sprintf("Member %q is %d seconds behind the primary", name, secs)
        logutil.Warnf(m.opts.Logger, "%s", line)
        out.Violations = append(out.Violations, line)
        m.eb.publish(Event{Type: EventLagExceeded, At: out.LastCycle, Host: ml.Member.Name, Lag: ml.Lag})
    }

    if len(out.Violations) > 0 {
        actx, endAlert := tracing.StartSpan(ctx, "monitor.alert", attribute.Int("violations", len(out.Violations)))
        alert := notify.Alert{Subject: notify.DefaultSubject, Message: strings.Join(out.Violations, "\n")}
        err := m.opts.Notifier.Notify(actx, alert)
        if err != nil { tracing.Fail(actx, err) }
        endAlert()
        if err != nil {
            obsmetrics.Alerts.WithLabelValues("lag", "error").Inc()
            logutil.Errorf(m.opts.Logger, "lag alert not delivered: %v", err)
        } else {
            obsmetrics.Alerts.WithLabelValues("lag", "sent").Inc()
        }
    }

    obsmetrics.Cycles.Inc()
    m.mu.Lock()
    m.status = out
    m.mu.Unlock()
    return out, nil
}

// Status returns the outcome of the most recent successful cycle. Healthy is
// cleared while no primary can be found and after a failed cycle.
func (m *Monitor) Status() Status {
    m.mu.RLock(); defer m.mu.RUnlock()
    s := m.status
    s.Members = append([]MemberReport(nil), s.Members...)
    s.Violations = append([]string(nil), s.Violations...)
    return s
}

// HostUnreachable records a host that exhausted its connection budget. It is
// wired as the locator's OnUnreachable hook.
func (m *Monitor) HostUnreachable(host replset.HostAddress, err error) {
    m.eb.publish(Event{Type: EventHostUnreachable, At: time.Now(), Host: host, Err: err})
}

// NoPrimary marks the monitor unhealthy until the next successful cycle. It
// is wired as the locator's OnNoPrimary hook.
func (m *Monitor) NoPrimary(hosts int) {
    m.mu.Lock()
    wasHealthy := m.status.Healthy
    m.status.Healthy = false
    m.mu.Unlock()
    if wasHealthy { logutil.Warnf(m.opts.Logger, "no primary among %d hosts, reporting unhealthy", hosts) }
}

func (m *Monitor) markUnhealthy() {
    m.mu.Lock(); m.status.Healthy = false; m.mu.Unlock()
}

func (m *Monitor) primaryChanged(old, cur replset.HostAddress) {
    if old != "" { obsmetrics.Primary.WithLabelValues(string(old)).Set(0) }
    obsmetrics.Primary.WithLabelValues(string(cur)).Set(1)
    if m.opts.Store != nil {
        if err := m.opts.Store.SavePrimary(cur); err != nil {
            logutil.Warnf(m.opts.Logger, "persist primary %s: %v", cur, err)
        }
    }
    m.eb.publish(Event{Type: EventPrimaryChanged, At: time.Now(), Host: cur, Previous: old})
}

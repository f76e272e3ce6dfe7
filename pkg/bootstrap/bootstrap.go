package bootstrap

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-replmon/pkg/config"
    "github.com/amirimatin/go-replmon/pkg/connmgr"
    dStatic "github.com/amirimatin/go-replmon/pkg/discovery/static"
    "github.com/amirimatin/go-replmon/pkg/internal/logutil"
    "github.com/amirimatin/go-replmon/pkg/locator"
    "github.com/amirimatin/go-replmon/pkg/monitor"
    "github.com/amirimatin/go-replmon/pkg/notify"
    "github.com/amirimatin/go-replmon/pkg/notify/smtp"
    obsmetrics "github.com/amirimatin/go-replmon/pkg/observability/metrics"
    "github.com/amirimatin/go-replmon/pkg/replset"
    "github.com/amirimatin/go-replmon/pkg/replset/mongo"
    "github.com/amirimatin/go-replmon/pkg/state"
    "github.com/amirimatin/go-replmon/pkg/transport"
    statusgrpc "github.com/amirimatin/go-replmon/pkg/transport/grpc"
    "github.com/amirimatin/go-replmon/pkg/transport/httpjson"
)

// Options overrides parts of the assembly. The zero value builds the
// production stack from the config alone.
type Options struct {
    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
    // Dialer replaces the MongoDB driver dialer.
    Dialer replset.Dialer
    // Notifier replaces the notifier derived from the mail settings.
    Notifier notify.Notifier
    // DryRun records alerts instead of sending them and skips the status
    // server and state persistence.
    DryRun bool
}

// App is an assembled monitor with its collaborators.
type App struct {
    Config  config.Config
    Monitor *monitor.Monitor
    // Alerts holds what would have been sent in a dry run.
    Alerts *notify.Recorder

    logger *log.Logger
    conns  *connmgr.Manager
    store  state.Store
    status transport.StatusServer
}

// Build assembles an App from cfg without starting anything.
func Build(cfg config.Config, opts Options) (*App, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    obsmetrics.Register()
    app := &App{Config: cfg, logger: opts.Logger}

    dialer := opts.Dialer
    if dialer == nil {
        mtls, err := cfg.Mongo.TLS.Client()
        if err != nil { return nil, err }
        dialer = mongo.NewDialer(mongo.Options{
            ConnectTimeout: cfg.ConnectTimeout.Std(),
            Username:       cfg.Mongo.Username,
            Password:       cfg.Mongo.Password,
            AuthSource:     cfg.Mongo.AuthSource,
            TLS:            mtls,
        })
    }

    notifier := opts.Notifier
    switch {
    case opts.DryRun:
        app.Alerts = &notify.Recorder{}
        notifier = app.Alerts
    case notifier != nil:
    case cfg.Mail.Enabled():
        n, err := smtp.New(smtp.Options{
            From:       cfg.Mail.FromEmail,
            Recipients: cfg.Mail.Recipients,
            Host:       cfg.Mail.SMTPHost,
            Port:       cfg.Mail.SMTPPort,
            Username:   cfg.Mail.Username,
            Password:   cfg.Mail.Password,
        })
        if err != nil { return nil, err }
        notifier = notify.Multi{notify.Log{Logger: opts.Logger}, n}
    default:
        logutil.Warnf(opts.Logger, "no mail recipients configured, alerts are only logged")
        notifier = notify.Log{Logger: opts.Logger}
    }

    conns, err := connmgr.New(connmgr.Options{
        Dialer:     dialer,
        MaxRetries: cfg.MaxConnectRetries,
        RetryDelay: cfg.RetryDelay.Std(),
        Logger:     opts.Logger,
    })
    if err != nil { return nil, err }
    app.conns = conns

    switch {
    case opts.DryRun:
    case cfg.StateDir != "":
        st, err := state.Open(cfg.StateDir)
        if err != nil { _ = conns.Close(); return nil, err }
        app.store = st
    default:
        app.store = state.NewMemory()
    }

    // the locator hook needs the monitor, which needs the locator
    var mon *monitor.Monitor
    loc, err := locator.New(locator.Options{
        Discovery:      dStatic.New(cfg.Hosts...),
        Conns:          conns,
        Notifier:       notifier,
        Logger:         opts.Logger,
        NoPrimaryDelay: cfg.NoPrimaryDelay.Std(),
        OnUnreachable: func(host replset.HostAddress, err error) {
            if mon != nil { mon.HostUnreachable(host, err) }
        },
        OnNoPrimary: func(hosts int) {
            if mon != nil { mon.NoPrimary(hosts) }
        },
    })
    if err != nil { app.Close(); return nil, err }
    mon, err = monitor.New(monitor.Options{
        Locator:      loc,
        Notifier:     notifier,
        Store:        app.store,
        Logger:       opts.Logger,
        PollInterval: cfg.PollInterval.Std(),
        LagThreshold: cfg.LagThreshold.Std(),
    })
    if err != nil { app.Close(); return nil, err }
    app.Monitor = mon

    if cfg.Status.Addr != "" && !opts.DryRun {
        srvTLS, err := cfg.Status.TLS.Server()
        if err != nil { app.Close(); return nil, err }
        switch cfg.Status.Proto {
        case "grpc":
            s := statusgrpc.NewServer(cfg.Status.Addr)
            if srvTLS != nil { s.UseTLS(srvTLS) }
            app.status = s
        default:
            s := httpjson.NewServer(cfg.Status.Addr, opts.Logger)
            if srvTLS != nil { s.UseTLS(srvTLS) }
            app.status = s
        }
    }
    return app, nil
}

// Handlers exposes the monitor through the transport callbacks.
func (a *App) Handlers() transport.Handlers {
    return transport.Handlers{
        Status: func(context.Context) ([]byte, error) { return json.Marshal(a.Monitor.Status()) },
        Healthy: func() bool { return a.Monitor.Status().Healthy },
        Events: func(ctx context.Context) <-chan transport.EventMessage {
            in := a.Monitor.Subscribe(ctx)
            out := make(chan transport.EventMessage, cap(in))
            go func() {
                defer close(out)
                for ev := range in {
                    msg := transport.EventMessage{Type: string(ev.Type), At: ev.At, Host: string(ev.Host), Previous: string(ev.Previous), LagSeconds: ev.Lag.Seconds()}
                    if ev.Err != nil { msg.Error = ev.Err.Error() }
                    select {
                    case out <- msg:
                    case <-ctx.Done():
                        return
                    }
                }
            }()
            return out
        },
    }
}

// Run starts the status server, if configured, and runs the monitor until ctx
// is done.
func (a *App) Run(ctx context.Context) error {
    if a.status != nil {
        if err := a.status.Start(ctx, a.Handlers()); err != nil { return err }
    }
    return a.Monitor.Run(ctx)
}

// Report is the outcome of Check: the cycle status and, on a dry-run App,
// every alert the cycle would have sent.
type Report struct {
    Status monitor.Status `json:"status"`
    Alerts []notify.Alert `json:"alerts"`
}

// Check runs a single cycle. Call it on a dry-run App to avoid sending alerts.
func (a *App) Check(ctx context.Context) (Report, error) {
    st, err := a.Monitor.Cycle(ctx)
    if err != nil { return Report{}, err }
    rep := Report{Status: st, Alerts: []notify.Alert{}}
    if a.Alerts != nil { rep.Alerts = append(rep.Alerts, a.Alerts.Alerts()...) }
    return rep, nil
}

// Close releases connections, the state store and the status server.
func (a *App) Close() error {
    var errs []error
    if a.status != nil {
        c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        errs = append(errs, a.status.Stop(c))
        cancel()
    }
    if a.conns != nil { errs = append(errs, a.conns.Close()) }
    if a.store != nil { errs = append(errs, a.store.Close()) }
    return errors.Join(errs...)
}

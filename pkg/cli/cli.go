package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-replmon/pkg/bootstrap"
    "github.com/amirimatin/go-replmon/pkg/config"
    "github.com/amirimatin/go-replmon/pkg/daemon"
    "github.com/amirimatin/go-replmon/pkg/discovery/static"
    "github.com/amirimatin/go-replmon/pkg/internal/logutil"
    tracing "github.com/amirimatin/go-replmon/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-replmon/pkg/security/tlsconfig"
    "github.com/amirimatin/go-replmon/pkg/transport"
    statusgrpc "github.com/amirimatin/go-replmon/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-replmon/pkg/transport/httpjson"
)

// AddAll attaches the daemon and inspection subcommands to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewStartCmd())
    root.AddCommand(NewStopCmd())
    root.AddCommand(NewRestartCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewWatchCmd())
    root.AddCommand(NewCheckCmd())
}

// NewStartCmd returns the "start" command, which runs the monitor in the
// foreground until SIGINT or SIGTERM.
func NewStartCmd() *cobra.Command {
    var cfgPath, hosts string
    var traceEnable bool
    cmd := &cobra.Command{
        Use:   "start",
        Short: "Start the replication monitor",
        RunE: func(cmd *cobra.Command, args []string) error {
            return start(cfgPath, hosts, traceEnable)
        },
    }
    cmd.Flags().StringVar(&cfgPath, "config", "", "path to the YAML config file (required)")
    cmd.Flags().StringVar(&hosts, "hosts", "", hostsUsage)
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (overrides config)")
    _ = cmd.MarkFlagRequired("config")
    return cmd
}

// NewStopCmd returns the "stop" command.
func NewStopCmd() *cobra.Command {
    var cfgPath string
    var timeout time.Duration
    cmd := &cobra.Command{
        Use:   "stop",
        Short: "Stop a running replication monitor",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := config.Load(cfgPath)
            if err != nil { return err }
            return stop(cfg, timeout)
        },
    }
    cmd.Flags().StringVar(&cfgPath, "config", "", "path to the YAML config file (required)")
    cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the process to exit")
    _ = cmd.MarkFlagRequired("config")
    return cmd
}

// NewRestartCmd returns the "restart" command: stop, ignoring a monitor that
// is not running, then start.
func NewRestartCmd() *cobra.Command {
    var cfgPath, hosts string
    var timeout time.Duration
    var traceEnable bool
    cmd := &cobra.Command{
        Use:   "restart",
        Short: "Restart the replication monitor",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := loadConfig(cfgPath, hosts)
            if err != nil { return err }
            if err := stop(cfg, timeout); err != nil && !errors.Is(err, daemon.ErrNotRunning) { return err }
            return start(cfgPath, hosts, traceEnable)
        },
    }
    cmd.Flags().StringVar(&cfgPath, "config", "", "path to the YAML config file (required)")
    cmd.Flags().StringVar(&hosts, "hosts", "", hostsUsage)
    cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the old process to exit")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (overrides config)")
    _ = cmd.MarkFlagRequired("config")
    return cmd
}

// NewCheckCmd returns the "check" command, which runs one discovery and lag
// cycle without sending alerts and prints the status together with the
// alerts that would have gone out.
func NewCheckCmd() *cobra.Command {
    var cfgPath, hosts string
    var timeout time.Duration
    cmd := &cobra.Command{
        Use:   "check",
        Short: "Run one monitoring cycle and print the result",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := loadConfig(cfgPath, hosts)
            if err != nil { return err }
            logger, closeLog, err := setupLogging(cfg, false)
            if err != nil { return err }
            defer closeLog()

            ctx, cancel := signalContext()
            defer cancel()
            ctx, cancelT := context.WithTimeout(ctx, timeout)
            defer cancelT()
            return runCheck(ctx, cfg, bootstrap.Options{Logger: logger}, cmd.OutOrStdout())
        },
    }
    cmd.Flags().StringVar(&cfgPath, "config", "", "path to the YAML config file (required)")
    cmd.Flags().StringVar(&hosts, "hosts", "", hostsUsage)
    cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up if no primary is found in time")
    _ = cmd.MarkFlagRequired("config")
    return cmd
}

// runCheck builds a dry-run App from cfg, runs one cycle and writes the
// report as indented JSON to w.
func runCheck(ctx context.Context, cfg config.Config, opts bootstrap.Options, w io.Writer) error {
    opts.DryRun = true
    app, err := bootstrap.Build(cfg, opts)
    if err != nil { return err }
    defer app.Close()

    rep, err := app.Check(ctx)
    if err != nil { return fmt.Errorf("check: %w", err) }
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(rep)
}

const hostsUsage = "comma-separated host:port list replacing the configured hosts"

// loadConfig reads the config file and, when hosts is set, replaces the
// configured host list with it.
func loadConfig(path, hosts string) (config.Config, error) {
    cfg, err := config.Load(path)
    if err != nil { return config.Config{}, err }
    if hosts == "" { return cfg, nil }
    cfg.Hosts = static.Parse(hosts)
    if err := cfg.Validate(); err != nil { return config.Config{}, fmt.Errorf("--hosts: %w", err) }
    return cfg, nil
}

type clientFlags struct {
    addr, proto                          string
    timeout                              time.Duration
    tlsEnable, tlsSkip                   bool
    tlsCA, tlsCert, tlsKey, tlsServerName string
}

func (f *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:9108", "status address of a running monitor (host:port)")
    cmd.Flags().StringVar(&f.proto, "proto", "http", "status protocol: http|grpc")
    cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Second, "request timeout")
    cmd.Flags().BoolVar(&f.tlsEnable, "tls-enable", false, "use TLS for the status transport")
    cmd.Flags().StringVar(&f.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&f.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&f.tlsKey, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&f.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&f.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

type statusClient interface {
    transport.StatusClient
    transport.EventWatcher
}

func (f *clientFlags) client() (statusClient, error) {
    var cliTLS *tls.Config
    if f.tlsEnable {
        topts := tlsx.Options{Enable: true, CAFile: f.tlsCA, CertFile: f.tlsCert, KeyFile: f.tlsKey, InsecureSkipVerify: f.tlsSkip, ServerName: f.tlsServerName}
        var err error
        cliTLS, err = topts.Client()
        if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    }
    switch f.proto {
    case "grpc":
        c := statusgrpc.NewClient(f.timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, nil
    case "http":
        c := httpjson.NewClient(f.timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, nil
    default:
        return nil, fmt.Errorf("unknown protocol %q", f.proto)
    }
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch the status of a running monitor as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, f.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            out := cmd.OutOrStdout()
            _, _ = out.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { _, _ = out.Write([]byte("\n")) }
            return nil
        },
    }
    f.register(cmd)
    return cmd
}

// NewWatchCmd returns the "watch" command, which prints monitor events as
// JSON lines until interrupted.
func NewWatchCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "watch",
        Short: "Stream events from a running monitor",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            enc := json.NewEncoder(cmd.OutOrStdout())
            return client.Watch(ctx, f.addr, func(ev transport.EventMessage) { _ = enc.Encode(ev) })
        },
    }
    f.register(cmd)
    return cmd
}

func start(cfgPath, hosts string, traceFlag bool) error {
    cfg, err := loadConfig(cfgPath, hosts)
    if err != nil { return err }
    logger, closeLog, err := setupLogging(cfg, true)
    if err != nil { return err }
    defer closeLog()

    pid := daemon.PIDFile{Path: cfg.PIDFile}
    if err := pid.Acquire(); err != nil { return err }
    defer func() {
        if err := pid.Release(); err != nil { logutil.Warnf(logger, "remove pidfile: %v", err) }
    }()

    ctx, cancel := signalContext()
    defer cancel()

    if traceFlag || cfg.Trace {
        shutdown, err := tracing.Setup(true, nil)
        if err != nil {
            logutil.Warnf(logger, "tracing setup error: %v", err)
        } else {
            defer func() { _ = shutdown(context.Background()) }()
        }
    }

    app, err := bootstrap.Build(cfg, bootstrap.Options{Logger: logger})
    if err != nil { return err }
    defer app.Close()

    logutil.Infof(logger, "replmon started (pid %d, %d hosts)", os.Getpid(), len(cfg.Hosts))
    err = app.Run(ctx)
    logutil.Infof(logger, "replmon stopped")
    return err
}

func stop(cfg config.Config, timeout time.Duration) error {
    ctx, cancel := context.WithTimeout(context.Background(), timeout)
    defer cancel()
    if err := (daemon.PIDFile{Path: cfg.PIDFile}).Stop(ctx, 0); err != nil { return err }
    fmt.Println("replmon stopped")
    return nil
}

// setupLogging applies the configured level and format and returns a logger
// writing to the log file (append) or stderr. Only the daemon writes to the
// log file.
func setupLogging(cfg config.Config, useFile bool) (*log.Logger, func(), error) {
    if err := logutil.SetLevel(cfg.LogLevel); err != nil { return nil, nil, err }
    if cfg.LogFormat == "json" { logutil.SetJSON(true) }
    var w io.Writer = os.Stderr
    closeFn := func() {}
    if useFile && cfg.LogFile != "" {
        f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
        if err != nil { return nil, nil, fmt.Errorf("open log file: %w", err) }
        w = f
        closeFn = func() { _ = f.Close() }
    }
    flags := log.LstdFlags
    if cfg.LogFormat == "json" { flags = 0 }
    return log.New(w, "", flags), closeFn, nil
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        defer signal.Stop(ch)
        select {
        case <-ch:
            cancel()
        case <-ctx.Done():
        }
    }()
    return ctx, cancel
}

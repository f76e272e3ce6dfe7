// Package config loads the daemon's YAML configuration file.
package config

import (
    "bytes"
    "errors"
    "fmt"
    "io"
    "net"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"
    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-replmon/pkg/security/tlsconfig"
)

var validate = validator.New()

// Duration accepts a Go duration string ("30s", "1m") or a bare integer
// number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
    if n.Kind != yaml.ScalarNode { return fmt.Errorf("line %d: duration must be a scalar", n.Line) }
    s := strings.TrimSpace(n.Value)
    if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
        *d = Duration(time.Duration(secs) * time.Second)
        return nil
    }
    v, err := time.ParseDuration(s)
    if err != nil { return fmt.Errorf("line %d: invalid duration %q", n.Line, s) }
    *d = Duration(v)
    return nil
}

type Mongo struct {
    Username   string            `yaml:"username"`
    Password   string            `yaml:"password"`
    AuthSource string            `yaml:"auth_source"`
    TLS        tlsconfig.Options `yaml:"tls"`
}

type Mail struct {
    FromEmail  string   `yaml:"from_email" validate:"required_with=Recipients,omitempty,email"`
    Recipients []string `yaml:"recipients" validate:"dive,email"`
    SMTPHost   string   `yaml:"smtp_host" validate:"required_with=Recipients"`
    SMTPPort   int      `yaml:"smtp_port" validate:"min=1,max=65535"`
    Username   string   `yaml:"username"`
    Password   string   `yaml:"password"`
}

// Enabled reports whether lag alerts go out by mail.
func (m Mail) Enabled() bool { return len(m.Recipients) > 0 }

type Status struct {
    // Addr is the listen address; empty disables the status server.
    Addr  string            `yaml:"addr"`
    Proto string            `yaml:"proto" validate:"oneof=http grpc"`
    TLS   tlsconfig.Options `yaml:"tls"`
}

type Config struct {
    Hosts             []string `yaml:"hosts" validate:"required,min=1,dive,required"`
    PollInterval      Duration `yaml:"poll_interval" validate:"gt=0"`
    LagThreshold      Duration `yaml:"lag_threshold" validate:"gt=0"`
    MaxConnectRetries int      `yaml:"max_connect_retries" validate:"min=1"`
    RetryDelay        Duration `yaml:"retry_delay" validate:"gt=0"`
    NoPrimaryDelay    Duration `yaml:"no_primary_delay" validate:"gt=0"`
    ConnectTimeout    Duration `yaml:"connect_timeout" validate:"gt=0"`

    LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
    LogFormat string `yaml:"log_format" validate:"oneof=text json"`
    PIDFile   string `yaml:"pidfile" validate:"required"`
    LogFile   string `yaml:"logfile"`
    StateDir  string `yaml:"state_dir"`
    Trace     bool   `yaml:"trace"`

    Mongo  Mongo  `yaml:"mongo"`
    Mail   Mail   `yaml:"mail"`
    Status Status `yaml:"status"`
}

// Default returns a Config with every optional field set. Hosts is empty.
func Default() Config {
    return Config{
        PollInterval:      Duration(5 * time.Second),
        LagThreshold:      Duration(30 * time.Second),
        MaxConnectRetries: 5,
        RetryDelay:        Duration(5 * time.Second),
        NoPrimaryDelay:    Duration(5 * time.Second),
        ConnectTimeout:    Duration(10 * time.Second),
        LogLevel:          "info",
        LogFormat:         "text",
        PIDFile:           "/tmp/replication_status.pid",
        Mongo:             Mongo{AuthSource: "admin"},
        Mail:              Mail{SMTPPort: 25},
        Status:            Status{Proto: "http"},
    }
}

// Load reads path over Default and validates the result. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
    b, err := os.ReadFile(path)
    if err != nil { return Config{}, fmt.Errorf("config: %w", err) }
    cfg, err := Parse(b)
    if err != nil { return Config{}, fmt.Errorf("config: %s: %w", path, err) }
    return cfg, nil
}

// Parse decodes YAML bytes over Default and validates the result.
func Parse(b []byte) (Config, error) {
    cfg := Default()
    dec := yaml.NewDecoder(bytes.NewReader(b))
    dec.KnownFields(true)
    if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) { return Config{}, err }
    if err := cfg.Validate(); err != nil { return Config{}, err }
    return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
    if err := validate.Struct(c); err != nil { return formatValidationError(err) }
    if err := c.Mongo.TLS.Validate(); err != nil { return fmt.Errorf("mongo.%w", err) }
    if c.Status.Addr != "" {
        if _, _, err := net.SplitHostPort(c.Status.Addr); err != nil { return fmt.Errorf("status.addr: %w", err) }
        if err := c.Status.TLS.Validate(); err != nil { return fmt.Errorf("status.%w", err) }
    }
    return nil
}

func formatValidationError(err error) error {
    var verrs validator.ValidationErrors
    if !errors.As(err, &verrs) { return err }
    e := verrs[0]
    field := yamlPath(e.Namespace())
    switch e.Tag() {
    case "required", "required_with":
        return fmt.Errorf("%s: field is required", field)
    case "min", "gte":
        return fmt.Errorf("%s: must be at least %s", field, e.Param())
    case "max":
        return fmt.Errorf("%s: must not exceed %s", field, e.Param())
    case "gt":
        return fmt.Errorf("%s: must be positive", field)
    case "oneof":
        return fmt.Errorf("%s: must be one of [%s], got %q", field, e.Param(), e.Value())
    case "email":
        return fmt.Errorf("%s: invalid email address %q", field, e.Value())
    default:
        return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
    }
}

// yamlPath turns "Config.Mail.SMTPHost" into "mail.smtp_host".
func yamlPath(ns string) string {
    parts := strings.Split(ns, ".")
    if len(parts) > 1 { parts = parts[1:] }
    for i, p := range parts {
        idx := ""
        if j := strings.IndexByte(p, '['); j >= 0 { p, idx = p[:j], p[j:] }
        parts[i] = yamlKeys[p] + idx
        if yamlKeys[p] == "" { parts[i] = strings.ToLower(p) + idx }
    }
    return strings.Join(parts, ".")
}

var yamlKeys = map[string]string{
    "Hosts": "hosts", "PollInterval": "poll_interval", "LagThreshold": "lag_threshold",
    "MaxConnectRetries": "max_connect_retries", "RetryDelay": "retry_delay",
    "NoPrimaryDelay": "no_primary_delay", "ConnectTimeout": "connect_timeout",
    "LogLevel": "log_level", "LogFormat": "log_format", "PIDFile": "pidfile",
    "FromEmail": "from_email", "Recipients": "recipients", "SMTPHost": "smtp_host",
    "SMTPPort": "smtp_port", "Proto": "proto",
}

package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

// Level orders log verbosity; messages below the configured level are dropped.
type Level int32

const (
    LevelDebug Level = iota
    LevelInfo
    LevelWarn
    LevelError
)

var (
    jsonMode atomic.Bool
    minLevel atomic.Int32
)

func init() {
    minLevel.Store(int32(LevelInfo))
    if os.Getenv("REPLMON_LOG_JSON") == "1" || os.Getenv("REPLMON_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

func prefix(l *log.Logger, p string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), p, l.Flags())
}

func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// ParseLevel maps debug|info|warn|warning|error to a Level.
func ParseLevel(s string) (Level, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return LevelDebug, nil
    case "", "info":
        return LevelInfo, nil
    case "warn", "warning":
        return LevelWarn, nil
    case "error":
        return LevelError, nil
    }
    return LevelInfo, fmt.Errorf("logutil: unknown level %q", s)
}

// SetLevel sets the process-wide minimum level from its name.
func SetLevel(name string) error {
    lvl, err := ParseLevel(name)
    if err != nil { return err }
    minLevel.Store(int32(lvl))
    return nil
}

// Enabled reports whether messages at lvl are currently emitted.
func Enabled(lvl Level) bool { return int32(lvl) >= minLevel.Load() }

func Debugf(l *log.Logger, f string, args ...any) { logf(l, LevelDebug, f, args...) }
func Infof(l *log.Logger, f string, args ...any)  { logf(l, LevelInfo, f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, LevelWarn, f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, LevelError, f, args...) }

func (lvl Level) String() string {
    switch lvl {
    case LevelDebug:
        return "debug"
    case LevelInfo:
        return "info"
    case LevelWarn:
        return "warn"
    default:
        return "error"
    }
}

func logf(l *log.Logger, level Level, f string, args ...any) {
    if !Enabled(level) { return }
    if jsonMode.Load() {
        msg := fmt.Sprintf(f, args...)
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level.String(),
            "msg":   msg,
        }
        b, _ := json.Marshal(evt)
        if l == nil { l = log.Default() }
        l.Println(string(b))
        return
    }
    prefix(l, strings.ToUpper(level.String())+" ").Printf(f, args...)
}

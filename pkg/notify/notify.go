package notify

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"

    "github.com/amirimatin/go-replmon/pkg/internal/logutil"
)

// DefaultSubject is used for replication lag alerts.
const DefaultSubject = "[ALERT] Replication Status Warning"

// HostDownSubject is the subject of the alert raised for an unreachable host.
func HostDownSubject(host string) string { return fmt.Sprintf("[ALERT] Host %s may be down", host) }

// Alert is a single notification. It has no identity and is not persisted.
type Alert struct {
    Subject string `json:"subject"`
    Message string `json:"message"`
}

// Notifier delivers alerts to operators. Implementations decide the transport.
type Notifier interface {
    Notify(ctx context.Context, a Alert) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, a Alert) error

func (f Func) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// Log writes alerts to a logger at error level. It is used when no mail
// recipients are configured.
type Log struct {
    Logger *log.Logger
}

func (l Log) Notify(_ context.Context, a Alert) error {
    logutil.Errorf(l.Logger, "%s: %s", a.Subject, a.Message)
    return nil
}

// Multi fans an alert out to every notifier, returning the joined errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
    var errs []error
    for _, n := range m {
        if n == nil { continue }
        if err := n.Notify(ctx, a); err != nil { errs = append(errs, err) }
    }
    return errors.Join(errs...)
}

// Recorder keeps every alert it receives. Useful in tests and dry runs.
type Recorder struct {
    mu     sync.Mutex
    alerts []Alert
}

func (r *Recorder) Notify(_ context.Context, a Alert) error {
    r.mu.Lock(); defer r.mu.Unlock()
    r.alerts = append(r.alerts, a)
    return nil
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
    r.mu.Lock(); defer r.mu.Unlock()
    return append([]Alert(nil), r.alerts...)
}

package monitor

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-replmon/pkg/replset"
)

type EventType string

const (
    EventPrimaryChanged  EventType = "primary_changed"
    EventHostUnreachable EventType = "host_unreachable"
    EventLagExceeded     EventType = "lag_exceeded"
)

// Event describes an observation made by the monitor. Only the fields
// relevant to the type are populated.
type Event struct {
    Type     EventType
    At       time.Time
    Host     replset.HostAddress
    Previous replset.HostAddress
    Lag      time.Duration
    Err      error
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events are dropped for consumers that
// fall behind.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    m.eb.add(ch)
    go func() {
        <-ctx.Done()
        m.eb.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}

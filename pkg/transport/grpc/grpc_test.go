package grpc

import (
    "context"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/amirimatin/go-replmon/pkg/transport"
)

func start(t *testing.T, h transport.Handlers) *Server {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    s := NewServer("127.0.0.1:0")
    if err := s.Start(ctx, h); err != nil { t.Fatalf("start: %v", err) }
    return s
}

func TestGetStatusAndHealth(t *testing.T) {
    healthPoll = 10 * time.Millisecond
    var healthy atomic.Bool
    s := start(t, transport.Handlers{
        Status:  func(context.Context) ([]byte, error) { return []byte(`{"primary":"db1:27017"}`), nil },
        Healthy: healthy.Load,
    })
    c := NewClient(2 * time.Second)

    b, err := c.GetStatus(context.Background(), s.Addr())
    if err != nil { t.Fatalf("get status: %v", err) }
    if !strings.Contains(string(b), "db1:27017") { t.Fatalf("status = %s", b) }

    ok, err := c.Healthy(context.Background(), s.Addr())
    if err != nil { t.Fatalf("health: %v", err) }
    if ok { t.Fatalf("serving before a primary is known") }

    healthy.Store(true)
    deadline := time.Now().Add(2 * time.Second)
    for {
        ok, err = c.Healthy(context.Background(), s.Addr())
        if err == nil && ok { break }
        if time.Now().After(deadline) { t.Fatalf("never became SERVING: %v", err) }
        time.Sleep(10 * time.Millisecond)
    }
}

func TestWatch(t *testing.T) {
    s := start(t, transport.Handlers{
        Status: func(context.Context) ([]byte, error) { return []byte(`{}`), nil },
        Events: func(ctx context.Context) <-chan transport.EventMessage {
            out := make(chan transport.EventMessage, 1)
            out <- transport.EventMessage{Type: "host_unreachable", Host: "db2:27017", Error: "refused"}
            close(out)
            return out
        },
    })
    var got []transport.EventMessage
    err := NewClient(2*time.Second).Watch(context.Background(), s.Addr(), func(ev transport.EventMessage) { got = append(got, ev) })
    if err != nil { t.Fatalf("watch: %v", err) }
    if len(got) != 1 || got[0].Type != "host_unreachable" || got[0].Host != "db2:27017" { t.Fatalf("events = %+v", got) }
}

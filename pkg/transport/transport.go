// Package transport defines the status surface served by the monitor over
// HTTP/JSON (package httpjson) or gRPC with a JSON codec (package grpc).
package transport

import (
    "context"
    "time"
)

// StatusFunc returns the JSON-encoded monitor status. Using []byte keeps this
// package free of monitor types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// HealthFunc reports whether the monitor currently knows a primary.
type HealthFunc func() bool

// EventsFunc subscribes to monitor events until ctx is done.
type EventsFunc func(ctx context.Context) <-chan EventMessage

// EventMessage is the wire form of a monitor event.
type EventMessage struct {
    Type       string    `json:"type"`
    At         time.Time `json:"at"`
    Host       string    `json:"host,omitempty"`
    Previous   string    `json:"previous,omitempty"`
    LagSeconds float64   `json:"lagSeconds,omitempty"`
    Error      string    `json:"error,omitempty"`
}

// Handlers backs a StatusServer. Events is optional.
type Handlers struct {
    Status  StatusFunc
    Healthy HealthFunc
    Events  EventsFunc
}

// StatusServer exposes the monitor status to operators and probes.
type StatusServer interface {
    Start(ctx context.Context, h Handlers) error
    // Addr returns the bound address once started.
    Addr() string
    Stop(ctx context.Context) error
}

// StatusClient fetches the status document from a running monitor.
type StatusClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
}

// EventWatcher streams monitor events from a running monitor. It blocks until
// the stream ends or ctx is done.
type EventWatcher interface {
    Watch(ctx context.Context, addr string, onEvent func(EventMessage)) error
}

// Package replsettest provides an in-memory replica set for tests.
package replsettest

import (
    "context"
    "errors"
    "sync"
    "time"

    "github.com/amirimatin/go-replmon/pkg/replset"
)

// ErrRefused is returned by Dial for hosts marked down.
var ErrRefused = errors.New("replsettest: connection refused")

// Host is the simulated state of one member.
type Host struct {
    Primary bool
    // Down makes every Dial to the host fail.
    Down bool
    // FailDials makes the next FailDials dials fail before succeeding.
    FailDials int
    // StatusErr is returned by Status when set.
    StatusErr error
    // FailStatus makes the next FailStatus Status calls fail.
    FailStatus int
}

// Cluster is a fake replica set implementing replset.Dialer. All methods are
// safe for concurrent use.
type Cluster struct {
    mu       sync.Mutex
    hosts    map[replset.HostAddress]*Host
    snapshot replset.Snapshot
    dials    map[replset.HostAddress]int
    probes   map[replset.HostAddress]int
    statuses map[replset.HostAddress]int
    closed   map[replset.HostAddress]int
    order    []replset.HostAddress
}

func New() *Cluster {
    return &Cluster{
        hosts:    make(map[replset.HostAddress]*Host),
        dials:    make(map[replset.HostAddress]int),
        probes:   make(map[replset.HostAddress]int),
        statuses: make(map[replset.HostAddress]int),
        closed:   make(map[replset.HostAddress]int),
    }
}

// Set replaces the simulated state of host.
func (c *Cluster) Set(host replset.HostAddress, h Host) {
    c.mu.Lock(); defer c.mu.Unlock()
    hc := h
    c.hosts[host] = &hc
}

// Update mutates the simulated state of host under the lock.
func (c *Cluster) Update(host replset.HostAddress, fn func(h *Host)) {
    c.mu.Lock(); defer c.mu.Unlock()
    h, ok := c.hosts[host]
    if !ok { h = &Host{}; c.hosts[host] = h }
    fn(h)
}

// SetSnapshot sets the status reply returned by any connected host.
func (c *Cluster) SetSnapshot(s replset.Snapshot) {
    c.mu.Lock(); defer c.mu.Unlock()
    c.snapshot = s
}

func (c *Cluster) Dial(ctx context.Context, host replset.HostAddress) (replset.Conn, error) {
    c.mu.Lock(); defer c.mu.Unlock()
    c.dials[host]++
    c.order = append(c.order, host)
    h, ok := c.hosts[host]
    if !ok || h.Down { return nil, ErrRefused }
    if h.FailDials > 0 {
        h.FailDials--
        return nil, ErrRefused
    }
    return &conn{c: c, host: host}, nil
}

// Dials returns how many times host was dialed.
func (c *Cluster) Dials(host replset.HostAddress) int {
    c.mu.Lock(); defer c.mu.Unlock()
    return c.dials[host]
}

// DialOrder returns every dialed host in order.
func (c *Cluster) DialOrder() []replset.HostAddress {
    c.mu.Lock(); defer c.mu.Unlock()
    return append([]replset.HostAddress(nil), c.order...)
}

// Probes returns how many IsPrimary calls host received.
func (c *Cluster) Probes(host replset.HostAddress) int {
    c.mu.Lock(); defer c.mu.Unlock()
    return c.probes[host]
}

// StatusCalls returns how many Status calls host received.
func (c *Cluster) StatusCalls(host replset.HostAddress) int {
    c.mu.Lock(); defer c.mu.Unlock()
    return c.statuses[host]
}

// Closed returns how many connections to host were closed.
func (c *Cluster) Closed(host replset.HostAddress) int {
    c.mu.Lock(); defer c.mu.Unlock()
    return c.closed[host]
}

type conn struct {
    c    *Cluster
    host replset.HostAddress
}

func (k *conn) IsPrimary(ctx context.Context) (bool, error) {
    k.c.mu.Lock(); defer k.c.mu.Unlock()
    k.c.probes[k.host]++
    h, ok := k.c.hosts[k.host]
    if !ok || h.Down { return false, ErrRefused }
    return h.Primary, nil
}

func (k *conn) Status(ctx context.Context) (replset.Snapshot, error) {
    k.c.mu.Lock(); defer k.c.mu.Unlock()
    k.c.statuses[k.host]++
    h, ok := k.c.hosts[k.host]
    if !ok || h.Down { return replset.Snapshot{}, ErrRefused }
    if h.StatusErr != nil { return replset.Snapshot{}, h.StatusErr }
    if h.FailStatus > 0 {
        h.FailStatus--
        return replset.Snapshot{}, ErrRefused
    }
    s := k.c.snapshot
    s.Members = append([]replset.MemberStatus(nil), s.Members...)
    if s.TakenAt.IsZero() { s.TakenAt = time.Now() }
    return s, nil
}

func (k *conn) Close(ctx context.Context) error {
    k.c.mu.Lock(); defer k.c.mu.Unlock()
    k.c.closed[k.host]++
    return nil
}

// Member builds a MemberStatus whose optime is sec seconds after the epoch.
func Member(name string, state string, sec int64) replset.MemberStatus {
    return replset.MemberStatus{Name: replset.HostAddress(name), State: state, Optime: time.Unix(sec, 0).UTC()}
}

// Sleeps records requested delays without blocking.
type Sleeps struct {
    mu sync.Mutex
    d  []time.Duration
    // OnSleep runs after each recorded sleep, outside the lock.
    OnSleep func(n int)
}

func (s *Sleeps) Sleep(ctx context.Context, d time.Duration) error {
    if err := ctx.Err(); err != nil { return err }
    s.mu.Lock()
    s.d = append(s.d, d)
    n := len(s.d)
    hook := s.OnSleep
    s.mu.Unlock()
    if hook != nil { hook(n) }
    return ctx.Err()
}

// All returns the recorded delays.
func (s *Sleeps) All() []time.Duration {
    s.mu.Lock(); defer s.mu.Unlock()
    return append([]time.Duration(nil), s.d...)
}

package replset

import (
    "context"
    "time"
)

// StatePrimary is the state label a member reports while it accepts writes.
const StatePrimary = "PRIMARY"

// HostAddress identifies a reachable endpoint, typically "host:port".
type HostAddress string

func (h HostAddress) String() string { return string(h) }

// MemberStatus is one entry of a replica set status snapshot.
type MemberStatus struct {
    Name   HostAddress `json:"name"`
    State  string      `json:"state"`
    Optime time.Time   `json:"optime"`
}

// IsPrimary reports whether the member is labelled PRIMARY.
func (m MemberStatus) IsPrimary() bool { return m.State == StatePrimary }

// Snapshot is the member list returned by one status query against the
// primary, in the order the server reported it.
type Snapshot struct {
    Members []MemberStatus `json:"members"`
    TakenAt time.Time      `json:"takenAt"`
}

// Primary returns the first member labelled PRIMARY.
func (s Snapshot) Primary() (MemberStatus, bool) {
    for _, m := range s.Members {
        if m.IsPrimary() { return m, true }
    }
    return MemberStatus{}, false
}

// Conn is an open administrative connection to a single host.
type Conn interface {
    // IsPrimary asks the connected host whether it currently is the primary.
    IsPrimary(ctx context.Context) (bool, error)
    // Status runs the replica set status command on the connected host.
    Status(ctx context.Context) (Snapshot, error)
    Close(ctx context.Context) error
}

// Dialer opens a single connection attempt to host. Retrying is the caller's
// concern.
type Dialer interface {
    Dial(ctx context.Context, host HostAddress) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, host HostAddress) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, host HostAddress) (Conn, error) { return f(ctx, host) }

package lag

import (
    "errors"
    "math"
    "time"

    "github.com/amirimatin/go-replmon/pkg/replset"
)

var (
    ErrNoPrimary         = errors.New("lag: snapshot has no primary")
    ErrMultiplePrimaries = errors.New("lag: snapshot has more than one primary")
)

// Lags maps each member to primaryOptime - memberOptime.
type Lags map[replset.HostAddress]time.Duration

// MemberLag is one member's lag, used where ordering matters.
type MemberLag struct {
    Member replset.MemberStatus
    Lag    time.Duration
}

// Compute returns every member's lag relative to the primary's optime. The
// primary itself is always 0. Values are not clamped: a member whose optime
// is ahead of the primary's yields a negative lag.
func Compute(s replset.Snapshot) (Lags, error) {
    p, err := primary(s)
    if err != nil { return nil, err }
    out := make(Lags, len(s.Members))
    for _, m := range s.Members {
        out[m.Name] = p.Optime.Sub(m.Optime)
    }
    out[p.Name] = 0
    return out, nil
}

// Sorted returns lags in snapshot order.
func Sorted(s replset.Snapshot, l Lags) []MemberLag {
    out := make([]MemberLag, 0, len(s.Members))
    for _, m := range s.Members {
        out = append(out, MemberLag{Member: m, Lag: l[m.Name]})
    }
    return out
}

// Seconds rounds d up to whole seconds.
func Seconds(d time.Duration) int64 { return int64(math.Ceil(d.Seconds())) }

func primary(s replset.Snapshot) (replset.MemberStatus, error) {
    var (
        p     replset.MemberStatus
        found bool
    )
    for _, m := range s.Members {
        if !m.IsPrimary() { continue }
        if found { return replset.MemberStatus{}, ErrMultiplePrimaries }
        p, found = m, true
    }
    if !found { return replset.MemberStatus{}, ErrNoPrimary }
    return p, nil
}

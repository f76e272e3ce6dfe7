package static

import (
    "strings"

    "github.com/amirimatin/go-replmon/pkg/discovery"
    "github.com/amirimatin/go-replmon/pkg/replset"
)

type staticHosts struct {
    hosts []replset.HostAddress
}

func (s *staticHosts) Hosts() []replset.HostAddress { return append([]replset.HostAddress(nil), s.hosts...) }

// New returns a Discovery that always returns the given hosts in their
// original order. Blank entries and repeats are dropped.
func New(hosts ...string) discovery.Discovery {
    cleaned := make([]replset.HostAddress, 0, len(hosts))
    seen := make(map[string]struct{}, len(hosts))
    for _, v := range hosts {
        v = strings.TrimSpace(v)
        if v == "" { continue }
        if _, ok := seen[v]; ok { continue }
        seen[v] = struct{}{}
        cleaned = append(cleaned, replset.HostAddress(v))
    }
    return &staticHosts{hosts: cleaned}
}

// Parse converts a comma-separated list into host strings.
func Parse(csv string) []string {
    if csv == "" {
        return nil
    }
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" {
            out = append(out, p)
        }
    }
    return out
}

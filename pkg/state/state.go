package state

import (
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    "github.com/amirimatin/go-replmon/pkg/replset"
)

// Store persists the last confirmed primary so a restarted monitor can take
// the fast path on its first cycle.
type Store interface {
    LoadPrimary() (replset.HostAddress, error)
    SavePrimary(host replset.HostAddress) error
    Close() error
}

var keyLastPrimary = []byte("last_primary")

type stableStore struct {
    s      raft.StableStore
    closer io.Closer
    // missing reports whether a Get error means the key is absent.
    missing func(error) bool
}

// NewMemory returns a Store backed by raft's in-memory stable store.
func NewMemory() Store { return &stableStore{s: raft.NewInmemStore(), missing: inmemMissing} }

// raft.InmemStore builds its "not found" error inline and exports no value to
// compare against, so the message is all there is to match.
func inmemMissing(err error) bool { return err.Error() == "not found" }

func boltMissing(err error) bool { return errors.Is(err, raftboltdb.ErrKeyNotFound) }

// Open returns a Store backed by a bolt file in dir, created if missing.
func Open(dir string) (Store, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil { return nil, err }
    bs, err := raftboltdb.NewBoltStore(filepath.Join(dir, "replmon.db"))
    if err != nil { return nil, fmt.Errorf("state: open bolt store: %w", err) }
    return &stableStore{s: bs, closer: bs, missing: boltMissing}, nil
}

func (s *stableStore) LoadPrimary() (replset.HostAddress, error) {
    v, err := s.s.Get(keyLastPrimary)
    if err != nil {
        if s.missing(err) { return "", nil }
        return "", fmt.Errorf("state: load primary: %w", err)
    }
    return replset.HostAddress(v), nil
}

func (s *stableStore) SavePrimary(host replset.HostAddress) error {
    if err := s.s.Set(keyLastPrimary, []byte(host)); err != nil {
        return fmt.Errorf("state: save primary: %w", err)
    }
    return nil
}

func (s *stableStore) Close() error {
    if s.closer == nil { return nil }
    return s.closer.Close()
}

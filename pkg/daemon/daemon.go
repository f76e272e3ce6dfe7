// Package daemon manages the pidfile used by the start, stop and restart
// commands.
package daemon

import (
    "context"
    "errors"
    "fmt"
    "os"
    "strconv"
    "strings"
    "syscall"
    "time"
)

var (
    ErrNotRunning     = errors.New("replmon: daemon not running")
    ErrAlreadyRunning = errors.New("replmon: daemon already running")
)

// DefaultStopPoll is how often Stop checks whether the process exited.
const DefaultStopPoll = 200 * time.Millisecond

// kill is swapped in tests.
var kill = syscall.Kill

// PIDFile is a pidfile at a fixed path.
type PIDFile struct {
    Path string
}

// Acquire records the current process in the pidfile. A pidfile naming a live
// process yields ErrAlreadyRunning; a stale one is replaced.
func (p PIDFile) Acquire() error {
    if pid, err := p.Read(); err == nil {
        if alive(pid) { return fmt.Errorf("%w (pid %d, pidfile %s)", ErrAlreadyRunning, pid, p.Path) }
    } else if !errors.Is(err, ErrNotRunning) {
        return err
    }
    return os.WriteFile(p.Path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Release removes the pidfile if it still names the current process.
func (p PIDFile) Release() error {
    pid, err := p.Read()
    if err != nil || pid != os.Getpid() { return nil }
    if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) { return err }
    return nil
}

// Read returns the pid stored in the pidfile, or ErrNotRunning if there is
// none.
func (p PIDFile) Read() (int, error) {
    b, err := os.ReadFile(p.Path)
    if err != nil {
        if os.IsNotExist(err) { return 0, ErrNotRunning }
        return 0, fmt.Errorf("daemon: read pidfile: %w", err)
    }
    pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
    if err != nil || pid <= 0 { return 0, fmt.Errorf("daemon: pidfile %s: invalid pid %q", p.Path, strings.TrimSpace(string(b))) }
    return pid, nil
}

// Stop sends SIGTERM to the recorded process and waits until it has exited or
// ctx is done. A stale pidfile is removed and reported as ErrNotRunning.
func (p PIDFile) Stop(ctx context.Context, poll time.Duration) error {
    pid, err := p.Read()
    if err != nil { return err }
    if !alive(pid) {
        _ = os.Remove(p.Path)
        return ErrNotRunning
    }
    if err := kill(pid, syscall.SIGTERM); err != nil {
        if errors.Is(err, syscall.ESRCH) {
            _ = os.Remove(p.Path)
            return ErrNotRunning
        }
        return fmt.Errorf("daemon: signal pid %d: %w", pid, err)
    }
    if poll <= 0 { poll = DefaultStopPoll }
    t := time.NewTicker(poll)
    defer t.Stop()
    for alive(pid) {
        select {
        case <-ctx.Done():
            return fmt.Errorf("daemon: pid %d still running: %w", pid, ctx.Err())
        case <-t.C:
        }
    }
    _ = os.Remove(p.Path)
    return nil
}

func alive(pid int) bool {
    err := kill(pid, 0)
    return err == nil || errors.Is(err, syscall.EPERM)
}

package backoff

import (
    "context"
    "time"
)

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case. Components take one so tests can run without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
    if d <= 0 { return ctx.Err() }
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

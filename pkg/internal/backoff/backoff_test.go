package backoff

import (
    "context"
    "errors"
    "testing"
    "time"
)

func TestSleep_Elapses(t *testing.T) {
    start := time.Now()
    if err := Sleep(context.Background(), 20*time.Millisecond); err != nil { t.Fatalf("sleep: %v", err) }
    if time.Since(start) < 20*time.Millisecond { t.Fatalf("returned early") }
}

func TestSleep_Cancelled(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    start := time.Now()
    err := Sleep(ctx, time.Hour)
    if !errors.Is(err, context.Canceled) { t.Fatalf("err = %v, want canceled", err) }
    if time.Since(start) > time.Second { t.Fatalf("did not return promptly") }
}

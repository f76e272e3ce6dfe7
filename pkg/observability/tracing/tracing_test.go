package tracing

import (
    "bytes"
    "context"
    "errors"
    "strings"
    "testing"

    "go.opentelemetry.io/otel/attribute"
)

func TestStartSpan_ExportsWhenEnabled(t *testing.T) {
    var buf bytes.Buffer
    shutdown, err := Setup(true, &buf)
    if err != nil { t.Fatalf("setup: %v", err) }
    defer func() { _, _ = Setup(false, nil) }()

    ctx, end := StartSpan(context.Background(), "monitor.cycle", attribute.String("primary", "db1:27017"))
    Fail(ctx, errors.New("boom"))
    end()
    if err := shutdown(context.Background()); err != nil { t.Fatalf("shutdown: %v", err) }
    if !strings.Contains(buf.String(), "monitor.cycle") {
        t.Fatalf("span not exported: %q", buf.String())
    }
}

func TestStartSpan_DisabledIsNoop(t *testing.T) {
    if _, err := Setup(false, nil); err != nil { t.Fatalf("setup: %v", err) }
    ctx := context.Background()
    got, end := StartSpan(ctx, "noop")
    end()
    if got != ctx { t.Fatalf("expected context to be returned unchanged") }
}

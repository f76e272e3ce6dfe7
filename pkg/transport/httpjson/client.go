package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/amirimatin/go-replmon/pkg/transport"
)

// Client is a thin HTTP client for the status API. It supports optional TLS
// and retries GetStatus with exponential backoff.
type Client struct {
    httpc     *http.Client
    stream    *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given per-request timeout.
// Watch is not subject to the timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{
        httpc:     &http.Client{Timeout: timeout, Transport: tr},
        stream:    &http.Client{Transport: tr},
        transport: tr,
    }
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.transport.TLSClientConfig = cfg
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        b, err := c.getOnce(ctx, addr)
        if err == nil { return b, nil }
        lastErr = err
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, addr string) ([]byte, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/status"), nil)
    if err != nil { return nil, err }
    resp, err := c.httpc.Do(req)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return nil, err }
    if resp.StatusCode != http.StatusOK { return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b)) }
    return b, nil
}

// Watch reads the newline-delimited event stream until it ends or ctx is
// done. A canceled ctx is not reported as an error.
func (c *Client) Watch(ctx context.Context, addr string, onEvent func(transport.EventMessage)) error {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/events"), nil)
    if err != nil { return err }
    resp, err := c.stream.Do(req)
    if err != nil {
        if ctx.Err() != nil { return nil }
        return err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        b, _ := io.ReadAll(resp.Body)
        return fmt.Errorf("events %d: %s", resp.StatusCode, string(b))
    }
    dec := json.NewDecoder(resp.Body)
    for {
        var ev transport.EventMessage
        if err := dec.Decode(&ev); err != nil {
            if ctx.Err() != nil || errors.Is(err, io.EOF) { return nil }
            return err
        }
        if onEvent != nil { onEvent(ev) }
    }
}

var (
    _ transport.StatusClient = (*Client)(nil)
    _ transport.EventWatcher = (*Client)(nil)
)

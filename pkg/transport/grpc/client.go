package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "io"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-replmon/pkg/transport"
)

// Client calls the status service of a running monitor. Each call dials its
// own connection; the CLI makes one call per process.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dial(target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.NewClient(target, opts...)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, err := c.dial(addr)
    if err != nil { return nil, err }
    defer cc.Close()
    out := new(statusBlob)
    if err := cc.Invoke(cctx, methodGetStatus, &empty{}, out, grpc.CallContentSubtype(jsonCodec{}.Name()), grpc.WaitForReady(true)); err != nil { return nil, err }
    return out.Data, nil
}

// Healthy queries the standard health service for the monitor service.
func (c *Client) Healthy(ctx context.Context, addr string) (bool, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, err := c.dial(addr)
    if err != nil { return false, err }
    defer cc.Close()
    resp, err := healthpb.NewHealthClient(cc).Check(cctx, &healthpb.HealthCheckRequest{Service: serviceName})
    if err != nil { return false, err }
    return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Watch streams monitor events until the server ends the stream or ctx is
// done. A canceled ctx is not reported as an error.
func (c *Client) Watch(ctx context.Context, addr string, onEvent func(transport.EventMessage)) error {
    cc, err := c.dial(addr)
    if err != nil { return err }
    defer cc.Close()
    cs, err := cc.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, methodWatch, grpc.CallContentSubtype(jsonCodec{}.Name()), grpc.WaitForReady(true))
    if err != nil {
        if ctx.Err() != nil { return nil }
        return err
    }
    if err := cs.SendMsg(&empty{}); err != nil { return err }
    _ = cs.CloseSend()
    for {
        var ev transport.EventMessage
        if err := cs.RecvMsg(&ev); err != nil {
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

package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-replmon/pkg/observability/tracing"
    "github.com/amirimatin/go-replmon/pkg/transport"
)

const (
    serviceName = "replmon.v1.Monitor"
    methodGetStatus = "/" + serviceName + "/GetStatus"
    methodWatch     = "/" + serviceName + "/Watch"
)

// healthPoll is how often the health service re-reads Handlers.Healthy.
var healthPoll = time.Second

// Server implements transport.StatusServer over gRPC using a JSON codec. It
// registers the standard health service, reporting SERVING for both the
// overall server and serviceName once a primary is known.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type empty struct{}
type statusBlob struct{ Data []byte `json:"data"` }

// monitorServer defines the methods we expose.
type monitorServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    Watch(in *empty, stream grpc.ServerStream) error
}

type monitorImpl struct{ h transport.Handlers }

func (m *monitorImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.h.Status(ctx)
    if err != nil { return nil, err }
    return &statusBlob{Data: b}, nil
}

func (m *monitorImpl) Watch(_ *empty, stream grpc.ServerStream) error {
    if m.h.Events == nil { return errors.New("events not supported") }
    for ev := range m.h.Events(stream.Context()) {
        if err := stream.SendMsg(&ev); err != nil { return err }
    }
    return nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Monitor_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*monitorServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: _Monitor_GetStatus_Handler},
    },
    Streams: []grpc.StreamDesc{{
        StreamName:    "Watch",
        ServerStreams: true,
        Handler:       _Monitor_Watch_Handler,
    }},
}

func _Monitor_GetStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(monitorServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
    handler := func(ctx context.Context, req any) (any, error) {
        return srv.(monitorServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func _Monitor_Watch_Handler(srv any, stream grpc.ServerStream) error {
    in := new(empty)
    if err := stream.RecvMsg(in); err != nil { return err }
    return srv.(monitorServer).Watch(in, stream)
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    if h.Status == nil { return errors.New("grpc: nil status handler") }
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    // The monitor service is selected by the "json" content-subtype; the
    // health service keeps the default proto codec so stock probes work.
    opts := []grpc.ServerOption{
        // keepalive settings for long-lived Watch streams
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
    hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&_Monitor_serviceDesc, &monitorImpl{h: h})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()

    go s.watchHealth(ctx, hs, h.Healthy)
    go func() {
        <-ctx.Done()
        c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(c)
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

func (s *Server) watchHealth(ctx context.Context, hs *health.Server, healthy transport.HealthFunc) {
    if healthy == nil {
        setServing(hs, true)
        return
    }
    t := time.NewTicker(healthPoll)
    defer t.Stop()
    last := false
    for {
        if ok := healthy(); ok != last {
            setServing(hs, ok)
            last = ok
        }
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
    }
}

func setServing(hs *health.Server, ok bool) {
    st := healthpb.HealthCheckResponse_NOT_SERVING
    if ok { st = healthpb.HealthCheckResponse_SERVING }
    hs.SetServingStatus("", st)
    hs.SetServingStatus(serviceName, st)
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv, s.health, s.lis = nil, nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    if hs != nil { hs.Shutdown() }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    return nil
}

var _ transport.StatusServer = (*Server)(nil)

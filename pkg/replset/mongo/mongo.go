package mongo

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/bson/bsontype"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
    "go.mongodb.org/mongo-driver/mongo/readpref"

    "github.com/amirimatin/go-replmon/pkg/replset"
)

// Options configures how a single host is dialed.
type Options struct {
    // ConnectTimeout bounds one connection attempt; zero means 10s.
    ConnectTimeout time.Duration
    Username       string
    Password       string
    AuthSource     string
    // TLS is used for the driver connection when non-nil.
    TLS *tls.Config
}

// Dialer connects directly to one replica set member with the official driver.
type Dialer struct {
    opts Options
}

func NewDialer(opts Options) *Dialer {
    if opts.ConnectTimeout <= 0 { opts.ConnectTimeout = 10 * time.Second }
    return &Dialer{opts: opts}
}

// Dial opens a direct (non-topology-discovering) connection to host and
// verifies it with a ping.
func (d *Dialer) Dial(ctx context.Context, host replset.HostAddress) (replset.Conn, error) {
    co := options.Client().
        SetHosts([]string{string(host)}).
        SetDirect(true).
        SetConnectTimeout(d.opts.ConnectTimeout).
        SetServerSelectionTimeout(d.opts.ConnectTimeout)
    if d.opts.Username != "" {
        co.SetAuth(options.Credential{Username: d.opts.Username, Password: d.opts.Password, AuthSource: d.opts.AuthSource})
    }
    if d.opts.TLS != nil { co.SetTLSConfig(d.opts.TLS) }

    cctx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
    defer cancel()
    client, err := mongo.Connect(cctx, co)
    if err != nil { return nil, fmt.Errorf("mongo: connect %s: %w", host, err) }
    if err := client.Ping(cctx, readpref.Nearest()); err != nil {
        _ = client.Disconnect(context.Background())
        return nil, fmt.Errorf("mongo: ping %s: %w", host, err)
    }
    return &conn{host: host, client: client}, nil
}

var _ replset.Dialer = (*Dialer)(nil)

type conn struct {
    host   replset.HostAddress
    client *mongo.Client
}

func (c *conn) IsPrimary(ctx context.Context) (bool, error) {
    var res struct {
        IsMaster bool `bson:"ismaster"`
    }
    err := c.client.Database("admin").RunCommand(ctx, bson.D{{Key: "isMaster", Value: 1}}).Decode(&res)
    if err != nil { return false, fmt.Errorf("mongo: isMaster on %s: %w", c.host, err) }
    return res.IsMaster, nil
}

func (c *conn) Status(ctx context.Context) (replset.Snapshot, error) {
    raw, err := c.client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Raw()
    if err != nil { return replset.Snapshot{}, fmt.Errorf("mongo: replSetGetStatus on %s: %w", c.host, err) }
    snap, err := parseStatus(raw)
    if err != nil { return replset.Snapshot{}, fmt.Errorf("mongo: %s: %w", c.host, err) }
    return snap, nil
}

func (c *conn) Close(ctx context.Context) error { return c.client.Disconnect(ctx) }

// parseStatus extracts name, stateStr and optime from a replSetGetStatus
// reply. Members that report no optime (arbiters) are left out.
func parseStatus(raw bson.Raw) (replset.Snapshot, error) {
    snap := replset.Snapshot{TakenAt: time.Now()}
    if d, err := raw.LookupErr("date"); err == nil && d.Type == bsontype.DateTime {
        snap.TakenAt = time.UnixMilli(d.DateTime()).UTC()
    }
    mv, err := raw.LookupErr("members")
    if err != nil { return snap, fmt.Errorf("status reply has no members: %w", err) }
    arr, ok := mv.ArrayOK()
    if !ok { return snap, fmt.Errorf("status members is %s, not an array", mv.Type) }
    vals, err := arr.Values()
    if err != nil { return snap, err }
    for _, v := range vals {
        doc, ok := v.DocumentOK()
        if !ok { continue }
        name, _ := doc.Lookup("name").StringValueOK()
        state, _ := doc.Lookup("stateStr").StringValueOK()
        opt, ok := optime(doc)
        if !ok { continue }
        snap.Members = append(snap.Members, replset.MemberStatus{Name: replset.HostAddress(name), State: state, Optime: opt})
    }
    return snap, nil
}

// optime reads a member's optime. Servers before 3.2 report a bare
// timestamp, later ones a {ts, t} document; optimeDate is the last resort.
func optime(doc bson.Raw) (time.Time, bool) {
    if v, err := doc.LookupErr("optime"); err == nil {
        switch v.Type {
        case bsontype.Timestamp:
            t, _ := v.Timestamp()
            return time.Unix(int64(t), 0).UTC(), true
        case bsontype.EmbeddedDocument:
            if ts, err := v.Document().LookupErr("ts"); err == nil && ts.Type == bsontype.Timestamp {
                t, _ := ts.Timestamp()
                return time.Unix(int64(t), 0).UTC(), true
            }
        }
    }
    if v, err := doc.LookupErr("optimeDate"); err == nil && v.Type == bsontype.DateTime {
        return time.UnixMilli(v.DateTime()).UTC(), true
    }
    return time.Time{}, false
}

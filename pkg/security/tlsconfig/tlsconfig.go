// Package tlsconfig turns file-based TLS settings into *tls.Config values for
// the MongoDB client, the status server and the status client.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// reloadTTL bounds how long a loaded server certificate is reused.
const reloadTTL = 10 * time.Second

// Options is the `tls:` block of the config file.
type Options struct {
    Enable             bool   `yaml:"enable"`
    CAFile             string `yaml:"ca"`
    CertFile           string `yaml:"cert"`
    KeyFile            string `yaml:"key"`
    ServerName         string `yaml:"server_name"`
    InsecureSkipVerify bool   `yaml:"skip_verify"`
}

// Validate reports inconsistent settings without touching the filesystem.
func (o Options) Validate() error {
    if !o.Enable { return nil }
    if (o.CertFile == "") != (o.KeyFile == "") { return errors.New("tls: cert and key must be set together") }
    return nil
}

// Client returns a client config, or nil when TLS is disabled. The client
// certificate is optional; a CA file replaces the system roots.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if err := o.Validate(); err != nil { return nil, err }
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName, MinVersion: tls.VersionTLS12} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, fmt.Errorf("tls: load client keypair: %w", err) }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

// Server returns a status-server config, or nil when TLS is disabled. The
// certificate is re-read from disk at most every reloadTTL so it can be
// rotated without a restart. A CA file turns on client certificate checks.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, errors.New("tls: server cert/key required when TLS enabled") }
    r := &reloader{cert: o.CertFile, key: o.KeyFile}
    // fail fast on a bad keypair
    if _, err := r.get(time.Now()); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return r.get(time.Now()) }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil { return nil, fmt.Errorf("tls: read CA: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("tls: no certificates in %s", path) }
    return pool, nil
}

type reloader struct {
    cert, key string

    mu       sync.Mutex
    cached   *tls.Certificate
    lastLoad time.Time
}

func (r *reloader) get(now time.Time) (*tls.Certificate, error) {
    r.mu.Lock(); defer r.mu.Unlock()
    if r.cached != nil && now.Sub(r.lastLoad) < reloadTTL { return r.cached, nil }
    cert, err := tls.LoadX509KeyPair(r.cert, r.key)
    if err != nil {
        // keep serving the previous certificate during a partial rotation
        if r.cached != nil { return r.cached, nil }
        return nil, fmt.Errorf("tls: load server keypair: %w", err)
    }
    r.cached, r.lastLoad = &cert, now
    return r.cached, nil
}

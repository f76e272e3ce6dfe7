package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    MemberLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "replmon",
        Name:      "member_lag_seconds",
        Help:      "Replication lag (primary optime - member optime) per member",
    }, []string{"member"})

    Primary = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "replmon",
        Name:      "primary",
        Help:      "1 for the host currently believed to be primary",
    }, []string{"host"})

    PrimaryChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replmon",
        Name:      "primary_changes_total",
        Help:      "Total number of newly confirmed primaries",
    })

    Cycles = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replmon",
        Name:      "cycles_total",
        Help:      "Total number of completed monitoring cycles",
    })

    NoPrimaryRetries = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replmon",
        Name:      "no_primary_retries_total",
        Help:      "Discovery passes that found no primary",
    })

    Alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "replmon",
        Name:      "alerts_total",
        Help:      "Alerts dispatched by kind and result",
    }, []string{"kind", "result"})

    ConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replmon",
        Subsystem: "conn",
        Name:      "dials_total",
        Help:      "Total number of new database connections dialed",
    })
    ConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replmon",
        Subsystem: "conn",
        Name:      "reuse_total",
        Help:      "Total number of connection reuses from cache",
    })
    ConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replmon",
        Subsystem: "conn",
        Name:      "evictions_total",
        Help:      "Total number of cached connections evicted",
    })
    ConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "replmon",
        Subsystem: "conn",
        Name:      "active",
        Help:      "Number of cached connections",
    })
    ConnFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "replmon",
        Subsystem: "conn",
        Name:      "failures_total",
        Help:      "Failed connection attempts per host",
    }, []string{"host"})
    HostUnreachable = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "replmon",
        Subsystem: "conn",
        Name:      "unreachable_total",
        Help:      "Hosts that exhausted their connection retry budget",
    }, []string{"host"})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(MemberLag)
        prometheus.MustRegister(Primary)
        prometheus.MustRegister(PrimaryChanges)
        prometheus.MustRegister(Cycles)
        prometheus.MustRegister(NoPrimaryRetries)
        prometheus.MustRegister(Alerts)
        // connections
        prometheus.MustRegister(ConnDials)
        prometheus.MustRegister(ConnReuse)
        prometheus.MustRegister(ConnEvictions)
        prometheus.MustRegister(ConnActive)
        prometheus.MustRegister(ConnFailures)
        prometheus.MustRegister(HostUnreachable)
    })
}

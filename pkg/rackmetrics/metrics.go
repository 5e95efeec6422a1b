// Counters of mutations rack has issued, exported as a node_exporter textfile
package rackmetrics

import (
	"time"

	"github.com/function61/gokit/promconstmetrics"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry *prometheus.Registry
	textfile string // "" => not written

	snapshotsCreated   prometheus.Counter
	snapshotsDestroyed prometheus.Counter
	volumesCreated     prometheus.Counter
	transfers          *prometheus.CounterVec
	transferFailures   prometheus.Counter
	estimatedBytes     prometheus.Counter

	jobRuntime   *promconstmetrics.Ref
	constMetrics *promconstmetrics.Collector
}

func New(textfile string) *Metrics {
	reg := prometheus.NewRegistry()

	constMetrics := promconstmetrics.NewCollector()

	counter := func(opts prometheus.CounterOpts) prometheus.Counter {
		c := prometheus.NewCounter(opts)
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		registry: reg,
		textfile: textfile,
		snapshotsCreated: counter(prometheus.CounterOpts{
			Name: "rack_snapshots_created_total",
			Help: "Recursive snapshots taken",
		}),
		snapshotsDestroyed: counter(prometheus.CounterOpts{
			Name: "rack_snapshots_destroyed_total",
			Help: "Snapshots destroyed by pruning",
		}),
		volumesCreated: counter(prometheus.CounterOpts{
			Name: "rack_volumes_created_total",
			Help: "Destination volumes created for replication",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rack_transfers_total",
			Help: "Send/receive transfers (incl. failures)",
		}, []string{"kind"}),
		transferFailures: counter(prometheus.CounterOpts{
			Name: "rack_transfer_failures_total",
			Help: "Send/receive transfers that failed",
		}),
		estimatedBytes: counter(prometheus.CounterOpts{
			Name: "rack_transfer_estimated_bytes_total",
			Help: "Sum of size estimates of transfers",
		}),
		jobRuntime:   constMetrics.Register("rack_scheduledjob_runtime_seconds", "Scheduled job's last runtime (seconds)", prometheus.Labels{}, "job"),
		constMetrics: constMetrics,
	}

	reg.MustRegister(m.transfers)
	reg.MustRegister(constMetrics)

	return m
}

func (m *Metrics) SnapshotCreated() {
	m.snapshotsCreated.Inc()
}

func (m *Metrics) SnapshotDestroyed() {
	m.snapshotsDestroyed.Inc()
}

func (m *Metrics) VolumeCreated() {
	m.volumesCreated.Inc()
}

func (m *Metrics) Transferred(incremental bool, estimatedBytes uint64, err error) {
	kind := "full"
	if incremental {
		kind = "incremental"
	}

	m.transfers.With(prometheus.Labels{"kind": kind}).Inc()
	m.estimatedBytes.Add(float64(estimatedBytes))

	if err != nil {
		m.transferFailures.Inc()
	}
}

func (m *Metrics) JobFinished(jobID string, started time.Time, finished time.Time) {
	m.constMetrics.Observe(m.jobRuntime, finished.Sub(started).Seconds(), finished, jobID)
}

// writes the textfile (atomically) if one is configured
func (m *Metrics) Flush() error {
	if m.textfile == "" {
		return nil
	}

	return prometheus.WriteToTextfile(m.textfile, m.registry)
}

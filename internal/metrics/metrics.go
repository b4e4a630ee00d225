// Package metrics defines the prometheus collectors shared by the manager,
// physical log, and logical log layers. Grounded in the retrieval pack's
// arcticdb WAL example (fileWALMetrics), which wires prometheus counters
// and gauges directly into a commit-log-shaped component the same way this
// module does.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric this module exports. A nil *Collector is
// valid and every method on it is a no-op, so components can be exercised
// in tests without registering a prometheus registry.
type Collector struct {
	OpenPhysicalLogs   prometheus.Gauge
	OpenLogicalLogs    prometheus.Gauge
	OpenHandles        prometheus.Gauge
	Appends            prometheus.Counter
	Flushes            prometheus.Counter
	BarrierFlushes     prometheus.Counter
	HeadTruncations    prometheus.Counter
	TailTruncations    prometheus.Counter
	ReadAheadIssued    prometheus.Counter
	ReadAheadDiscarded prometheus.Counter
	DataIntegrityFails prometheus.Counter
}

// New registers and returns a Collector bound to reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registerer across parallel test runs.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		OpenPhysicalLogs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logicallog_open_physical_logs",
			Help: "Number of currently open physical log containers.",
		}),
		OpenLogicalLogs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logicallog_open_logical_logs",
			Help: "Number of currently open logical logs across all physical logs.",
		}),
		OpenHandles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logicallog_open_handles",
			Help: "Number of currently open manager and physical-log handles.",
		}),
		Appends: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_appends_total",
			Help: "Total number of Append calls completed.",
		}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_flushes_total",
			Help: "Total number of physical writes issued by flush.",
		}),
		BarrierFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_barrier_flushes_total",
			Help: "Total number of barrier (flush-with-marker) writes issued.",
		}),
		HeadTruncations: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_head_truncations_total",
			Help: "Total number of successful head truncations.",
		}),
		TailTruncations: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_tail_truncations_total",
			Help: "Total number of successful tail truncations.",
		}),
		ReadAheadIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_readahead_issued_total",
			Help: "Total number of read-ahead tasks started.",
		}),
		ReadAheadDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_readahead_discarded_total",
			Help: "Total number of read-ahead tasks invalidated before consumption.",
		}),
		DataIntegrityFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "logicallog_data_integrity_failures_total",
			Help: "Total number of CRC/header validation failures on read.",
		}),
	}
}

func (c *Collector) incGauge(g prometheus.Gauge, delta float64) {
	if c == nil || g == nil {
		return
	}
	g.Add(delta)
}

func (c *Collector) incCounter(ctr prometheus.Counter) {
	if c == nil || ctr == nil {
		return
	}
	ctr.Inc()
}

func (c *Collector) AddOpenPhysicalLogs(delta float64) { c.incGauge(c.OpenPhysicalLogs, delta) }
func (c *Collector) AddOpenLogicalLogs(delta float64)  { c.incGauge(c.OpenLogicalLogs, delta) }
func (c *Collector) AddOpenHandles(delta float64)      { c.incGauge(c.OpenHandles, delta) }
func (c *Collector) IncAppend()                        { c.incCounter(c.Appends) }
func (c *Collector) IncFlush()                         { c.incCounter(c.Flushes) }
func (c *Collector) IncBarrierFlush()                  { c.incCounter(c.BarrierFlushes) }
func (c *Collector) IncHeadTruncation()                { c.incCounter(c.HeadTruncations) }
func (c *Collector) IncTailTruncation()                { c.incCounter(c.TailTruncations) }
func (c *Collector) IncReadAheadIssued()                { c.incCounter(c.ReadAheadIssued) }
func (c *Collector) IncReadAheadDiscarded()             { c.incCounter(c.ReadAheadDiscarded) }
func (c *Collector) IncDataIntegrityFail()              { c.incCounter(c.DataIntegrityFails) }

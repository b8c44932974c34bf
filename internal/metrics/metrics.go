// Package metrics publishes the Supervisor's Prometheus collectors, in the
// same promauto style http-server-stabilizer uses for its worker-restart
// counter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors bundles every metric the ocr.Pool reports against. It
// implements ocr.Metrics.
type Collectors struct {
	workerRestarts prometheus.Counter
	overloaded     prometheus.Counter
	queueDepth     prometheus.Gauge
	jobDuration    prometheus.Histogram
	workersReady   prometheus.Gauge
	workersBusy    prometheus.Gauge
}

// New registers and returns the collector set. appName, if non-empty, is
// used as a metric name prefix, mirroring http-server-stabilizer's
// -prometheus-app-name flag.
func New(appName string) *Collectors {
	prefix := "ocr"
	if appName != "" {
		prefix = appName + "_ocr"
	}
	return &Collectors{
		workerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_worker_restarts_total",
			Help: "Total number of OCR worker process restarts after a crash.",
		}),
		overloaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_overloaded_total",
			Help: "Total number of requests rejected because the admission queue was full.",
		}),
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current number of jobs waiting in the admission queue.",
		}),
		jobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_job_duration_seconds",
			Help:    "Time from submission to completion of a successful OCR job, including any time spent queued.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		workersReady: promauto.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_workers_ready",
			Help: "Number of workers currently reporting ready.",
		}),
		workersBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_workers_busy",
			Help: "Number of workers currently executing a job.",
		}),
	}
}

func (c *Collectors) IncRestart()                       { c.workerRestarts.Inc() }
func (c *Collectors) IncOverloaded()                     { c.overloaded.Inc() }
func (c *Collectors) SetQueueDepth(n int)                { c.queueDepth.Set(float64(n)) }
func (c *Collectors) ObserveJobDuration(d time.Duration) { c.jobDuration.Observe(d.Seconds()) }
func (c *Collectors) SetWorkersReady(n int)              { c.workersReady.Set(float64(n)) }
func (c *Collectors) SetWorkersBusy(n int)               { c.workersBusy.Set(float64(n)) }

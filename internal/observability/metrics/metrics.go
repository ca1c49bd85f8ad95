// Package metrics exposes prometheus instruments for the order pipeline
// and the billing scheduler.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries constant labels applied to every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// PipelineMetrics captures order dispatch and billing rollup signals.
type PipelineMetrics struct {
	orderItemsProcessed *prometheus.CounterVec
	orderItemsErred     *prometheus.CounterVec
	rollupUpserts       prometheus.Counter
	jobRuns             *prometheus.CounterVec
	jobErrors           *prometheus.CounterVec
	jobTimeouts         *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
}

var (
	pipelineOnce    sync.Once
	pipelineMetrics *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	pipelineOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "agora"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		orderItemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "agora_order_items_processed_total",
			Help:        "Order items dispatched to a provisioning processor, by offering type.",
			ConstLabels: constLabels,
		}, []string{"offering_type", "request_type"}),
		orderItemsErred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "agora_order_items_erred_total",
			Help:        "Order items that failed at the dispatch boundary.",
			ConstLabels: constLabels,
		}, []string{"offering_type", "reason"}),
		rollupUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "agora_usage_rollup_upserts_total",
			Help:        "Category component usage rows written by the rollup.",
			ConstLabels: constLabels,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "agora_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "agora_scheduler_job_errors_total",
			Help:        "Scheduler job failures by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "agora_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs terminated by their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "agora_scheduler_job_duration_seconds",
			Help:        "Scheduler job wall time by name.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job"}),
	}

	for _, c := range []prometheus.Collector{
		m.orderItemsProcessed, m.orderItemsErred, m.rollupUpserts,
		m.jobRuns, m.jobErrors, m.jobTimeouts, m.jobDuration,
	} {
		_ = registerer.Register(c)
	}

	return m
}

func (m *PipelineMetrics) IncOrderItemProcessed(offeringType, requestType string) {
	if m == nil {
		return
	}
	m.orderItemsProcessed.WithLabelValues(offeringType, requestType).Inc()
}

func (m *PipelineMetrics) IncOrderItemErred(offeringType, reason string) {
	if m == nil {
		return
	}
	m.orderItemsErred.WithLabelValues(offeringType, reason).Inc()
}

func (m *PipelineMetrics) IncRollupUpsert() {
	if m == nil {
		return
	}
	m.rollupUpserts.Inc()
}

func (m *PipelineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

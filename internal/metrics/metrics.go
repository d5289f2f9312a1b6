// Package metrics exposes prometheus collectors for bills, refunds and stock
// rejections. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hardwarepos"

type Collector struct {
	registry        *prometheus.Registry
	billsCreated    *prometheus.CounterVec
	billLines       prometheus.Counter
	refunds         *prometheus.CounterVec
	refundedLines   prometheus.Counter
	stockRejections prometheus.Counter
	txFailures      *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		billsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_created_total",
			Help:      "Bills committed, by entry point.",
		}, []string{"source"}),
		billLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_lines_created_total",
			Help:      "Bill lines committed.",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund requests committed, by kind.",
		}, []string{"kind"}),
		refundedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_lines_total",
			Help:      "Bill lines flipped to refunded.",
		}),
		stockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_rejections_total",
			Help:      "Debits refused for insufficient stock.",
		}),
		txFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_failures_total",
			Help:      "Aborted units of work, by operation and reason.",
		}, []string{"operation", "reason"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.billsCreated,
		c.billLines,
		c.refunds,
		c.refundedLines,
		c.stockRejections,
		c.txFailures,
		c.httpDuration,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) BillCreated(source string, lines int) {
	if c == nil {
		return
	}
	c.billsCreated.WithLabelValues(source).Inc()
	c.billLines.Add(float64(lines))
}

func (c *Collector) Refunded(kind string, lines int) {
	if c == nil {
		return
	}
	c.refunds.WithLabelValues(kind).Inc()
	c.refundedLines.Add(float64(lines))
}

func (c *Collector) StockRejected() {
	if c == nil {
		return
	}
	c.stockRejections.Inc()
}

func (c *Collector) TxFailed(operation string, reason string) {
	if c == nil {
		return
	}
	c.txFailures.WithLabelValues(operation, reason).Inc()
}

func (c *Collector) ObserveHTTP(method string, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

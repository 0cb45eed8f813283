// Package prom implements metrics.Observer against Prometheus, grounded on
// the observability/prom exporter this codebase's lineage uses for its
// tunnel and RPC metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floegence/bjsonrpc/metrics"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports bjsonrpc connection metrics to Prometheus.
type Observer struct {
	dispatchTotal    *prometheus.CounterVec
	frameErrors      *prometheus.CounterVec
	callTotal        *prometheus.CounterVec
	callLatency      prometheus.Histogram
	notifyTotal      prometheus.Counter
	objectsGauge     prometheus.Gauge
	pendingGauge     prometheus.Gauge
}

// New registers bjsonrpc metrics on reg.
func New(reg *prometheus.Registry) *Observer {
	o := &Observer{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bjsonrpc_dispatch_total",
			Help: "Invocations dispatched, by result.",
		}, []string{"result"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bjsonrpc_frame_errors_total",
			Help: "Frame read/write errors.",
		}, []string{"direction"}),
		callTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bjsonrpc_calls_total",
			Help: "Outbound sync/async calls, by result.",
		}, []string{"result"}),
		callLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bjsonrpc_call_latency_seconds",
			Help:    "Outbound call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		notifyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bjsonrpc_notify_total",
			Help: "Outbound notifications sent.",
		}),
		objectsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bjsonrpc_objects_registered",
			Help: "Instances currently registered with the peer.",
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bjsonrpc_pending_requests",
			Help: "Outstanding sync/async requests awaiting a response.",
		}),
	}
	reg.MustRegister(
		o.dispatchTotal,
		o.frameErrors,
		o.callTotal,
		o.callLatency,
		o.notifyTotal,
		o.objectsGauge,
		o.pendingGauge,
	)
	return o
}

func (o *Observer) Dispatch(result metrics.DispatchResult) {
	o.dispatchTotal.WithLabelValues(string(result)).Inc()
}

func (o *Observer) FrameError(direction metrics.FrameDirection) {
	o.frameErrors.WithLabelValues(string(direction)).Inc()
}

func (o *Observer) Call(result metrics.CallResult, d time.Duration) {
	o.callTotal.WithLabelValues(string(result)).Inc()
	o.callLatency.Observe(d.Seconds())
}

func (o *Observer) Notify() { o.notifyTotal.Inc() }

func (o *Observer) ObjectRegistered() { o.objectsGauge.Inc() }

func (o *Observer) ObjectRemoved() { o.objectsGauge.Dec() }

func (o *Observer) PendingRequests(n int) { o.pendingGauge.Set(float64(n)) }

var _ metrics.Observer = (*Observer)(nil)

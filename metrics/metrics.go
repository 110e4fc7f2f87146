// Package metrics exports dispatch outcomes as Prometheus counters.
//
// A PrometheusObserver plugs into the dispatcher as a messaging.Observer:
//
//	reg := prometheus.NewRegistry()
//	obs, err := metrics.NewPrometheusObserver(reg, "ubimqtt")
//	opts.Observer = obs
//
// Counters are labelled by delivery mode only. Topics are not used as label
// values because their cardinality is unbounded.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opd-ai/ubimqtt/messaging"
)

// PrometheusObserver counts delivered, dropped and failed messages.
type PrometheusObserver struct {
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

var _ messaging.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates the counters under namespace and registers
// them with reg. A nil reg selects prometheus.DefaultRegisterer.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages handed to a listener.",
		}, []string{"mode"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages not delivered to a matching subscription.",
		}, []string{"mode", "reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "Listener invocations that returned an error or panicked.",
		}, []string{"mode"}),
	}

	for _, c := range []prometheus.Collector{o.delivered, o.dropped, o.failures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register dispatch metrics: %w", err)
		}
	}
	return o, nil
}

// Delivered implements messaging.Observer.
func (o *PrometheusObserver) Delivered(sub messaging.Subscription, _ string) {
	o.delivered.WithLabelValues(modeLabel(sub)).Inc()
}

// Dropped implements messaging.Observer.
func (o *PrometheusObserver) Dropped(sub messaging.Subscription, _ string, reason messaging.DropReason) {
	o.dropped.WithLabelValues(modeLabel(sub), string(reason)).Inc()
}

// ListenerFailed implements messaging.Observer.
func (o *PrometheusObserver) ListenerFailed(sub messaging.Subscription, _ string, _ error) {
	o.failures.WithLabelValues(modeLabel(sub)).Inc()
}

func modeLabel(sub messaging.Subscription) string {
	if sub.Mode == nil {
		return messaging.PlainMode{}.String()
	}
	return sub.Mode.String()
}

// Package metrics exports supervisor activity as Prometheus metrics. The
// collector is fed from the event bus.
package metrics

import (
	"net/http"

	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "supervisor"

// Collector owns a registry so that each supervisor instance, and each
// test, starts from zero.
type Collector struct {
	registry *prometheus.Registry

	processState       *prometheus.GaugeVec
	processTransitions *prometheus.CounterVec
	processExits       *prometheus.CounterVec
	supervisorStopping prometheus.Gauge
	eventsPublished    *prometheus.CounterVec
	eventsRejected     *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	groups             prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		processState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "state",
			Help:      "Current process state code (0 stopped, 10 starting, 20 running, 30 backoff, 40 stopping, 100 exited, 200 fatal, 1000 unknown)",
		}, []string{"group", "process"}),
		processTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "transitions_total",
			Help:      "Process state transitions by target state",
		}, []string{"group", "process", "state"}),
		processExits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Process exits by whether the exit code was expected",
		}, []string{"group", "process", "expected"}),
		supervisorStopping: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stopping",
			Help:      "1 while the supervisor is shutting down",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published on the event bus",
		}, []string{"type"}),
		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "rejected_total",
			Help:      "Events a listener failed to process",
		}, []string{"pool"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events discarded because a listener pool buffer overflowed",
		}, []string{"pool"}),
		groups: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups",
			Help:      "Process groups currently configured",
		}),
	}
}

// Observe records ev. It is an events.Handler and must be subscribed to
// the EVENT root and to EVENT_REJECTED.
func (c *Collector) Observe(ev events.Event) {
	switch e := ev.(type) {
	case *events.ProcessStateEvent:
		c.processState.WithLabelValues(e.GroupName, e.ProcessName).Set(float64(e.To))
		c.processTransitions.WithLabelValues(e.GroupName, e.ProcessName, e.To.String()).Inc()
		if e.To == processstate.Exited {
			expected := "false"
			if e.Expected {
				expected = "true"
			}
			c.processExits.WithLabelValues(e.GroupName, e.ProcessName, expected).Inc()
		}
	case *events.SupervisorStateChangeEvent:
		if e.Stopping {
			c.supervisorStopping.Set(1)
		} else {
			c.supervisorStopping.Set(0)
		}
	case *events.ProcessGroupEvent:
		if e.Removed {
			c.groups.Dec()
			c.processState.DeletePartialMatch(prometheus.Labels{"group": e.GroupName})
		} else {
			c.groups.Inc()
		}
	case *events.EventRejectedEvent:
		c.eventsRejected.WithLabelValues(e.GroupName).Inc()
		return
	}
	c.eventsPublished.WithLabelValues(string(ev.Type())).Inc()
}

// EventDropped counts a pool buffer overflow.
func (c *Collector) EventDropped(pool string, ev events.Event) {
	c.eventsDropped.WithLabelValues(pool).Inc()
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

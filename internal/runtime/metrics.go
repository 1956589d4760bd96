package runtime

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/bulkbus/internal/runtime/config"
)

// Callback failure kinds used as the "kind" label.
const (
	FailureKindError = "error"
	FailureKindPanic = "panic"
)

// Metrics holds the Prometheus collectors shared by buses and queues. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	mu sync.Mutex

	published        *prometheus.CounterVec
	callbackFailures *prometheus.CounterVec
	teardownFailures prometheus.Counter
	enqueued         *prometheus.CounterVec
	dequeued         *prometheus.CounterVec
	hibernations     *prometheus.CounterVec
	reloads          *prometheus.CounterVec
	backlog          *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors under namespace. An empty namespace
// falls back to "bulkbus" and a nil registerer to the default registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:       registerer,
		published:        newCounterVec(namespace, "events_published_total", "Total number of events dispatched", []string{"topic"}),
		callbackFailures: newCounterVec(namespace, "callback_failures_total", "Total number of subscriber callbacks that returned an error or panicked", []string{"topic", "kind"}),
		teardownFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Total number of finish callbacks that returned an error or panicked",
		}),
		enqueued:     newCounterVec(namespace, "queue_enqueued_total", "Total number of items accepted by a queue", []string{"queue"}),
		dequeued:     newCounterVec(namespace, "queue_dequeued_total", "Total number of items handed out by a queue", []string{"queue"}),
		hibernations: newCounterVec(namespace, "queue_hibernations_total", "Total number of times a queue moved its backlog to a store", []string{"queue"}),
		reloads:      newCounterVec(namespace, "queue_reloads_total", "Total number of times a queue reloaded its backlog from a store", []string{"queue"}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_backlog",
			Help:      "Number of items buffered in memory by a queue",
		}, []string{"queue"}),
	}
}

// NewMetricsFromConfig returns registered metrics when conf enables them and
// nil otherwise.
func NewMetricsFromConfig(conf *config.Config, registerer prometheus.Registerer) (*Metrics, error) {
	if conf == nil || !conf.MetricsEnabled {
		return nil, nil
	}
	m := NewMetrics(conf.MetricsNamespace, registerer)
	if err := m.Register(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.published,
		m.callbackFailures,
		m.teardownFailures,
		m.enqueued,
		m.dequeued,
		m.hibernations,
		m.reloads,
		m.backlog,
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range m.collectors() {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Handler serves the registry the metrics were registered with, or the
// default registry when it cannot be gathered from.
func (m *Metrics) Handler() http.Handler {
	if m != nil {
		if g, ok := m.registerer.(prometheus.Gatherer); ok {
			return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
		}
	}
	return promhttp.Handler()
}

func (m *Metrics) RecordPublished(topic string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordCallbackFailure(topic, kind string) {
	if m == nil {
		return
	}
	m.callbackFailures.WithLabelValues(topic, kind).Inc()
}

func (m *Metrics) RecordTeardownFailure() {
	if m == nil {
		return
	}
	m.teardownFailures.Inc()
}

func (m *Metrics) RecordEnqueued(queue string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enqueued.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) RecordDequeued(queue string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dequeued.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) RecordHibernation(queue string) {
	if m == nil {
		return
	}
	m.hibernations.WithLabelValues(queue).Inc()
}

func (m *Metrics) RecordReload(queue string) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(queue).Inc()
}

// SetBacklog records the in-memory backlog size of queue.
func (m *Metrics) SetBacklog(queue string, n int) {
	if m == nil {
		return
	}
	m.backlog.WithLabelValues(queue).Set(float64(n))
}

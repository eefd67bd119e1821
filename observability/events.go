package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"flashvault/core/events"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	swaps     prometheus.Counter
	lost      *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed vault events. The
// returned value is an events.Emitter and is attached to the host sink.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed vault events segmented by type.",
			}, []string{"type"}),
			swaps: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "swaps_total",
				Help:      "Count of flash swaps that committed.",
			}),
			lost: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "journal_failures_total",
				Help:      "Committed vault events the journal failed to persist, by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.swaps, eventRegistry.lost)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *eventMetrics) Emit(e events.Event) {
	if m == nil || e == nil {
		return
	}
	m.published.WithLabelValues(e.EventType()).Inc()
	if e.EventType() == events.TypeFlashSwapExecuted {
		m.swaps.Inc()
	}
}

// RecordJournalFailure counts an event that committed but could not be
// written to the journal. It matches journal.OnAppendError.
func (m *eventMetrics) RecordJournalFailure(eventType string, _ error) {
	if m == nil {
		return
	}
	m.lost.WithLabelValues(labelOrUnknown(eventType)).Inc()
}

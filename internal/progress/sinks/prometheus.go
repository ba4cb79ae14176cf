package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bssid-geolocator/internal/progress"
)

// PrometheusSink turns crawl events into run and query collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	neighbors     *prometheus.CounterVec

	mu     sync.Mutex
	active map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Total crawl runs finished, partitioned by final state.",
		}, []string{"state"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_active",
			Help: "Crawl runs currently draining.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per finished crawl run.",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 14400, 86400},
		}, []string{"state"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_queries_total",
			Help: "BSSID queries partitioned by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_query_duration_seconds",
			Help:    "End-to-end time per BSSID query, including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		neighbors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_neighbors_total",
			Help: "Neighbor observations written, partitioned by result.",
		}, []string{"result"}),
		active: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.queries,
		s.queryDuration,
		s.neighbors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone:
			state := evt.Note
			if state == "" {
				state = "unknown"
			}
			s.runsCompleted.WithLabelValues(state).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(state).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsActive.Dec()
			}
		case progress.StageQueryDone, progress.StageQueryFailed:
			outcome := string(evt.Outcome)
			s.queries.WithLabelValues(outcome).Inc()
			if evt.Dur > 0 {
				s.queryDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
			}
			s.addNeighbors("inserted", evt.Inserted)
			s.addNeighbors("updated", evt.Updated)
			s.addNeighbors("failed", evt.Failed)
		}
	}
	return nil
}

func (s *PrometheusSink) addNeighbors(result string, n int) {
	if n > 0 {
		s.neighbors.WithLabelValues(result).Add(float64(n))
	}
}

// track records a run as active (start=true) or finished and reports whether
// the set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	if start {
		if ok {
			return false
		}
		s.active[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.active, id)
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

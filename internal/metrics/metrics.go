// Package metrics exposes run counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/masahif/oppcrawl/internal/crawler"
)

const namespace = "oppcrawl"

// Metrics holds the run metrics on a private registry. It implements
// crawler.Observer.
type Metrics struct {
	registry *prometheus.Registry

	StubsDiscovered  prometheus.Counter
	DetailsFetched   *prometheus.CounterVec
	BatchesDelivered *prometheus.CounterVec
	RecordsDelivered prometheus.Counter
	AICalls          *prometheus.CounterVec
	RunPhase         *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StubsDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stubs_discovered_total",
			Help:      "Listing stubs discovered for the first time",
		}),
		DetailsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "details_fetched_total",
			Help:      "Detail fetches by result",
		}, []string{"result"}),
		BatchesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Delivery attempts by result",
		}, []string{"result"}),
		RecordsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_delivered_total",
			Help:      "Records confirmed by the sink",
		}),
		AICalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_calls_total",
			Help:      "Inference calls by final result",
		}, []string{"result"}),
		RunPhase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_phase",
			Help:      "1 for the current run phase",
		}, []string{"phase"}),
	}
}

func (m *Metrics) StubDiscovered() {
	m.StubsDiscovered.Inc()
}

func (m *Metrics) DetailFetched(result crawler.FetchResult) {
	m.DetailsFetched.WithLabelValues(string(result)).Inc()
}

func (m *Metrics) BatchDelivered(records int, ok bool) {
	if !ok {
		m.BatchesDelivered.WithLabelValues("failed").Inc()
		return
	}
	m.BatchesDelivered.WithLabelValues("ok").Inc()
	m.RecordsDelivered.Add(float64(records))
}

// AICall counts one inference call by its final result
func (m *Metrics) AICall(err error) {
	switch {
	case err == nil:
		m.AICalls.WithLabelValues("ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		m.AICalls.WithLabelValues("timeout").Inc()
	default:
		m.AICalls.WithLabelValues("error").Inc()
	}
}

// SetPhase marks phase as the current run phase
func (m *Metrics) SetPhase(phase crawler.RunPhase) {
	m.RunPhase.Reset()
	m.RunPhase.WithLabelValues(string(phase)).Set(1)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	slog.Info("Serving metrics", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

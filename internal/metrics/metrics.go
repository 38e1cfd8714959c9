package metrics

import (
	"context"
	"io"
	"time"

	"github.com/dmorgan81/illustrate/internal/image"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/do"
)

// Metrics owns a private registry so a process can build several injectors
// (tests, repeated CLI runs) without duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	// Attempts counts every backend call, including retries
	Attempts *prometheus.CounterVec
	// Retries counts scheduled retries by failure kind
	Retries *prometheus.CounterVec
	// Cards counts facade outcomes
	Cards *prometheus.CounterVec
	// CardDuration tracks end-to-end time per card
	CardDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "illustrate_backend_attempts_total",
				Help: "Total number of image generation attempts",
			},
			[]string{"backend", "outcome"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "illustrate_retries_total",
				Help: "Total number of retries scheduled",
			},
			[]string{"backend", "kind"},
		),
		Cards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "illustrate_cards_total",
				Help: "Total number of cards processed",
			},
			[]string{"backend", "outcome"},
		),
		CardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "illustrate_card_duration_seconds",
				Help:    "Time to illustrate one card in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend"},
		),
	}
}

func NewMetrics(*do.Injector) (*Metrics, error) {
	return New(), nil
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RetryHook counts retries for the given backend.
func (m *Metrics) RetryHook(backend string) image.RetryHook {
	return func(_ int, _ time.Duration, err *image.Error) {
		m.Retries.WithLabelValues(backend, err.Kind.String()).Inc()
	}
}

func (m *Metrics) ObserveCard(backend string, success bool, elapsed time.Duration) {
	m.Cards.WithLabelValues(backend, outcome(success)).Inc()
	m.CardDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Instrument counts each call made to g. The returned generator still
// exposes g's Close so shutdown reaches the backend.
func (m *Metrics) Instrument(backend string, g image.Generator) image.Generator {
	return &instrumented{Generator: g, backend: backend, attempts: m.Attempts}
}

type instrumented struct {
	image.Generator
	backend  string
	attempts *prometheus.CounterVec
}

func (i *instrumented) Generate(ctx context.Context, params image.Params) ([]byte, error) {
	data, err := i.Generator.Generate(ctx, params)
	label := outcome(err == nil)
	if err != nil {
		label = image.Classify(err).Kind.String()
	}
	i.attempts.WithLabelValues(i.backend, label).Inc()
	return data, err
}

func (i *instrumented) Close() error {
	if c, ok := i.Generator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

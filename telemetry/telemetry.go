package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPort = 2112

// Measurements collects measurements for prometheus.
// Each Measurements owns its registry, so many instances may live in one process.
type Measurements struct {
	registry   *prometheus.Registry
	mux        sync.RWMutex
	histograms map[string]prometheus.Histogram
	gauges     map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
}

// New creates Measurements with empty registry.
func New() *Measurements {
	return &Measurements{
		registry:   prometheus.NewRegistry(),
		histograms: make(map[string]prometheus.Histogram),
		gauges:     make(map[string]prometheus.Gauge),
		counters:   make(map[string]prometheus.Counter),
	}
}

// CreateUpdateObservableHistogram creates or replaces observable histogram.
func (m *Measurements) CreateUpdateObservableHistogram(name, description string) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: name,
		Help: description,
	})

	m.mux.Lock()
	defer m.mux.Unlock()
	if old, ok := m.histograms[name]; ok {
		m.registry.Unregister(old)
	}
	m.registry.MustRegister(hist)
	m.histograms[name] = hist
}

// RecordHistogramTime records histogram time in microseconds if entity with given name exists.
func (m *Measurements) RecordHistogramTime(name string, t time.Duration) bool {
	return m.RecordHistogramValue(name, float64(t.Microseconds()))
}

// RecordHistogramValue records histogram value if entity with given name exists.
func (m *Measurements) RecordHistogramValue(name string, f float64) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.histograms[name]; ok {
		v.Observe(f)
		return true
	}
	return false
}

// CreateUpdateObservableGauge creates or replaces observable gauge.
func (m *Measurements) CreateUpdateObservableGauge(name, description string) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: description,
	})

	m.mux.Lock()
	defer m.mux.Unlock()
	if old, ok := m.gauges[name]; ok {
		m.registry.Unregister(old)
	}
	m.registry.MustRegister(gauge)
	m.gauges[name] = gauge
}

// AddToGauge adds to gauge the value if entity with given name exists.
func (m *Measurements) AddToGauge(name string, f float64) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauges[name]; ok {
		v.Add(f)
		return true
	}
	return false
}

// IncrementGauge increments gauge if entity with given name exists.
func (m *Measurements) IncrementGauge(name string) bool {
	return m.AddToGauge(name, 1)
}

// DecrementGauge decrements gauge if entity with given name exists.
func (m *Measurements) DecrementGauge(name string) bool {
	return m.AddToGauge(name, -1)
}

// CreateUpdateObservableCounter creates or replaces observable counter.
func (m *Measurements) CreateUpdateObservableCounter(name, description string) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: description,
	})

	m.mux.Lock()
	defer m.mux.Unlock()
	if old, ok := m.counters[name]; ok {
		m.registry.Unregister(old)
	}
	m.registry.MustRegister(counter)
	m.counters[name] = counter
}

// IncrementCounter increments counter if entity with given name exists.
func (m *Measurements) IncrementCounter(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.counters[name]; ok {
		v.Inc()
		return true
	}
	return false
}

// Handler returns http handler exposing the measurements in prometheus format.
func (m *Measurements) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Run starts server with prometheus telemetry endpoint serving m.
// Default port of 2112 is used if port value is set to 0.
// Server is shut down when ctx is done, cancel is called if server fails.
func Run(ctx context.Context, cancel context.CancelFunc, port int, m *Measurements) error {
	if port > 65535 || port < 0 {
		return fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = defaultPort
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
		}
	}()

	go func() {
		<-ctx.Done()
		ctxx, cancelx := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelx()
		srv.Shutdown(ctxx)
	}()

	return nil
}

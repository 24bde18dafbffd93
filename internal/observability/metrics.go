package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CoverageCollector bundles Prometheus metrics for the coverage engine. It
// satisfies core.MetricsRecorder.
type CoverageCollector struct {
	gatherer prometheus.Gatherer

	UpdateDuration   prometheus.Histogram
	StepsTotal       prometheus.Counter
	DeferredTotal    *prometheus.CounterVec
	IntegrationGap   prometheus.Gauge
	ActiveImagers    prometheus.Gauge
	MapCells         prometheus.Gauge
	CoverageFraction *prometheus.GaugeVec
}

// NewCoverageCollector registers coverage metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCoverageCollector(reg prometheus.Registerer) (*CoverageCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_update_duration_seconds",
		Help:    "Wall-clock duration of one coverage engine Update call.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "coverage_update_duration_seconds")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coverage_steps_total",
		Help: "Cumulative number of fixed-size integration steps processed.",
	}), "coverage_steps_total")
	if err != nil {
		return nil, err
	}

	deferred, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_deferred_total",
		Help: "Work deferred because the ephemeris was unavailable, labeled by what was deferred.",
	}, []string{"reason"}), "coverage_deferred_total")
	if err != nil {
		return nil, err
	}

	gap, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_integration_gap_seconds",
		Help: "Simulated time between the last processed step and the current Update.",
	}), "coverage_integration_gap_seconds")
	if err != nil {
		return nil, err
	}

	imagers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_active_imagers",
		Help: "Current number of registered imaging platforms.",
	}), "coverage_active_imagers")
	if err != nil {
		return nil, err
	}

	cells, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_map_cells",
		Help: "Number of grid cells included in the current coverage selection.",
	}), "coverage_map_cells")
	if err != nil {
		return nil, err
	}

	fraction, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coverage_fraction",
		Help: "Fraction of selected map cells at or better than a threshold.",
	}, []string{"map_type", "threshold"}), "coverage_fraction")
	if err != nil {
		return nil, err
	}

	return &CoverageCollector{
		gatherer:         gatherer,
		UpdateDuration:   duration,
		StepsTotal:       steps,
		DeferredTotal:    deferred,
		IntegrationGap:   gap,
		ActiveImagers:    imagers,
		MapCells:         cells,
		CoverageFraction: fraction,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *CoverageCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *CoverageCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveUpdate records the duration of one Update and the steps it ran.
func (c *CoverageCollector) ObserveUpdate(d time.Duration, steps int) {
	if c == nil {
		return
	}
	if c.UpdateDuration != nil {
		c.UpdateDuration.Observe(d.Seconds())
	}
	if c.StepsTotal != nil && steps > 0 {
		c.StepsTotal.Add(float64(steps))
	}
}

// IncDeferred counts one deferral.
func (c *CoverageCollector) IncDeferred(reason string) {
	if c == nil || c.DeferredTotal == nil {
		return
	}
	c.DeferredTotal.WithLabelValues(reason).Inc()
}

// SetIntegrationGap updates the integration gap gauge.
func (c *CoverageCollector) SetIntegrationGap(seconds float64) {
	if c == nil || c.IntegrationGap == nil {
		return
	}
	c.IntegrationGap.Set(seconds)
}

// SetActiveImagers updates the active imager gauge.
func (c *CoverageCollector) SetActiveImagers(n int) {
	if c == nil || c.ActiveImagers == nil {
		return
	}
	c.ActiveImagers.Set(float64(n))
}

// SetCoverage publishes the fractions of the latest report. Thresholds are
// rendered as label values; unavailable coverage clears the series so no
// stale fraction is scraped.
func (c *CoverageCollector) SetCoverage(mapType string, thresholds, fractions []float64, mapCells int) {
	if c == nil {
		return
	}
	if c.MapCells != nil {
		c.MapCells.Set(float64(mapCells))
	}
	if c.CoverageFraction == nil {
		return
	}
	c.CoverageFraction.Reset()
	if len(fractions) != len(thresholds) {
		return
	}
	for i, th := range thresholds {
		c.CoverageFraction.WithLabelValues(mapType, strconv.FormatFloat(th, 'g', -1, 64)).Set(fractions[i])
	}
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ControlsCollector bundles Prometheus metrics for the control engine and
// exposes a ready-to-serve /metrics handler. All recording methods are
// nil-safe so callers never have to guard metric emission.
type ControlsCollector struct {
	gatherer prometheus.Gatherer

	ControlsFired    *prometheus.CounterVec
	FixedPointPasses *prometheus.HistogramVec

	ConvergenceFailures prometheus.Counter
	Backtracks          prometheus.Counter

	RegisteredControls prometheus.Gauge
	NetworkNodes       prometheus.Gauge
	NetworkLinks       prometheus.Gauge
}

// NewControlsCollector registers control engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewControlsCollector(reg prometheus.Registerer) (*ControlsCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controls_fired_total",
		Help: "Total number of control activations that changed state, labeled by priority level.",
	}, []string{"priority"})
	fired, err := registerCounterVec(reg, fired, "controls_fired_total")
	if err != nil {
		return nil, err
	}

	passes := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "controls_fixed_point_passes",
		Help:    "Passes needed to reach a fixed point at each priority level.",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 20, 30},
	}, []string{"priority"})
	passes, err = registerHistogramVec(reg, passes, "controls_fixed_point_passes")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controls_convergence_failures_total",
		Help: "Cumulative number of steps aborted because a priority level did not converge.",
	}), "controls_convergence_failures_total")
	if err != nil {
		return nil, err
	}

	backtracks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controls_backtracks_total",
		Help: "Cumulative number of pre-solve checks that recommended shrinking the step.",
	}), "controls_backtracks_total")
	if err != nil {
		return nil, err
	}

	registered, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controls_registered",
		Help: "Current number of registered controls.",
	}), "controls_registered")
	if err != nil {
		return nil, err
	}
	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_nodes",
		Help: "Current number of nodes in the water network.",
	}), "network_nodes")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_links",
		Help: "Current number of links in the water network.",
	}), "network_links")
	if err != nil {
		return nil, err
	}

	return &ControlsCollector{
		gatherer:            gatherer,
		ControlsFired:       fired,
		FixedPointPasses:    passes,
		ConvergenceFailures: failures,
		Backtracks:          backtracks,
		RegisteredControls:  registered,
		NetworkNodes:        nodes,
		NetworkLinks:        links,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ControlsCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ControlsCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ControlFired counts one state-changing control activation.
func (c *ControlsCollector) ControlFired(priority string) {
	if c == nil || c.ControlsFired == nil {
		return
	}
	c.ControlsFired.WithLabelValues(priority).Inc()
}

// ObservePasses records the pass count a priority level needed to converge.
func (c *ControlsCollector) ObservePasses(priority string, passes float64) {
	if c == nil || c.FixedPointPasses == nil {
		return
	}
	c.FixedPointPasses.WithLabelValues(priority).Observe(passes)
}

// ConvergenceFailure counts one aborted step.
func (c *ControlsCollector) ConvergenceFailure() {
	if c == nil || c.ConvergenceFailures == nil {
		return
	}
	c.ConvergenceFailures.Inc()
}

// BacktrackRecommended counts one pre-solve step-shrink recommendation.
func (c *ControlsCollector) BacktrackRecommended() {
	if c == nil || c.Backtracks == nil {
		return
	}
	c.Backtracks.Inc()
}

// SetRegisteredControls updates the registered-controls gauge.
func (c *ControlsCollector) SetRegisteredControls(count int) {
	if c == nil || c.RegisteredControls == nil {
		return
	}
	c.RegisteredControls.Set(float64(count))
}

// SetNetworkCounts updates the model size gauges.
func (c *ControlsCollector) SetNetworkCounts(nodes, links int) {
	if c == nil {
		return
	}
	if c.NetworkNodes != nil {
		c.NetworkNodes.Set(float64(nodes))
	}
	if c.NetworkLinks != nil {
		c.NetworkLinks.Set(float64(links))
	}
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

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
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

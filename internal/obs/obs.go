// Package obs holds the ambient observability stack shared by the
// container, index framework, and root package: a zap logger and a small
// set of prometheus counters/histograms, wired the way the teacher's
// internal/obs/metrics.go wires them.
package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// NewLogger returns a production zap logger, or a no-op logger if
// construction fails (mirrors the teacher's fail-open logging posture).
func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Metrics bundles the prometheus instruments the index framework and
// container report against. A process-wide registry is shared across
// Metrics instances so repeated Framework/Container construction in tests
// doesn't panic on duplicate registration.
type Metrics struct {
	IndexBuilds    *prometheus.CounterVec
	IndexBuildSecs *prometheus.HistogramVec
	IndexQueries   *prometheus.CounterVec
	IndexQuerySecs *prometheus.HistogramVec
	ContainerOps   *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// NewMetrics constructs a fresh Metrics bundle registered against reg. Pass
// a dedicated *prometheus.Registry in tests to avoid collisions with the
// process-wide default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IndexBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qview_index_builds_total",
			Help: "Number of index build operations, by plugin name and outcome.",
		}, []string{"plugin", "outcome"}),
		IndexBuildSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "qview_index_build_seconds",
			Help: "Index build latency in seconds, by plugin name.",
		}, []string{"plugin"}),
		IndexQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qview_index_queries_total",
			Help: "Number of index query operations, by plugin name and outcome.",
		}, []string{"plugin", "outcome"}),
		IndexQuerySecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "qview_index_query_seconds",
			Help: "Index query latency in seconds, by plugin name.",
		}, []string{"plugin"}),
		ContainerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qview_container_ops_total",
			Help: "Number of container operations, by operation name and outcome.",
		}, []string{"op", "outcome"}),
	}
}

// Default returns a process-wide Metrics bundle registered against the
// default prometheus registerer, constructed exactly once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultM
}

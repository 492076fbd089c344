// Package metrics exports builder activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"settlecraft.ai/internal/sim/reconcile"
)

// Recorder implements executor.Recorder on its own registry, so tests and
// multiple hosts never collide on the default one.
type Recorder struct {
	reg *prometheus.Registry

	steps       *prometheus.CounterVec
	cleared     prometheus.Counter
	rejected    prometheus.Counter
	stalls      *prometheus.CounterVec
	crafts      *prometheus.CounterVec
	behaviors   *prometheus.CounterVec
	tick        prometheus.Gauge
	pending     prometheus.Gauge
	reconciled  *prometheus.CounterVec
	snapshotDur prometheus.Histogram
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_build_steps_total",
			Help: "Build steps finished, by outcome (placed or skipped).",
		}, []string{"outcome"}),
		cleared: f.NewCounter(prometheus.CounterOpts{
			Name: "settlement_obstacles_cleared_total",
			Help: "Blocks broken to make room for a build step.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "settlement_placements_rejected_total",
			Help: "Placements the world refused.",
		}),
		stalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_builder_stalls_total",
			Help: "Builder stalls by reason.",
		}, []string{"reason"}),
		crafts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_craft_batches_total",
			Help: "Recipe batches crafted by builders.",
		}, []string{"recipe"}),
		behaviors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_behavior_ticks_total",
			Help: "Scheduler ticks spent in each behavior.",
		}, []string{"behavior"}),
		tick: f.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_tick",
			Help: "Current simulation tick.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_stations_pending",
			Help: "Stations the reconciler still tracks.",
		}),
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_reconciled_total",
			Help: "Reconciler outcomes (restored, completed, dropped).",
		}, []string{"outcome"}),
		snapshotDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_snapshot_duration_seconds",
			Help:    "Time to write one snapshot.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Recorder) StepPlaced()           { r.steps.WithLabelValues("placed").Inc() }
func (r *Recorder) StepSkipped()          { r.steps.WithLabelValues("skipped").Inc() }
func (r *Recorder) ObstacleCleared()      { r.cleared.Inc() }
func (r *Recorder) PlacementRejected()    { r.rejected.Inc() }
func (r *Recorder) Stalled(reason string) { r.stalls.WithLabelValues(reason).Inc() }

func (r *Recorder) Crafted(recipeID string, batches int) {
	r.crafts.WithLabelValues(recipeID).Add(float64(batches))
}

func (r *Recorder) BehaviorRan(name string) { r.behaviors.WithLabelValues(name).Inc() }

func (r *Recorder) SetTick(tick uint64) { r.tick.Set(float64(tick)) }

func (r *Recorder) ObserveReconcile(rep reconcile.Report) {
	r.pending.Set(float64(rep.Pending))
	r.reconciled.WithLabelValues("restored").Add(float64(rep.Restored))
	r.reconciled.WithLabelValues("completed").Add(float64(rep.Completed))
	r.reconciled.WithLabelValues("dropped").Add(float64(rep.Dropped))
}

func (r *Recorder) ObserveSnapshot(seconds float64) { r.snapshotDur.Observe(seconds) }

// Registry exposes the underlying registry for extra collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

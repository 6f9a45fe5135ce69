// Package metrics exports run outcomes as Prometheus gauges, written to a
// node-exporter textfile after each run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"souviens/internal/history"
)

const (
	namespace = "souviens"
	kindLabel = "kind"
	unitLabel = "unit"
	nameLabel = "name"
)

// Recorder holds the gauges of the current process.
type Recorder struct {
	registry *prometheus.Registry

	runLastTimestamp *prometheus.GaugeVec
	runDuration      *prometheus.GaugeVec
	runSuccess       *prometheus.GaugeVec
	runFailures      *prometheus.GaugeVec

	unitSucceeded *prometheus.GaugeVec
	unitErrors    *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	return &Recorder{
		registry: reg,
		runLastTimestamp: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_timestamp_seconds",
			Help:      "Unix time the last run of this kind finished.",
		}, []string{kindLabel}),
		runDuration: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of the last run of this kind.",
		}, []string{kindLabel}),
		runSuccess: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "success",
			Help:      "1 if the last run of this kind completed without any failure.",
		}, []string{kindLabel}),
		runFailures: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "failures",
			Help:      "Rows, files and units that failed in the last run of this kind.",
		}, []string{kindLabel}),
		unitSucceeded: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "succeeded",
			Help:      "Rows or files transferred for a table or bucket in the last run.",
		}, []string{kindLabel, unitLabel, nameLabel}),
		unitErrors: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "errors",
			Help:      "Rows or files that failed for a table or bucket in the last run.",
		}, []string{kindLabel, unitLabel, nameLabel}),
	}
}

// Registry returns the registry the gauges are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun sets the gauges from a recorded run.
func (r *Recorder) ObserveRun(run *history.Run) {
	finished := run.StartedAt
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	r.runLastTimestamp.WithLabelValues(run.Kind).Set(float64(finished.UnixNano()) / 1e9)
	r.runDuration.WithLabelValues(run.Kind).Set(run.Duration().Seconds())

	success := 0.0
	if run.Status == history.StatusSuccess {
		success = 1
	}
	r.runSuccess.WithLabelValues(run.Kind).Set(success)

	failures := 0
	for _, u := range run.Units {
		r.unitSucceeded.WithLabelValues(run.Kind, u.Kind, u.Name).Set(float64(u.Succeeded))
		r.unitErrors.WithLabelValues(run.Kind, u.Kind, u.Name).Set(float64(u.Errors))
		failures += u.Errors
	}
	r.runFailures.WithLabelValues(run.Kind).Set(float64(failures))
}

// WriteTextfile writes every gauge to path in the text exposition format.
// The file is replaced atomically, as the node exporter expects.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

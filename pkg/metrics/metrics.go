// Package metrics provides Prometheus metrics for mirrord.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/mirrord/pkg/errors"
	"github.com/sidkik/mirrord/pkg/sync"
	"github.com/sidkik/mirrord/pkg/trigger"
)

var (
	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrord_passes_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"result"},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirrord_pass_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrord_actions_total",
			Help: "Total number of mutations applied to the replica",
		},
		[]string{"kind"},
	)

	entryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirrord_entry_failures_total",
			Help: "Total number of entries that failed to sync",
		},
	)

	triggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrord_triggers_total",
			Help: "Total number of sync triggers",
		},
		[]string{"source", "coalesced"},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirrord_last_success_timestamp_seconds",
			Help: "Unix time of the last pass that completed without a root error",
		},
	)
)

// Recorder records the metrics of the reconciler and the trigger
// coordinator. It implements both sync.EventSink and trigger.Recorder.
type Recorder struct{}

var (
	_ sync.EventSink   = Recorder{}
	_ trigger.Recorder = Recorder{}
)

// Handle records a single reconciliation event.
func (Recorder) Handle(e sync.Event) {
	if e.Err != nil {
		entryFailuresTotal.Inc()
		return
	}
	actionsTotal.WithLabelValues(string(e.Kind)).Inc()
}

// Triggered records a sync trigger.
func (Recorder) Triggered(source trigger.Source, coalesced bool) {
	triggersTotal.WithLabelValues(string(source), strconv.FormatBool(coalesced)).Inc()
}

// PassCompleted records the outcome of a pass.
func (Recorder) PassCompleted(report sync.Report, err error) {
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case len(report.Failures) != 0:
		result = "partial"
	}
	passesTotal.WithLabelValues(result).Inc()

	if report.Finished.IsZero() {
		return
	}
	passDuration.Observe(report.Duration().Seconds())
	if err == nil {
		lastSuccess.Set(float64(report.Finished.Unix()))
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve serves the metrics on `addr` until `ctx` is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", addr).Info("Serving metrics")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.WithContext(err, "serve metrics")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WithContext(err, "shutdown metrics server")
	}
	return nil
}

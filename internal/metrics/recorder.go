package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Options control where batch metrics go once a run finishes. Both targets
// are optional; with neither set Flush is a no-op.
type Options struct {
	PushgatewayURL string
	Job            string
	TextfilePath   string
}

// Recorder collects per-run metrics on a private registry. A batch job exits
// before any scrape, so metrics are pushed or written out by Flush.
type Recorder struct {
	opts     Options
	registry *prometheus.Registry

	quotesTotal   *prometheus.CounterVec
	droppedTotal  *prometheus.CounterVec
	alertsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge
	runsTotal     *prometheus.CounterVec
}

// New creates a recorder.
func New(opts Options) *Recorder {
	if opts.Job == "" {
		opts.Job = "marketdata"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		opts:     opts,
		registry: reg,
		quotesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_quotes_total",
				Help: "Quotes handled per pipeline stage",
			},
			[]string{"stage"},
		),
		droppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_dropped_rows_total",
				Help: "Rows dropped during cleaning by reason",
			},
			[]string{"reason"},
		),
		alertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_alerts_total",
				Help: "Threshold alerts raised",
			},
			[]string{"symbol", "type"},
		),
		lastPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketdata_last_price",
				Help: "Last fetched price for a symbol",
			},
			[]string{"symbol"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketdata_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketdata_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_runs_total",
				Help: "Completed runs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RecordQuotes adds n to the counter of a stage such as fetched or stored.
func (r *Recorder) RecordQuotes(stage string, n int) {
	r.quotesTotal.WithLabelValues(stage).Add(float64(n))
}

// RecordDropped records cleaning drops.
func (r *Recorder) RecordDropped(reason string, n int) {
	if n > 0 {
		r.droppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordAlert counts one alert event.
func (r *Recorder) RecordAlert(symbol, kind string) {
	r.alertsTotal.WithLabelValues(symbol, kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordStage records stage latency.
func (r *Recorder) RecordStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun marks the run outcome; success also stamps the last-success gauge.
func (r *Recorder) RecordRun(success bool, at time.Time) {
	if success {
		r.runsTotal.WithLabelValues("success").Inc()
		r.lastSuccess.Set(float64(at.Unix()))
		return
	}
	r.runsTotal.WithLabelValues("failure").Inc()
}

// Flush pushes to the Pushgateway and/or writes the textfile collector file.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.opts.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(r.opts.TextfilePath, r.registry); err != nil {
			return fmt.Errorf("write metrics textfile: %w", err)
		}
	}
	if r.opts.PushgatewayURL != "" {
		if err := push.New(r.opts.PushgatewayURL, r.opts.Job).Gatherer(r.registry).PushContext(ctx); err != nil {
			return fmt.Errorf("push metrics: %w", err)
		}
	}
	return nil
}

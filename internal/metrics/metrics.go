// Package metrics exposes daemon counters to Prometheus. Everything is
// gathered at scrape time from narrow provider interfaces so the
// collector never holds engine or store references beyond what it reads.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialcore/dialcore/internal/engine"
)

// CallEngine is the engine surface the collector scrapes.
type CallEngine interface {
	Stats() engine.Stats
	State() (engine.StateView, error)
}

// HistoryCounter returns call log totals.
type HistoryCounter interface {
	CountByDirection(ctx context.Context, direction string) (int64, error)
	CountMissed(ctx context.Context) (int64, error)
}

// DeviceCounter returns the number of paired companion devices.
type DeviceCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers dialcore metrics at
// scrape time.
type Collector struct {
	calls     CallEngine
	history   HistoryCounter
	devices   DeviceCounter
	startTime time.Time

	// Metric descriptors.
	placeCallDesc     *prometheus.Desc
	mmiDesc           *prometheus.Desc
	activeCallsDesc   *prometheus.Desc
	phoneServiceDesc  *prometheus.Desc
	callsTotalDesc    *prometheus.Desc
	missedCallsDesc   *prometheus.Desc
	pairedDevicesDesc *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(calls CallEngine, history HistoryCounter, devices DeviceCounter, startTime time.Time) *Collector {
	return &Collector{
		calls:     calls,
		history:   history,
		devices:   devices,
		startTime: startTime,

		placeCallDesc: prometheus.NewDesc(
			"dialcore_place_call_attempts_total",
			"Finished place-call attempts by outcome status",
			[]string{"status"}, nil,
		),
		mmiDesc: prometheus.NewDesc(
			"dialcore_mmi_sessions_total",
			"Finished network-service sessions by final state",
			[]string{"state"}, nil,
		),
		activeCallsDesc: prometheus.NewDesc(
			"dialcore_active_calls",
			"Number of currently occupied call slots",
			nil, nil,
		),
		phoneServiceDesc: prometheus.NewDesc(
			"dialcore_phone_service",
			"Phone network registration (1=current state)",
			[]string{"phone", "tech", "service"}, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"dialcore_calls_total",
			"Total calls in the call log by direction",
			[]string{"direction"}, nil,
		),
		missedCallsDesc: prometheus.NewDesc(
			"dialcore_missed_calls_total",
			"Total missed calls in the call log",
			nil, nil,
		),
		pairedDevicesDesc: prometheus.NewDesc(
			"dialcore_paired_devices",
			"Number of paired companion devices",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialcore_uptime_seconds",
			"Seconds since the daemon started",
			nil, nil,
		),
	}
}

// Handler returns an http.Handler serving the collector on its own
// registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.placeCallDesc
	ch <- c.mmiDesc
	ch <- c.activeCallsDesc
	ch <- c.phoneServiceDesc
	ch <- c.callsTotalDesc
	ch <- c.missedCallsDesc
	ch <- c.pairedDevicesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		stats := c.calls.Stats()
		for status, count := range stats.PlaceCallOutcomes {
			ch <- prometheus.MustNewConstMetric(
				c.placeCallDesc, prometheus.CounterValue,
				float64(count), status,
			)
		}
		for state, count := range stats.MmiOutcomes {
			ch <- prometheus.MustNewConstMetric(
				c.mmiDesc, prometheus.CounterValue,
				float64(count), state,
			)
		}

		view, err := c.calls.State()
		if err != nil {
			slog.Error("metrics: failed to snapshot engine state", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.activeCallsDesc, prometheus.GaugeValue,
				float64(len(view.Calls)),
			)
			for _, p := range view.Phones {
				ch <- prometheus.MustNewConstMetric(
					c.phoneServiceDesc, prometheus.GaugeValue, 1.0,
					p.Name, p.Tech, p.Service,
				)
			}
		}
	}

	if c.history != nil {
		for _, dir := range []string{"incoming", "outgoing"} {
			count, err := c.history.CountByDirection(ctx, dir)
			if err != nil {
				slog.Error("metrics: failed to count calls", "error", err, "direction", dir)
				continue
			}
			ch <- prometheus.MustNewConstMetric(
				c.callsTotalDesc, prometheus.CounterValue,
				float64(count), dir,
			)
		}

		missed, err := c.history.CountMissed(ctx)
		if err != nil {
			slog.Error("metrics: failed to count missed calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.missedCallsDesc, prometheus.CounterValue,
				float64(missed),
			)
		}
	}

	if c.devices != nil {
		count, err := c.devices.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count paired devices", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.pairedDevicesDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// Package prometheusexp renders a metrics.Registry as Prometheus text
// exposition format, for the out-of-scope HTTP metrics endpoint to scrape.
// The domain-metrics encoding is deliberately dependency-light (plain
// fmt.Fprintf), matching the teacher's own metrics/prometheus exporter;
// Go runtime and process metrics are served separately through
// prometheus/client_golang's standard collectors and promhttp, which do
// real collection/registration work this package has no reason to
// reimplement by hand.
package prometheusexp

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/l2labs/sequencer/metrics"
)

// sanitize converts a dotted/slashed metric name (the convention used
// throughout this module, e.g. "queue/size") into a Prometheus-legal
// metric name, matching the teacher's own metrics/prometheus exporter.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return "l2sequencer_" + name
}

// Write renders every metric in r as Prometheus text exposition format.
func Write(r metrics.Registry, w io.Writer) {
	r.Each(func(name string, i interface{}) {
		metric := sanitize(name)
		switch m := i.(type) {
		case metrics.Counter:
			writeGauge(w, metric, float64(m.Snapshot().Count()))
		case metrics.Gauge:
			writeGauge(w, metric, float64(m.Snapshot().Value()))
		case metrics.GaugeFloat64:
			writeGauge(w, metric, m.Snapshot().Value())
		case metrics.Histogram:
			writeHistogram(w, metric, m.Snapshot())
		}
	})
}

func writeGauge(w io.Writer, name string, v float64) {
	fmt.Fprintf(w, "# TYPE %s gauge\n%s %v\n", name, name, v)
}

func writeHistogram(w io.Writer, name string, h metrics.Histogram) {
	ps := h.Percentiles(metrics.StandardPercentiles)
	fmt.Fprintf(w, "# TYPE %s summary\n", name)
	fmt.Fprintf(w, "%s{quantile=\"0.5\"} %v\n", name, ps[0])
	fmt.Fprintf(w, "%s{quantile=\"0.75\"} %v\n", name, ps[1])
	fmt.Fprintf(w, "%s{quantile=\"0.9\"} %v\n", name, ps[2])
	fmt.Fprintf(w, "%s{quantile=\"0.95\"} %v\n", name, ps[3])
	fmt.Fprintf(w, "%s{quantile=\"0.99\"} %v\n", name, ps[4])
	fmt.Fprintf(w, "%s_sum %v\n", name, h.Sum())
	fmt.Fprintf(w, "%s_count %v\n", name, h.Count())
	fmt.Fprintf(w, "%s_min %v\n", name, h.Min())
	fmt.Fprintf(w, "%s_max %v\n", name, h.Max())
}

// NewRuntimeHandler returns an http.Handler exposing Go runtime and process
// metrics (goroutine count, GC pause histogram, RSS, open file descriptors)
// through client_golang's standard collectors. It is registered on its own
// endpoint, independent of the hand-written domain-metrics dump from Write,
// since the two don't share a registry.
func NewRuntimeHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

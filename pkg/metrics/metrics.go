package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package metrics wraps prometheus with a registry that creates collectors
// lazily by name. Callers pass the metric name plus a label map; the first
// observation fixes the label schema for that name.

var (
	mu        sync.Mutex
	registry  = prometheus.NewRegistry()
	counters  = map[string]*prometheus.CounterVec{}
	gauges    = map[string]*prometheus.GaugeVec{}
	summaries = map[string]*prometheus.SummaryVec{}
)

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Inc increments the counter identified by name and labels.
func Inc(name string, labels map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	cv, ok := counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelKeys(labels))
		if err := registry.Register(cv); err != nil {
			return
		}
		counters[name] = cv
	}
	m, err := cv.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	m.Inc()
}

// AddGauge adds delta to the gauge identified by name and labels.
func AddGauge(name string, labels map[string]string, delta float64) {
	mu.Lock()
	defer mu.Unlock()
	gv, ok := gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelKeys(labels))
		if err := registry.Register(gv); err != nil {
			return
		}
		gauges[name] = gv
	}
	m, err := gv.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	m.Add(delta)
}

// SetGauge sets the gauge identified by name and labels to v.
func SetGauge(name string, labels map[string]string, v float64) {
	mu.Lock()
	defer mu.Unlock()
	gv, ok := gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelKeys(labels))
		if err := registry.Register(gv); err != nil {
			return
		}
		gauges[name] = gv
	}
	m, err := gv.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	m.Set(v)
}

// ObserveSummary records v into the summary identified by name and labels.
// Summaries carry the default latency quantiles.
func ObserveSummary(name string, labels map[string]string, v float64) {
	mu.Lock()
	defer mu.Unlock()
	sv, ok := summaries[name]
	if !ok {
		sv = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, labelKeys(labels))
		if err := registry.Register(sv); err != nil {
			return
		}
		summaries[name] = sv
	}
	m, err := sv.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	m.Observe(v)
}

// Handler exposes the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Snapshot renders current counter values as "name{k=v,...} value" lines,
// for tests and debug endpoints.
func Snapshot() []string {
	mu.Lock()
	defer mu.Unlock()
	mfs, err := registry.Gather()
	if err != nil {
		return nil
	}
	var out []string
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var lbls []string
			for _, lp := range m.GetLabel() {
				lbls = append(lbls, lp.GetName()+"="+lp.GetValue())
			}
			line := mf.GetName()
			if len(lbls) > 0 {
				line += "{" + strings.Join(lbls, ",") + "}"
			}
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	engine *Engine
}

type metric struct {
	*prometheus.Desc
	Collect func(*Engine, *prometheus.Desc, chan<- prometheus.Metric)
}

func desc(fqName, help string, variableLabels ...string) *prometheus.Desc {
	return prometheus.NewDesc(fqName, help, variableLabels, prometheus.Labels{})
}

func intGauge(desc *prometheus.Desc, val int, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(val), labels...)
}

func uint64Counter(desc *prometheus.Desc, val uint64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(val), labels...)
}

var metrics = []metric{
	{desc("bridge_frames_total", "Number of frames handled, by forwarding action.", "action"),
		func(e *Engine, desc *prometheus.Desc, ch chan<- prometheus.Metric) {
			s := e.Stats()
			ch <- uint64Counter(desc, s.Passed, Pass.String())
			ch <- uint64Counter(desc, s.Redirected, Redirect.String())
			ch <- uint64Counter(desc, s.Flooded, Flood.String())
		}},
	{desc("bridge_flood_copies_total", "Number of frame copies emitted by flooding."),
		func(e *Engine, desc *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(desc, e.Stats().Copies)
		}},
	{desc("bridge_learned_total", "Number of source addresses learned or refreshed."),
		func(e *Engine, desc *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(desc, e.Stats().Learned)
		}},
	{desc("bridge_stale_evictions_total", "Number of stale entries dropped on lookup."),
		func(e *Engine, desc *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(desc, e.Stats().Stale)
		}},
	{desc("bridge_mac_entries", "Number of entries in the learning table."),
		func(e *Engine, desc *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- intGauge(desc, e.Table().Len())
		}},
	{desc("bridge_members", "Number of bridge member interfaces."),
		func(e *Engine, desc *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- intGauge(desc, e.Members().Len())
		}},
}

// NewCollector exports the engine's counters and table sizes.
func NewCollector(engine *Engine) prometheus.Collector {
	return &collector{engine: engine}
}

func (m *collector) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range metrics {
		metric.Collect(m.engine, metric.Desc, ch)
	}
}

func (m *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range metrics {
		ch <- metric.Desc
	}
}

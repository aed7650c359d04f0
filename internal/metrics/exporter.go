// Package metrics exposes poll results as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/pylonmon/internal/poller"
	"github.com/shaunagostinho/pylonmon/internal/table"
)

const namespace = "pylon"

type gauge struct {
	column string
	desc   *prometheus.Desc
}

// status columns exported as labels of the state info metric
var stateLabels = []struct{ column, label string }{
	{"Base.St", "base"},
	{"Volt.St", "volt"},
	{"Curr.St", "curr"},
	{"Temp.St", "temp"},
	{"B.V.St", "bat_volt"},
	{"B.T.St", "bat_temp"},
	{"M.T.St", "mos_temp"},
}

// Exporter is a prometheus.Collector fed by poll results.
type Exporter struct {
	gauges       []gauge
	state        *prometheus.Desc
	polls        *prometheus.Desc
	failures     *prometheus.Desc
	duration     *prometheus.Desc
	lastSuccess  *prometheus.Desc
	batteryCount *prometheus.Desc

	mu          sync.Mutex
	report      table.Report
	total       int
	failed      map[string]int
	lastElapsed float64
	lastOK      float64

	registry *prometheus.Registry
}

// NewExporter creates an exporter registered on its own registry.
func NewExporter() *Exporter {
	battery := []string{"battery"}
	newGauge := func(column, name, help string) gauge {
		return gauge{column, prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "battery", name), help, battery, nil)}
	}

	stateNames := []string{"battery"}
	for _, s := range stateLabels {
		stateNames = append(stateNames, s.label)
	}

	e := &Exporter{
		gauges: []gauge{
			newGauge("Volt", "volt", "Battery voltage in mV"),
			newGauge("Curr", "curr", "Battery current in mA, negative when discharging"),
			newGauge("Tempr", "tempr", "Battery temperature in m°C"),
			newGauge("Tlow", "tlow", "Lowest cell temperature in m°C"),
			newGauge("Thigh", "thigh", "Highest cell temperature in m°C"),
			newGauge("Vlow", "vlow", "Lowest cell voltage in mV"),
			newGauge("Vhigh", "vhigh", "Highest cell voltage in mV"),
			newGauge("Coulomb", "coulomb", "State of charge in percent"),
			newGauge("MosTempr", "mos_tempr", "MOSFET temperature in m°C"),
		},
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "battery", "state_info"),
			"Status columns reported for each battery",
			stateNames,
			nil,
		),
		batteryCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batteries"),
			"Number of present batteries in the last report",
			nil,
			nil,
		),
		polls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "polls_total"),
			"Number of polls performed",
			nil,
			nil,
		),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "poll_failures_total"),
			"Number of failed polls by failure kind",
			[]string{"kind"},
			nil,
		),
		duration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_poll_duration_seconds"),
			"Wall time of the last poll",
			nil,
			nil,
		),
		lastSuccess: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_success_timestamp_seconds"),
			"Unix time of the last successful poll",
			nil,
			nil,
		),
		failed:   make(map[string]int),
		registry: prometheus.NewRegistry(),
	}
	e.registry.MustRegister(e)
	return e
}

// Registry returns the registry the exporter is registered on.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler serves the exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Observe implements poller.Observer.
func (e *Exporter) Observe(r poller.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total++
	e.lastElapsed = r.Duration.Seconds()
	if r.Report != nil {
		e.report = r.Report
	}
	if r.Err != nil {
		e.failed[r.Kind()]++
		return
	}
	e.lastOK = float64(r.At.Add(r.Duration).UnixNano()) / 1e9
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range e.gauges {
		ch <- g.desc
	}
	ch <- e.state
	ch <- e.batteryCount
	ch <- e.polls
	ch <- e.failures
	ch <- e.duration
	ch <- e.lastSuccess
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, row := range e.report {
		id := batteryID(row)
		for _, g := range e.gauges {
			if v, ok := row.Int(g.column); ok {
				ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(v), id)
			}
		}
		labels := []string{id}
		for _, s := range stateLabels {
			labels = append(labels, row.String(s.column))
		}
		ch <- prometheus.MustNewConstMetric(e.state, prometheus.GaugeValue, 1, labels...)
	}

	ch <- prometheus.MustNewConstMetric(e.batteryCount, prometheus.GaugeValue, float64(len(e.report)))
	ch <- prometheus.MustNewConstMetric(e.polls, prometheus.CounterValue, float64(e.total))
	for kind, n := range e.failed {
		ch <- prometheus.MustNewConstMetric(e.failures, prometheus.CounterValue, float64(n), kind)
	}
	ch <- prometheus.MustNewConstMetric(e.duration, prometheus.GaugeValue, e.lastElapsed)
	if e.lastOK > 0 {
		ch <- prometheus.MustNewConstMetric(e.lastSuccess, prometheus.GaugeValue, e.lastOK)
	}
}

func batteryID(row table.Row) string {
	if n, ok := row.Int("Power"); ok {
		return strconv.Itoa(n)
	}
	return row.String("Power")
}

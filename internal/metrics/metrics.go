// Package metrics exports the control loop state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smart_farm/internal/sysmgr"
)

// Metrics is a sysmgr.Observer and a sysmgr.FaultReporter.
type Metrics struct {
	reg *prometheus.Registry

	ticks         prometheus.Counter
	failSafeTicks prometheus.Counter
	readFailures  prometheus.Counter
	writeFailures prometheus.Counter
	commands      *prometheus.CounterVec
	faults        *prometheus.CounterVec

	avgTemp  prometheus.Gauge
	avgHum   prometheus.Gauge
	valid    prometheus.Gauge
	actuator *prometheus.GaugeVec
	mode     *prometheus.GaugeVec
}

var modes = []sysmgr.Mode{sysmgr.ModeAutomatic, sysmgr.ModeManual, sysmgr.ModeHybrid, sysmgr.ModeFailSafe}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sysmgr_ticks_total",
			Help: "Control ticks executed.",
		}),
		failSafeTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sysmgr_failsafe_ticks_total",
			Help: "Ticks that ran the fail-safe override.",
		}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sysmgr_sensor_read_failures_total",
			Help: "Failed sensor reads.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sysmgr_actuator_write_failures_total",
			Help: "Failed actuator writes.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sysmgr_actuator_commands_total",
			Help: "Actuator commands issued by the control loop by class and state.",
		}, []string{"class", "state"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sysmgr_faults_total",
			Help: "Faults reported to the system monitor.",
		}, []string{"fault"}),
		avgTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sysmgr_avg_temperature_celsius",
			Help: "Smoothed average temperature.",
		}),
		avgHum: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sysmgr_avg_humidity_percent",
			Help: "Smoothed average relative humidity.",
		}),
		valid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sysmgr_sensors_valid",
			Help: "1 when at least one temperature sensor reported this tick.",
		}),
		actuator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sysmgr_actuator_on",
			Help: "1 when any unit of the class is on.",
		}, []string{"class"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sysmgr_effective_mode",
			Help: "1 for the mode that ran this tick.",
		}, []string{"mode"}),
	}
	m.reg.MustRegister(
		m.ticks,
		m.failSafeTicks,
		m.readFailures,
		m.writeFailures,
		m.commands,
		m.faults,
		m.avgTemp,
		m.avgHum,
		m.valid,
		m.actuator,
		m.mode,
	)
	return m
}

// Observe records one tick report.
func (m *Metrics) Observe(rep sysmgr.Report) {
	m.ticks.Inc()
	if rep.EffectiveMode == sysmgr.ModeFailSafe {
		m.failSafeTicks.Inc()
	}
	m.readFailures.Add(float64(rep.Sensors.Failures))
	m.writeFailures.Add(float64(rep.WriteFailures))
	for _, c := range rep.Commands {
		state := "off"
		if c.On {
			state = "on"
		}
		m.commands.WithLabelValues(c.Class.String(), state).Inc()
	}

	if rep.Sensors.Valid {
		m.avgTemp.Set(rep.Sensors.AvgTemp)
		m.valid.Set(1)
	} else {
		m.valid.Set(0)
	}
	if rep.Sensors.HumValid {
		m.avgHum.Set(rep.Sensors.AvgHum)
	}

	for _, c := range sysmgr.Classes {
		if c == sysmgr.ClassLED {
			continue
		}
		m.actuator.WithLabelValues(c.String()).Set(boolGauge(rep.States.For(c)))
	}
	for _, md := range modes {
		m.mode.WithLabelValues(string(md)).Set(boolGauge(md == rep.EffectiveMode))
	}
}

// ReportFault counts a fault.
func (m *Metrics) ReportFault(id sysmgr.FaultID, _ error) {
	m.faults.WithLabelValues(string(id)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

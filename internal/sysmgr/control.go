package sysmgr

import (
	"fmt"
	"strconv"
)

// Command is one actuator write issued during a tick.
type Command struct {
	Class  Class  `json:"class"`
	Target Target `json:"target"`
	On     bool   `json:"on"`
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Class) UnmarshalText(b []byte) error {
	v, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (t Target) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Target) UnmarshalText(b []byte) error {
	if string(b) == "all" {
		*t = AllUnits()
		return nil
	}
	id, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("%w: target %q", ErrInvalidParameter, b)
	}
	*t = Unit(id)
	return nil
}

type unitKey struct {
	class Class
	unit  int
}

// output is one unit's desired state for the current tick.
type output struct {
	unitKey
	on bool
}

// tick carries the per-tick bookkeeping shared by the strategies. The
// strategies only plan outputs; commit writes them.
type tick struct {
	cfg      Config
	snap     SensorSnapshot
	plan     []output
	planned  map[unitKey]int
	commands []Command
	failures int
}

// IsCritical reports whether the averaged temperature reached the fire
// threshold. An invalid average is never critical.
func IsCritical(snap SensorSnapshot, fireC float64) bool {
	return snap.Valid && snap.AvgTemp >= fireC
}

// dispatch runs the strategy for the configured mode, writes the planned
// outputs and returns the mode that actually ran.
func (m *Manager) dispatch(t *tick, critical bool) Mode {
	mode := m.plan(t, critical)
	m.commit(t)
	m.effective = mode
	return mode
}

func (m *Manager) plan(t *tick, critical bool) Mode {
	if critical {
		m.log.Error("critical temperature, forcing fail-safe",
			"avg_temp", t.snap.AvgTemp, "threshold", m.opts.FireThresholdC, "configured_mode", t.cfg.Mode)
		m.failSafe(t)
		return ModeFailSafe
	}

	switch t.cfg.Mode {
	case ModeAutomatic:
		m.automatic(t)
	case ModeHybrid:
		m.automatic(t)
		m.schedule(t)
	case ModeManual:
		m.schedule(t)
	case ModeFailSafe:
		m.failSafe(t)
		return ModeFailSafe
	default:
		err := fmt.Errorf("%w: mode %q", ErrInvalidParameter, t.cfg.Mode)
		m.log.Error("unknown mode, falling back to fail-safe", "error", err)
		m.report(FaultModeInvalid, err)
		m.failSafe(t)
		return ModeFailSafe
	}
	m.want(t, ClassLED, Unit(m.opts.AlarmLED), false)
	return t.cfg.Mode
}

func runsSchedule(mode Mode) bool {
	return mode == ModeHybrid || mode == ModeManual
}

// automatic drives the threshold layer, either per sensor or from the
// system average.
func (m *Manager) automatic(t *tick) {
	if t.cfg.PerSensorControl && len(t.cfg.PerSensor) > 0 {
		m.perSensor(t)
		return
	}
	m.global(t)
}

func (m *Manager) skip(t *tick, c Class) bool {
	return t.cfg.Mode == ModeHybrid && t.cfg.HybridOverride.For(c)
}

func (m *Manager) global(t *tick) {
	cfg := t.cfg
	if t.snap.Valid {
		if !m.skip(t, ClassFan) {
			on := ShouldActivateAbove(t.snap.AvgTemp, cfg.GlobalTempMax, cfg.TempHysteresis, m.bank.AnyOn(ClassFan))
			m.want(t, ClassFan, AllUnits(), on)
		}
		if !m.skip(t, ClassHeater) {
			on := ShouldActivateBelow(t.snap.AvgTemp, cfg.GlobalTempMin, cfg.TempHysteresis, m.bank.AnyOn(ClassHeater))
			m.want(t, ClassHeater, AllUnits(), on)
		}
	} else {
		m.log.Warn("no valid temperature average, holding temperature actuators")
	}

	if t.snap.HumValid {
		if !m.skip(t, ClassVent) {
			on := ShouldActivateAbove(t.snap.AvgHum, cfg.GlobalHumMax, cfg.HumHysteresis, m.bank.AnyOn(ClassVent))
			m.want(t, ClassVent, AllUnits(), on)
		}
		if !m.skip(t, ClassPump) {
			on := ShouldActivateBelow(t.snap.AvgHum, cfg.GlobalHumMin, cfg.HumHysteresis, m.bank.AnyOn(ClassPump))
			m.want(t, ClassPump, AllUnits(), on)
		}
	}
}

// perSensor drives each sensor's mapped units from that sensor's own
// reading. A sensor whose own band is disabled is held against the global
// band instead.
func (m *Manager) perSensor(t *tick) {
	cfg := t.cfg
	for _, sc := range cfg.PerSensor {
		rd, ok := t.snap.Sensor(sc.SensorID)
		if !ok {
			m.log.Warn("per-sensor entry for unknown sensor", "sensor", sc.SensorID)
			continue
		}

		tMin, tMax := cfg.GlobalTempMin, cfg.GlobalTempMax
		if sc.TempEnabled {
			tMin, tMax = sc.TempMin, sc.TempMax
		}
		hMin, hMax := cfg.GlobalHumMin, cfg.GlobalHumMax
		if sc.HumEnabled {
			hMin, hMax = sc.HumMin, sc.HumMax
		}

		if rd.TempValid {
			if sc.Fan != nil && !m.skip(t, ClassFan) {
				on := ShouldActivateAbove(rd.Temp, tMax, cfg.TempHysteresis, m.unitOn(ClassFan, *sc.Fan))
				m.want(t, ClassFan, Unit(*sc.Fan), on)
			}
			if sc.Heater != nil && !m.skip(t, ClassHeater) {
				on := ShouldActivateBelow(rd.Temp, tMin, cfg.TempHysteresis, m.unitOn(ClassHeater, *sc.Heater))
				m.want(t, ClassHeater, Unit(*sc.Heater), on)
			}
		}
		if rd.HumValid {
			if sc.Vent != nil && !m.skip(t, ClassVent) {
				on := ShouldActivateAbove(rd.Hum, hMax, cfg.HumHysteresis, m.unitOn(ClassVent, *sc.Vent))
				m.want(t, ClassVent, Unit(*sc.Vent), on)
			}
			if sc.Pump != nil && !m.skip(t, ClassPump) {
				on := ShouldActivateBelow(rd.Hum, hMin, cfg.HumHysteresis, m.unitOn(ClassPump, *sc.Pump))
				m.want(t, ClassPump, Unit(*sc.Pump), on)
			}
		}
	}
}

// schedule runs the light schedule and the duty cycles. Timers advance even
// for overridden classes so releasing the override does not shift the phase.
// Timers restart in the on phase whenever the schedule layer resumes after
// ticks that did not run it.
func (m *Manager) schedule(t *tick) {
	cfg := t.cfg
	if !runsSchedule(m.effective) {
		m.cycles.Reset()
	}
	if cfg.LightSchedule.Enabled && !m.skip(t, ClassLight) {
		m.want(t, ClassLight, AllUnits(), LightOn(cfg.LightSchedule, m.opts.Clock()))
	}
	for _, c := range []Class{ClassFan, ClassHeater, ClassPump, ClassVent} {
		cy, _ := cfg.CycleFor(c)
		on, active := m.cycles.Step(c, cy)
		if active && !m.skip(t, c) {
			m.want(t, c, AllUnits(), on)
		}
	}
}

// failSafe plans the safe output set. Nothing else is written in the same
// tick.
func (m *Manager) failSafe(t *tick) {
	m.want(t, ClassFan, AllUnits(), true)
	m.want(t, ClassVent, AllUnits(), true)
	m.want(t, ClassPump, AllUnits(), false)
	m.want(t, ClassHeater, AllUnits(), false)
	if m.bank.Has(ClassLight, m.opts.FailSafeLight) {
		m.want(t, ClassLight, Unit(m.opts.FailSafeLight), true)
	}
	m.want(t, ClassLED, Unit(m.opts.AlarmLED), true)
	m.report(FaultCritical, fmt.Errorf("fail-safe active, avg temp %.1f°C", t.snap.AvgTemp))
}

func (m *Manager) unitOn(c Class, unit int) bool {
	on, err := m.bank.State(c, unit)
	return err == nil && on
}

// want plans the units of target to be on or off. A later plan for the same
// unit in the same tick replaces the earlier one.
func (m *Manager) want(t *tick, c Class, target Target, on bool) {
	var units []int
	if id, ok := target.ID(); ok {
		if !m.bank.Has(c, id) {
			return
		}
		units = []int{id}
	} else {
		units = m.bank.Units(c)
	}
	if t.planned == nil {
		t.planned = make(map[unitKey]int)
	}
	for _, u := range units {
		k := unitKey{c, u}
		if i, ok := t.planned[k]; ok {
			t.plan[i].on = on
			continue
		}
		t.planned[k] = len(t.plan)
		t.plan = append(t.plan, output{unitKey: k, on: on})
	}
}

// commit writes every planned unit, whatever its driver reports, so a relay
// that lost its state behind the driver's back is driven again on the next
// tick. Only changes are recorded as commands. Failures are logged and
// reported but never stop the remaining writes.
func (m *Manager) commit(t *tick) {
	for _, o := range t.plan {
		cur, err := m.bank.State(o.class, o.unit)
		if err != nil || cur != o.on {
			t.commands = append(t.commands, Command{Class: o.class, Target: Unit(o.unit), On: o.on})
		}
		if err := m.bank.Apply(o.class, Unit(o.unit), o.on); err != nil {
			t.failures++
			m.log.Error("actuator write failed", "class", o.class, "unit", o.unit, "on", o.on, "error", err)
			m.report(FaultActuator, err)
		}
	}
}

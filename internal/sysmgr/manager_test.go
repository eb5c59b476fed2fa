package sysmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioConfig() Config {
	c := DefaultConfig()
	c.GlobalTempMin = 15
	c.GlobalTempMax = 30
	c.TempHysteresis = 2
	c.LightSchedule.Enabled = false
	return c
}

func TestTickEndToEndHysteresis(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 35
	r.sensors.hum[0] = 65

	rep := r.tick()
	assert.True(t, r.act[ClassFan].on(0), "35°C turns the fan on")
	assert.False(t, r.act[ClassHeater].on(0))
	assert.True(t, rep.States.Fans)
	assert.Equal(t, ModeAutomatic, rep.EffectiveMode)

	r.sensors.temp[0] = 29
	r.tick()
	assert.True(t, r.act[ClassFan].on(0), "29°C is still above max-hysteresis")

	r.sensors.temp[0] = 27
	rep = r.tick()
	assert.False(t, r.act[ClassFan].on(0), "27°C turns the fan off")
	assert.False(t, rep.States.Fans)
}

func TestTickInvalidAverageDoesNotDriveActuators(t *testing.T) {
	r := newRig(scenarioConfig())
	r.act[ClassFan].state[0] = true
	r.act[ClassHeater].state[0] = false
	r.sensors.tempErr[0] = errors.New("bus error")
	r.sensors.humErr[0] = errors.New("bus error")

	rep := r.tick()
	assert.False(t, rep.Sensors.Valid)
	assert.True(t, r.act[ClassFan].on(0), "fan is held, not switched off by a zero average")
	assert.Zero(t, r.act[ClassFan].writes)
	assert.Zero(t, r.act[ClassHeater].writes)
	assert.Empty(t, rep.Commands)
}

func TestTickHumidityControl(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 22
	r.sensors.hum[0] = 90

	r.tick()
	assert.True(t, r.act[ClassVent].on(0))
	assert.False(t, r.act[ClassPump].on(0))

	r.sensors.hum[0] = 40
	r.tick()
	assert.False(t, r.act[ClassVent].on(0))
	assert.True(t, r.act[ClassPump].on(0))
}

func failSafeOutputs(r *rig) map[Class]bool {
	out := map[Class]bool{}
	for _, c := range Classes {
		out[c] = r.act[c].on(0)
	}
	return out
}

func TestFailSafeOverrideIsModeIndependent(t *testing.T) {
	var outputs []map[Class]bool
	for _, mode := range []Mode{ModeAutomatic, ModeHybrid, ModeManual, ModeFailSafe} {
		cfg := scenarioConfig()
		cfg.Mode = mode
		cfg.LightSchedule = LightSchedule{Enabled: true, OnHour: 20, OffHour: 21}
		cfg.FansCycle = Cycle{Enabled: true, OnTimeSec: 1, OffTimeSec: 100}
		r := newRig(cfg)
		r.act[ClassHeater].state[0] = true
		r.act[ClassPump].state[0] = true
		r.sensors.temp[0] = 85
		r.sensors.hum[0] = 30

		for i := 0; i < 3; i++ {
			rep := r.tick()
			assert.True(t, rep.Critical, mode)
			assert.Equal(t, ModeFailSafe, rep.EffectiveMode, mode)
		}
		outputs = append(outputs, failSafeOutputs(r))
		assert.GreaterOrEqual(t, r.faults.count(FaultCritical), 3)
		assert.GreaterOrEqual(t, r.faults.count(FaultFireDetected), 3)
	}

	want := map[Class]bool{
		ClassFan: true, ClassVent: true, ClassPump: false,
		ClassHeater: false, ClassLight: true, ClassLED: true,
	}
	for _, got := range outputs {
		assert.Equal(t, want, got)
	}
}

func TestFailSafeIsNotSticky(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 90
	r.sensors.hum[0] = 60
	r.tick()
	require.True(t, r.act[ClassLED].on(0))

	r.sensors.temp[0] = 20
	rep := r.tick()
	assert.False(t, rep.Critical)
	assert.Equal(t, ModeAutomatic, rep.EffectiveMode)
	assert.False(t, r.act[ClassLED].on(0), "alarm indicator clears once the condition is gone")
}

func TestFailSafeRedrivesUnitsWithStaleState(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 85
	r.sensors.hum[0] = 60
	// The driver still reports the fan on although the relay lost power.
	r.act[ClassFan].state[0] = true

	var reps []Report
	for i := 0; i < 3; i++ {
		reps = append(reps, r.tick())
	}

	assert.Equal(t, 3, r.act[ClassFan].writes, "fan is written on every critical tick")
	assert.Equal(t, 3, r.act[ClassHeater].writes, "heater off is written even when already off")
	assert.NotContains(t, reps[0].Commands, Command{Class: ClassFan, Target: Unit(0), On: true})
	assert.Contains(t, reps[0].Commands, Command{Class: ClassLED, Target: Unit(0), On: true})
	assert.Empty(t, reps[2].Commands)
}

func TestThresholdLayerRewritesEveryTick(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 22
	r.sensors.hum[0] = 60

	r.tick()
	rep := r.tick()
	assert.Equal(t, 2, r.act[ClassFan].writes)
	assert.Equal(t, 2, r.act[ClassHeater].writes)
	assert.Empty(t, rep.Commands, "unchanged outputs are not reported as commands")
}

func TestUnknownModeFallsBackToFailSafe(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 20
	r.sensors.hum[0] = 60

	tk := &tick{cfg: scenarioConfig()}
	tk.cfg.Mode = "turbo"
	tk.snap = r.mgr.agg.Update(r.sensors)

	assert.Equal(t, ModeFailSafe, r.mgr.dispatch(tk, false))
	assert.Equal(t, 1, r.faults.count(FaultModeInvalid))
	assert.True(t, r.act[ClassFan].on(0))
	assert.True(t, r.act[ClassLED].on(0))
}

func TestManualModeRunsOnlySchedules(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Mode = ModeManual
	cfg.LightSchedule = LightSchedule{Enabled: true, OnHour: 22, OffHour: 6}
	cfg.PumpsCycle = Cycle{Enabled: true, OnTimeSec: 2, OffTimeSec: 1}
	r := newRig(cfg)
	r.sensors.temp[0] = 35
	r.sensors.hum[0] = 60
	r.now = time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)

	r.tick()
	assert.False(t, r.act[ClassFan].on(0), "no threshold control in manual mode")
	assert.True(t, r.act[ClassLight].on(0))
	assert.True(t, r.act[ClassPump].on(0))

	r.tick()
	assert.False(t, r.act[ClassPump].on(0), "pump cycle switches off after 2 s")

	r.now = time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC)
	r.tick()
	assert.False(t, r.act[ClassLight].on(0))
	assert.True(t, r.act[ClassPump].on(0))
}

func TestHybridScheduleWinsOverThresholds(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Mode = ModeHybrid
	cfg.FansCycle = Cycle{Enabled: true, OnTimeSec: 100, OffTimeSec: 100}
	r := newRig(cfg)
	r.sensors.temp[0] = 22
	r.sensors.hum[0] = 60

	rep := r.tick()
	assert.True(t, r.act[ClassFan].on(0), "cycle layer writes after the threshold layer")
	require.Len(t, rep.Commands, 1)
	assert.Equal(t, Command{Class: ClassFan, Target: Unit(0), On: true}, rep.Commands[0])
}

func TestCyclesRestartWhenScheduleResumes(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Mode = ModeManual
	cfg.PumpsCycle = Cycle{Enabled: true, OnTimeSec: 3, OffTimeSec: 3}
	r := newRig(cfg)
	r.sensors.temp[0] = 22
	r.sensors.hum[0] = 60

	setMode := func(mode Mode) {
		require.NoError(t, r.store.Modify(func(c *Config) error {
			c.Mode = mode
			return nil
		}))
	}

	r.tick()
	r.tick()
	setMode(ModeAutomatic)
	r.tick()
	setMode(ModeManual)
	r.tick()

	on, elapsed := r.mgr.cycles.Phase(ClassPump)
	assert.True(t, on)
	assert.Equal(t, time.Second, elapsed, "timer starts over instead of resuming")
}

func TestHybridSchedulePlanIsSingleWrite(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Mode = ModeHybrid
	cfg.FansCycle = Cycle{Enabled: true, OnTimeSec: 100, OffTimeSec: 100}
	r := newRig(cfg)
	r.sensors.temp[0] = 22
	r.sensors.hum[0] = 60

	r.tick()
	assert.Equal(t, 1, r.act[ClassFan].writes, "threshold and cycle layers do not both write the fan")
}

func TestHybridOverrideSkipsAutomaticLayer(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Mode = ModeHybrid
	r := newRig(cfg)
	r.sensors.temp[0] = 35
	r.sensors.hum[0] = 60

	require.NoError(t, r.mgr.Command(ClassFan, AllUnits(), false))
	assert.True(t, r.store.Get().HybridOverride.Fans)

	r.tick()
	assert.False(t, r.act[ClassFan].on(0), "overridden fan is left alone")

	require.NoError(t, r.mgr.ReleaseOverride(ClassFan))
	r.tick()
	assert.True(t, r.act[ClassFan].on(0))
}

func TestManualCommandRefusedInAutomatic(t *testing.T) {
	r := newRig(scenarioConfig())
	err := r.mgr.Command(ClassPump, Unit(0), true)
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, r.act[ClassPump].on(0))
}

func TestManualCommandUnknownUnit(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Mode = ModeManual
	r := newRig(cfg)
	assert.ErrorIs(t, r.mgr.Command(ClassPump, Unit(4), true), ErrNotFound)
}

func TestPerSensorControl(t *testing.T) {
	cfg := scenarioConfig()
	cfg.PerSensorControl = true
	cfg.PerSensor = []SensorControl{
		{SensorID: 1, TempEnabled: true, TempMin: 10, TempMax: 20, Fan: intp(0), Heater: intp(0)},
		{SensorID: 2, HumEnabled: true, HumMin: 40, HumMax: 60, Vent: intp(1), Pump: intp(1)},
	}

	sensors := newFakeSensors()
	fans, heaters, vents, pumps := newFakeActuator(), newFakeActuator(), newFakeActuator(), newFakeActuator()
	bank := NewBank()
	bank.Attach(ClassFan, fans, 0, 1)
	bank.Attach(ClassHeater, heaters, 0, 1)
	bank.Attach(ClassVent, vents, 0, 1)
	bank.Attach(ClassPump, pumps, 0, 1)

	store := NewStore(newMemPersistence(), quietLogger())
	store.Init(context.Background())
	require.NoError(t, store.Update(cfg))
	m := New(Options{SensorIDs: []int{1, 2}, TempAlpha: 1, HumAlpha: 1}, store, sensors, bank, nil, quietLogger())

	sensors.temp[1], sensors.hum[1] = 25, 50
	sensors.temp[2], sensors.hum[2] = 12, 70
	m.Tick(context.Background())

	assert.True(t, fans.on(0), "sensor 1 is above its own 20°C max")
	assert.False(t, fans.on(1), "unit 1 is not mapped for fans")
	assert.False(t, heaters.on(0))
	assert.True(t, vents.on(1), "sensor 2 is above its own 60% max")
	assert.False(t, pumps.on(1))
	assert.False(t, vents.on(0))
}

func TestPerSensorNarrowBandKeepsFanAndHeaterExclusive(t *testing.T) {
	cfg := scenarioConfig()
	cfg.PerSensorControl = true
	cfg.PerSensor = []SensorControl{
		{SensorID: 0, TempEnabled: true, TempMin: 20, TempMax: 23, Fan: intp(0), Heater: intp(0)},
	}
	r := newRig(cfg)
	r.sensors.hum[0] = 60

	for _, temp := range []float64{19.5, 21.5, 23.5, 21.5, 19.5} {
		r.sensors.temp[0] = temp
		r.tick()
		assert.False(t, r.act[ClassFan].on(0) && r.act[ClassHeater].on(0), "fan and heater both on at %.1f°C", temp)
	}
}

func TestActuatorFailureDoesNotAbortTick(t *testing.T) {
	r := newRig(scenarioConfig())
	r.act[ClassFan].fail[0] = true
	r.sensors.temp[0] = 35
	r.sensors.hum[0] = 90

	rep := r.tick()
	assert.Equal(t, 1, rep.WriteFailures)
	assert.Equal(t, 1, r.faults.count(FaultActuator))
	assert.True(t, r.act[ClassVent].on(0), "vent is still driven")
}

func TestTickPersistsDirtyConfig(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 22
	r.persist.saveErr = errors.New("eeprom write")

	rep := r.tick()
	assert.NotEmpty(t, rep.SaveError)
	assert.Equal(t, 1, r.faults.count(FaultConfigPersist))
	assert.True(t, r.store.Dirty())

	r.persist.saveErr = nil
	rep = r.tick()
	assert.Empty(t, rep.SaveError)
	assert.False(t, r.store.Dirty())
	assert.Contains(t, r.persist.blobs, ConfigRecordID)
}

func TestObserversAndLast(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 22
	var seen []uint64
	r.mgr.AddObserver(ObserverFunc(func(rep Report) { seen = append(seen, rep.Seq) }))

	r.tick()
	r.tick()
	assert.Equal(t, []uint64{1, 2}, seen)
	assert.Equal(t, uint64(2), r.mgr.Last().Seq)
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(scenarioConfig())
	r.sensors.temp[0] = 22
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.mgr.Run(ctx), context.Canceled)
}

package sysmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleTiming(t *testing.T) {
	e := NewCycleEngine(time.Second)
	c := Cycle{Enabled: true, OnTimeSec: 10, OffTimeSec: 5}

	for i := 1; i < 10; i++ {
		on, active := e.Step(ClassFan, c)
		assert.True(t, active)
		assert.True(t, on, "tick %d", i)
	}
	on, _ := e.Step(ClassFan, c)
	assert.False(t, on, "off after 10 ticks")
	_, elapsed := e.Phase(ClassFan)
	assert.Zero(t, elapsed)

	for i := 1; i < 5; i++ {
		on, _ = e.Step(ClassFan, c)
		assert.False(t, on, "off tick %d", i)
	}
	on, _ = e.Step(ClassFan, c)
	assert.True(t, on, "back on after 5 more ticks")
	_, elapsed = e.Phase(ClassFan)
	assert.Zero(t, elapsed)
}

func TestCycleDisabledIsInactive(t *testing.T) {
	e := NewCycleEngine(time.Second)
	on, active := e.Step(ClassPump, Cycle{OnTimeSec: 10, OffTimeSec: 5})
	assert.False(t, active)
	assert.False(t, on)
}

func TestCycleResetsOnReenable(t *testing.T) {
	e := NewCycleEngine(time.Second)
	c := Cycle{Enabled: true, OnTimeSec: 3, OffTimeSec: 3}
	for i := 0; i < 4; i++ {
		e.Step(ClassVent, c)
	}
	on, elapsed := e.Phase(ClassVent)
	assert.False(t, on)
	assert.Equal(t, time.Second, elapsed)

	c.Enabled = false
	e.Step(ClassVent, c)
	on, elapsed = e.Phase(ClassVent)
	assert.False(t, on, "disabled cycle is frozen")
	assert.Equal(t, time.Second, elapsed)

	c.Enabled = true
	on, _ = e.Step(ClassVent, c)
	assert.True(t, on, "re-enabled cycle restarts in the on phase")
	_, elapsed = e.Phase(ClassVent)
	assert.Equal(t, time.Second, elapsed)
}

func TestCycleReset(t *testing.T) {
	e := NewCycleEngine(time.Second)
	c := Cycle{Enabled: true, OnTimeSec: 2, OffTimeSec: 2}
	for i := 0; i < 3; i++ {
		e.Step(ClassPump, c)
	}
	on, _ := e.Phase(ClassPump)
	require.False(t, on)

	e.Reset()
	on, _ = e.Step(ClassPump, c)
	assert.True(t, on)
	_, elapsed := e.Phase(ClassPump)
	assert.Equal(t, time.Second, elapsed)
}

func TestCycleClassesAreIndependent(t *testing.T) {
	e := NewCycleEngine(500 * time.Millisecond)
	c := Cycle{Enabled: true, OnTimeSec: 1, OffTimeSec: 1}
	e.Step(ClassFan, c)
	on, _ := e.Step(ClassFan, c)
	assert.False(t, on)
	on, _ = e.Step(ClassHeater, c)
	assert.True(t, on)
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 1, 1, h, m, s, 0, time.UTC)
}

func TestLightOnOvernight(t *testing.T) {
	ls := LightSchedule{Enabled: true, OnHour: 22, OffHour: 6}

	assert.True(t, LightOn(ls, at(23, 30, 0)))
	assert.False(t, LightOn(ls, at(12, 0, 0)))
	assert.True(t, LightOn(ls, at(22, 0, 0)))
	assert.False(t, LightOn(ls, at(6, 0, 0)))
	assert.True(t, LightOn(ls, at(5, 59, 59)))
	assert.True(t, LightOn(ls, at(0, 0, 0)))
}

func TestLightOnDaytime(t *testing.T) {
	ls := LightSchedule{Enabled: true, OnHour: 6, OnMinute: 30, OffHour: 20}

	assert.False(t, LightOn(ls, at(6, 29, 59)))
	assert.True(t, LightOn(ls, at(6, 30, 0)))
	assert.True(t, LightOn(ls, at(19, 59, 59)))
	assert.False(t, LightOn(ls, at(20, 0, 0)))
	assert.False(t, LightOn(ls, at(23, 0, 0)))
}

func TestLightOnEqualTimesIsAlwaysOn(t *testing.T) {
	ls := LightSchedule{Enabled: true, OnHour: 8, OffHour: 8}
	assert.True(t, LightOn(ls, at(8, 0, 0)))
	assert.True(t, LightOn(ls, at(3, 0, 0)))
	assert.True(t, LightOn(ls, at(7, 59, 0)))
}

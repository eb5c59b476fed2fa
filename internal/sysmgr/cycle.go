package sysmgr

import "time"

type cycleTimer struct {
	elapsedMs int64
	off       bool
	enabled   bool
}

// CycleEngine owns the duty-cycle timers of every actuator class. It is
// advanced once per tick by the manager and is not safe for concurrent use.
type CycleEngine struct {
	tickMs int64
	timers map[Class]*cycleTimer
}

// NewCycleEngine creates an engine advanced by tick on every Step.
func NewCycleEngine(tick time.Duration) *CycleEngine {
	return &CycleEngine{
		tickMs: tick.Milliseconds(),
		timers: make(map[Class]*cycleTimer),
	}
}

// Step advances the timer of class by one tick and returns the state the
// class should be in. active is false while the cycle is disabled; the
// timer is then frozen, and re-enabling restarts it in the on phase.
func (e *CycleEngine) Step(class Class, c Cycle) (on, active bool) {
	t := e.timers[class]
	if t == nil {
		t = &cycleTimer{}
		e.timers[class] = t
	}
	if !c.Enabled {
		t.enabled = false
		return false, false
	}
	if !t.enabled {
		*t = cycleTimer{enabled: true}
	}

	t.elapsedMs += e.tickMs
	switch {
	case !t.off && t.elapsedMs >= int64(c.OnTimeSec)*1000:
		t.off = true
		t.elapsedMs = 0
	case t.off && t.elapsedMs >= int64(c.OffTimeSec)*1000:
		t.off = false
		t.elapsedMs = 0
	}
	return !t.off, true
}

// Reset returns every class to the start of its on phase.
func (e *CycleEngine) Reset() {
	for _, t := range e.timers {
		*t = cycleTimer{}
	}
}

// Phase reports the current phase and accumulated time of class.
func (e *CycleEngine) Phase(class Class) (on bool, elapsed time.Duration) {
	t := e.timers[class]
	if t == nil {
		return true, 0
	}
	return !t.off, time.Duration(t.elapsedMs) * time.Millisecond
}

// LightOn reports whether the schedule wants the lights on at now. The on
// edge is inclusive and the off edge exclusive.
func LightOn(ls LightSchedule, now time.Time) bool {
	nowS := now.Hour()*3600 + now.Minute()*60 + now.Second()
	onS := ls.OnHour*3600 + ls.OnMinute*60
	offS := ls.OffHour*3600 + ls.OffMinute*60
	if onS < offS {
		return nowS >= onS && nowS < offS
	}
	return nowS >= onS || nowS < offS
}

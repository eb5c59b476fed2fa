package sysmgr

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Class identifies a kind of actuator.
type Class int

const (
	ClassFan Class = iota
	ClassHeater
	ClassPump
	ClassVent
	ClassLight
	ClassLED
)

// Classes lists every actuator class in command order.
var Classes = []Class{ClassFan, ClassHeater, ClassPump, ClassVent, ClassLight, ClassLED}

var classNames = map[Class]string{
	ClassFan:    "fan",
	ClassHeater: "heater",
	ClassPump:   "pump",
	ClassVent:   "vent",
	ClassLight:  "light",
	ClassLED:    "led",
}

func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass maps a name such as "fan" or "fans" to its Class.
func ParseClass(s string) (Class, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	if s == "ventilator" {
		s = "vent"
	}
	for c, n := range classNames {
		if n == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown actuator class %q", ErrInvalidParameter, s)
}

// Target addresses either one unit of a class or every configured unit.
type Target struct {
	all  bool
	unit int
}

// Unit targets a single unit.
func Unit(id int) Target { return Target{unit: id} }

// AllUnits targets every configured unit of a class.
func AllUnits() Target { return Target{all: true} }

// All reports whether t addresses every unit.
func (t Target) All() bool { return t.all }

// ID returns the unit id; ok is false for AllUnits.
func (t Target) ID() (id int, ok bool) { return t.unit, !t.all }

func (t Target) String() string {
	if t.all {
		return "all"
	}
	return fmt.Sprintf("%d", t.unit)
}

// SensorReader reads raw samples from the sensor layer.
type SensorReader interface {
	Temperature(id int) (float64, error)
	Humidity(id int) (float64, error)
	HumiditySupported(id int) bool
}

// Actuator drives every unit of one class.
type Actuator interface {
	Set(unit int, on bool) error
	State(unit int) (bool, error)
}

// FaultID names a condition reported to the system monitor.
type FaultID string

const (
	FaultFireDetected  FaultID = "fire_detected"
	FaultCritical      FaultID = "critical_failsafe"
	FaultActuator      FaultID = "actuator_write"
	FaultConfigPersist FaultID = "config_persist"
	FaultConfigInvalid FaultID = "config_invalid"
	FaultModeInvalid   FaultID = "mode_invalid"
)

// FaultReporter receives faults. Implementations must not block the tick.
type FaultReporter interface {
	ReportFault(id FaultID, err error)
}

// FaultFunc adapts a function to FaultReporter.
type FaultFunc func(id FaultID, err error)

func (f FaultFunc) ReportFault(id FaultID, err error) { f(id, err) }

// Persistence stores configuration blobs under a numeric record id.
type Persistence interface {
	LoadConfig(ctx context.Context, id int) ([]byte, error)
	SaveConfig(ctx context.Context, id int, blob []byte) error
}

// Clock returns the wall-clock time used by the light schedule.
type Clock func() time.Time

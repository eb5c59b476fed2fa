package sysmgr

import (
	"errors"
	"fmt"
)

// Bank maps every actuator class to its driver and configured units.
type Bank struct {
	drivers map[Class]Actuator
	units   map[Class][]int
}

// NewBank returns an empty bank.
func NewBank() *Bank {
	return &Bank{
		drivers: make(map[Class]Actuator),
		units:   make(map[Class][]int),
	}
}

// Attach registers driver a for class c with the given unit ids.
func (b *Bank) Attach(c Class, a Actuator, units ...int) {
	b.drivers[c] = a
	b.units[c] = append([]int(nil), units...)
}

// Units returns the configured unit ids of class c.
func (b *Bank) Units(c Class) []int {
	return append([]int(nil), b.units[c]...)
}

// Has reports whether class c has a driver and unit.
func (b *Bank) Has(c Class, unit int) bool {
	if b.drivers[c] == nil {
		return false
	}
	for _, u := range b.units[c] {
		if u == unit {
			return true
		}
	}
	return false
}

// Apply switches the units addressed by t. Every unit is attempted even
// when an earlier one fails; the failures are joined.
func (b *Bank) Apply(c Class, t Target, on bool) error {
	d := b.drivers[c]
	if d == nil {
		return fmt.Errorf("%w: no %s driver", ErrNotSupported, c)
	}
	var units []int
	if id, ok := t.ID(); ok {
		if !b.Has(c, id) {
			return fmt.Errorf("%w: %s unit %d", ErrNotFound, c, id)
		}
		units = []int{id}
	} else {
		units = b.units[c]
	}

	var errs []error
	for _, u := range units {
		if err := d.Set(u, on); err != nil {
			errs = append(errs, fmt.Errorf("%s %d: %w", c, u, err))
		}
	}
	return errors.Join(errs...)
}

// State reads one unit of class c.
func (b *Bank) State(c Class, unit int) (bool, error) {
	d := b.drivers[c]
	if d == nil {
		return false, fmt.Errorf("%w: no %s driver", ErrNotSupported, c)
	}
	return d.State(unit)
}

// AnyOn reports whether any unit of class c is on. Units that cannot be
// read count as off.
func (b *Bank) AnyOn(c Class) bool {
	d := b.drivers[c]
	if d == nil {
		return false
	}
	for _, u := range b.units[c] {
		if on, err := d.State(u); err == nil && on {
			return true
		}
	}
	return false
}

// ActuatorStates is the per-class "any unit on" view published after every
// tick.
type ActuatorStates struct {
	Fans    bool `json:"fans"`
	Heaters bool `json:"heaters"`
	Pumps   bool `json:"pumps"`
	Vents   bool `json:"vents"`
	Lights  bool `json:"lights"`
}

// For returns the state of class c.
func (s ActuatorStates) For(c Class) bool {
	switch c {
	case ClassFan:
		return s.Fans
	case ClassHeater:
		return s.Heaters
	case ClassPump:
		return s.Pumps
	case ClassVent:
		return s.Vents
	case ClassLight:
		return s.Lights
	}
	return false
}

// Refresh queries every configured unit and rebuilds the snapshot.
func Refresh(b *Bank) ActuatorStates {
	return ActuatorStates{
		Fans:    b.AnyOn(ClassFan),
		Heaters: b.AnyOn(ClassHeater),
		Pumps:   b.AnyOn(ClassPump),
		Vents:   b.AnyOn(ClassVent),
		Lights:  b.AnyOn(ClassLight),
	}
}

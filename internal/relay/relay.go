// Package relay drives actuator relays wired straight to the host's GPIO
// header through periph.io.
package relay

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"smart_farm/internal/sysmgr"
)

// Pin is the subset of gpio.PinIO a relay needs.
type Pin interface {
	Out(l gpio.Level) error
	Read() gpio.Level
	Name() string
}

// Wiring maps a unit of a class to a named GPIO line, e.g. fan 0 → "GPIO17".
type Wiring struct {
	Class     sysmgr.Class
	Unit      int
	Pin       string
	ActiveLow bool
}

// ParseWiring parses "fan:0=GPIO17,heater:0=GPIO27!" where a trailing "!"
// marks an active-low relay board.
func ParseWiring(s string) ([]Wiring, error) {
	var out []Wiring
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, pin, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("%w: relay wiring %q", sysmgr.ErrInvalidParameter, item)
		}
		className, unitStr, ok := strings.Cut(key, ":")
		if !ok {
			return nil, fmt.Errorf("%w: relay wiring %q", sysmgr.ErrInvalidParameter, item)
		}
		c, err := sysmgr.ParseClass(className)
		if err != nil {
			return nil, err
		}
		unit, err := strconv.Atoi(unitStr)
		if err != nil {
			return nil, fmt.Errorf("%w: relay unit %q", sysmgr.ErrInvalidParameter, unitStr)
		}
		w := Wiring{Class: c, Unit: unit, Pin: strings.TrimSpace(pin)}
		if strings.HasSuffix(w.Pin, "!") {
			w.ActiveLow = true
			w.Pin = strings.TrimSuffix(w.Pin, "!")
		}
		out = append(out, w)
	}
	return out, nil
}

type relayPin struct {
	pin       Pin
	activeLow bool
}

// Board switches relays for every wired class.
type Board struct {
	mu   sync.Mutex
	pins map[sysmgr.Class]map[int]relayPin
}

// Open initialises the periph host drivers and resolves every wired pin.
func Open(wiring []Wiring) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return New(wiring, func(name string) Pin {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil
		}
		return p
	})
}

// New builds a board resolving pin names through lookup.
func New(wiring []Wiring, lookup func(name string) Pin) (*Board, error) {
	b := &Board{pins: make(map[sysmgr.Class]map[int]relayPin)}
	for _, w := range wiring {
		p := lookup(w.Pin)
		if p == nil {
			return nil, fmt.Errorf("%w: gpio %s", sysmgr.ErrNotFound, w.Pin)
		}
		if b.pins[w.Class] == nil {
			b.pins[w.Class] = make(map[int]relayPin)
		}
		b.pins[w.Class][w.Unit] = relayPin{pin: p, activeLow: w.ActiveLow}
		// start de-energised
		if err := p.Out(level(false, w.ActiveLow)); err != nil {
			return nil, fmt.Errorf("gpio %s: %w", w.Pin, err)
		}
	}
	return b, nil
}

func level(on, activeLow bool) gpio.Level {
	if on != activeLow {
		return gpio.High
	}
	return gpio.Low
}

// Units lists the wired units of class c.
func (b *Board) Units(c sysmgr.Class) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int
	for u := range b.pins[c] {
		out = append(out, u)
	}
	sort.Ints(out)
	return out
}

func (b *Board) lookup(c sysmgr.Class, unit int) (relayPin, error) {
	rp, ok := b.pins[c][unit]
	if !ok {
		return relayPin{}, fmt.Errorf("%w: no relay for %s %d", sysmgr.ErrNotFound, c, unit)
	}
	return rp, nil
}

// Set energises or releases the relay of one unit.
func (b *Board) Set(c sysmgr.Class, unit int, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rp, err := b.lookup(c, unit)
	if err != nil {
		return err
	}
	if err := rp.pin.Out(level(on, rp.activeLow)); err != nil {
		return fmt.Errorf("%w: %s: %v", sysmgr.ErrGeneric, rp.pin.Name(), err)
	}
	return nil
}

// State reads the pin level back.
func (b *Board) State(c sysmgr.Class, unit int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rp, err := b.lookup(c, unit)
	if err != nil {
		return false, err
	}
	return (rp.pin.Read() == gpio.High) != rp.activeLow, nil
}

// Actuator returns the driver for class c.
func (b *Board) Actuator(c sysmgr.Class) sysmgr.Actuator {
	return classActuator{b: b, class: c}
}

type classActuator struct {
	b     *Board
	class sysmgr.Class
}

func (a classActuator) Set(unit int, on bool) error { return a.b.Set(a.class, unit, on) }

func (a classActuator) State(unit int) (bool, error) { return a.b.State(a.class, unit) }

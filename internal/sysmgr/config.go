package sysmgr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConfigVersion is written into every persisted configuration blob.
const ConfigVersion = 1

// Absolute limits every threshold band must stay inside.
const (
	TempLimitMin = 0.0
	TempLimitMax = 60.0
	HumLimitMin  = 20.0
	HumLimitMax  = 100.0

	CycleMinSec = 1
	CycleMaxSec = 12 * 60 * 60
)

// Mode selects the control strategy run on every tick.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
	ModeHybrid    Mode = "hybrid"
	ModeFailSafe  Mode = "failsafe"
)

// ParseMode accepts the mode names used by the API and the MQTT config topic.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "automatic", "auto":
		return ModeAutomatic, nil
	case "manual":
		return ModeManual, nil
	case "hybrid":
		return ModeHybrid, nil
	case "failsafe", "fail-safe", "fail_safe":
		return ModeFailSafe, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, s)
}

func (m Mode) known() bool {
	switch m {
	case ModeAutomatic, ModeManual, ModeHybrid, ModeFailSafe:
		return true
	}
	return false
}

// Cycle is a fixed on/off duty cycle for one actuator class.
type Cycle struct {
	Enabled    bool `json:"enabled"`
	OnTimeSec  int  `json:"on_time_sec"`
	OffTimeSec int  `json:"off_time_sec"`
}

// LightSchedule switches the lights on a daily clock window. When the on time
// is not before the off time the window wraps past midnight.
type LightSchedule struct {
	Enabled   bool `json:"enabled"`
	OnHour    int  `json:"on_hour"`
	OnMinute  int  `json:"on_minute"`
	OffHour   int  `json:"off_hour"`
	OffMinute int  `json:"off_minute"`
}

// SensorControl overrides the global bands for one sensor and names the
// units that sensor drives. A nil unit means the sensor does not drive that
// class.
type SensorControl struct {
	SensorID    int     `json:"sensor_id"`
	TempEnabled bool    `json:"temp_enabled"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
	HumEnabled  bool    `json:"hum_enabled"`
	HumMin      float64 `json:"hum_min"`
	HumMax      float64 `json:"hum_max"`
	Fan         *int    `json:"fan,omitempty"`
	Heater      *int    `json:"heater,omitempty"`
	Vent        *int    `json:"vent,omitempty"`
	Pump        *int    `json:"pump,omitempty"`
}

// Overrides marks actuator classes under manual control while in Hybrid mode.
type Overrides struct {
	Fans    bool `json:"fans"`
	Heaters bool `json:"heaters"`
	Pumps   bool `json:"pumps"`
	Vents   bool `json:"vents"`
	Lights  bool `json:"lights"`
}

// For reports whether class c is manually overridden.
func (o Overrides) For(c Class) bool {
	switch c {
	case ClassFan:
		return o.Fans
	case ClassHeater:
		return o.Heaters
	case ClassPump:
		return o.Pumps
	case ClassVent:
		return o.Vents
	case ClassLight:
		return o.Lights
	}
	return false
}

// Set flags class c. Classes without an override flag are ignored.
func (o *Overrides) Set(c Class, on bool) {
	switch c {
	case ClassFan:
		o.Fans = on
	case ClassHeater:
		o.Heaters = on
	case ClassPump:
		o.Pumps = on
	case ClassVent:
		o.Vents = on
	case ClassLight:
		o.Lights = on
	}
}

// Config is the runtime configuration owned by the Store.
type Config struct {
	Version int  `json:"version"`
	Mode    Mode `json:"mode"`

	GlobalTempMin  float64 `json:"global_temp_min"`
	GlobalTempMax  float64 `json:"global_temp_max"`
	GlobalHumMin   float64 `json:"global_hum_min"`
	GlobalHumMax   float64 `json:"global_hum_max"`
	TempHysteresis float64 `json:"temp_hysteresis"`
	HumHysteresis  float64 `json:"hum_hysteresis"`

	PerSensorControl bool            `json:"per_sensor_control_enabled"`
	PerSensor        []SensorControl `json:"per_sensor"`

	FansCycle    Cycle `json:"fans_cycle"`
	HeatersCycle Cycle `json:"heaters_cycle"`
	PumpsCycle   Cycle `json:"pumps_cycle"`
	VentsCycle   Cycle `json:"vents_cycle"`

	LightSchedule  LightSchedule `json:"light_schedule"`
	HybridOverride Overrides     `json:"hybrid_override"`
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() Config {
	return Config{
		Version:        ConfigVersion,
		Mode:           ModeAutomatic,
		GlobalTempMin:  18,
		GlobalTempMax:  28,
		GlobalHumMin:   50,
		GlobalHumMax:   80,
		TempHysteresis: 1,
		HumHysteresis:  3,
		FansCycle:      Cycle{OnTimeSec: 300, OffTimeSec: 900},
		HeatersCycle:   Cycle{OnTimeSec: 300, OffTimeSec: 900},
		PumpsCycle:     Cycle{OnTimeSec: 60, OffTimeSec: 3600},
		VentsCycle:     Cycle{OnTimeSec: 600, OffTimeSec: 1800},
		LightSchedule: LightSchedule{
			Enabled: true,
			OnHour:  6,
			OffHour: 20,
		},
	}
}

// Clone returns a deep copy so callers never share the PerSensor backing array
// or the unit pointers with the store.
func (c Config) Clone() Config {
	out := c
	if c.PerSensor != nil {
		out.PerSensor = make([]SensorControl, len(c.PerSensor))
		for i, sc := range c.PerSensor {
			sc.Fan = cloneUnit(sc.Fan)
			sc.Heater = cloneUnit(sc.Heater)
			sc.Vent = cloneUnit(sc.Vent)
			sc.Pump = cloneUnit(sc.Pump)
			out.PerSensor[i] = sc
		}
	}
	return out
}

func cloneUnit(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CycleFor returns the duty cycle configured for class c.
func (c Config) CycleFor(class Class) (Cycle, bool) {
	switch class {
	case ClassFan:
		return c.FansCycle, true
	case ClassHeater:
		return c.HeatersCycle, true
	case ClassPump:
		return c.PumpsCycle, true
	case ClassVent:
		return c.VentsCycle, true
	}
	return Cycle{}, false
}

// Validate checks c and returns the first violation found.
func Validate(c Config) error {
	if !c.Mode.known() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, c.Mode)
	}
	if err := checkBand("global temperature", c.GlobalTempMin, c.GlobalTempMax, TempLimitMin, TempLimitMax); err != nil {
		return err
	}
	if err := checkBand("global humidity", c.GlobalHumMin, c.GlobalHumMax, HumLimitMin, HumLimitMax); err != nil {
		return err
	}
	if err := checkHysteresis("global temperature", c.TempHysteresis, c.GlobalTempMin, c.GlobalTempMax); err != nil {
		return err
	}
	if err := checkHysteresis("global humidity", c.HumHysteresis, c.GlobalHumMin, c.GlobalHumMax); err != nil {
		return err
	}

	seen := make(map[int]bool, len(c.PerSensor))
	for _, sc := range c.PerSensor {
		if seen[sc.SensorID] {
			return fmt.Errorf("%w: duplicate per-sensor entry for sensor %d", ErrInvalidParameter, sc.SensorID)
		}
		seen[sc.SensorID] = true
		if sc.TempEnabled {
			name := fmt.Sprintf("sensor %d temperature", sc.SensorID)
			if err := checkBand(name, sc.TempMin, sc.TempMax, TempLimitMin, TempLimitMax); err != nil {
				return err
			}
			if err := checkHysteresis(name, c.TempHysteresis, sc.TempMin, sc.TempMax); err != nil {
				return err
			}
		}
		if sc.HumEnabled {
			name := fmt.Sprintf("sensor %d humidity", sc.SensorID)
			if err := checkBand(name, sc.HumMin, sc.HumMax, HumLimitMin, HumLimitMax); err != nil {
				return err
			}
			if err := checkHysteresis(name, c.HumHysteresis, sc.HumMin, sc.HumMax); err != nil {
				return err
			}
		}
	}

	cycles := []struct {
		name string
		c    Cycle
	}{
		{"fans", c.FansCycle},
		{"heaters", c.HeatersCycle},
		{"pumps", c.PumpsCycle},
		{"vents", c.VentsCycle},
	}
	for _, cy := range cycles {
		if !cy.c.Enabled {
			continue
		}
		if cy.c.OnTimeSec < CycleMinSec || cy.c.OnTimeSec > CycleMaxSec {
			return fmt.Errorf("%w: %s cycle on time %ds", ErrInvalidParameter, cy.name, cy.c.OnTimeSec)
		}
		if cy.c.OffTimeSec < CycleMinSec || cy.c.OffTimeSec > CycleMaxSec {
			return fmt.Errorf("%w: %s cycle off time %ds", ErrInvalidParameter, cy.name, cy.c.OffTimeSec)
		}
	}

	ls := c.LightSchedule
	if ls.OnHour < 0 || ls.OnHour > 23 || ls.OffHour < 0 || ls.OffHour > 23 {
		return fmt.Errorf("%w: light schedule hour %d/%d", ErrInvalidParameter, ls.OnHour, ls.OffHour)
	}
	if ls.OnMinute < 0 || ls.OnMinute > 59 || ls.OffMinute < 0 || ls.OffMinute > 59 {
		return fmt.Errorf("%w: light schedule minute %d/%d", ErrInvalidParameter, ls.OnMinute, ls.OffMinute)
	}
	return nil
}

func checkBand(name string, min, max, limitMin, limitMax float64) error {
	if min >= max {
		return fmt.Errorf("%w: %s min %.2f not below max %.2f", ErrInvalidParameter, name, min, max)
	}
	if min < limitMin || max > limitMax {
		return fmt.Errorf("%w: %s %.2f..%.2f outside %.0f..%.0f", ErrInvalidParameter, name, min, max, limitMin, limitMax)
	}
	return nil
}

// checkHysteresis keeps the hysteresis narrower than the band so the "above"
// and "below" actuators of that band can never be on together.
func checkHysteresis(name string, h, min, max float64) error {
	if h < 0 || h >= max-min {
		return fmt.Errorf("%w: %s hysteresis %.2f not below band width %.2f", ErrInvalidParameter, name, h, max-min)
	}
	return nil
}

// MarshalConfig encodes c as the persisted blob.
func MarshalConfig(c Config) ([]byte, error) {
	c.Version = ConfigVersion
	return json.Marshal(c)
}

// UnmarshalConfig decodes a persisted blob. Blobs written by a newer schema
// are rejected.
func UnmarshalConfig(b []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("%w: decode config: %v", ErrInvalidParameter, err)
	}
	if c.Version > ConfigVersion {
		return Config{}, fmt.Errorf("%w: config version %d newer than %d", ErrNotSupported, c.Version, ConfigVersion)
	}
	c.Version = ConfigVersion
	return c, nil
}

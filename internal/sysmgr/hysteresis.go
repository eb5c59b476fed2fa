package sysmgr

// ShouldActivateAbove decides whether an actuator that counters high values
// (fan for temperature, vent for humidity) should be on. Once on, it stays on
// until the value falls to max-hysteresis or below.
func ShouldActivateAbove(value, max, hysteresis float64, previousOn bool) bool {
	if previousOn {
		return value > max-hysteresis
	}
	return value > max
}

// ShouldActivateBelow is the mirror of ShouldActivateAbove for actuators that
// counter low values (heater for temperature, pump for humidity).
func ShouldActivateBelow(value, min, hysteresis float64, previousOn bool) bool {
	if previousOn {
		return value < min+hysteresis
	}
	return value < min
}

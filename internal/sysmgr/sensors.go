package sysmgr

import (
	"fmt"
	"log/slog"
)

// Default smoothing factors. Humidity sensors are noisier so they get the
// heavier filter.
const (
	DefaultTempAlpha = 0.3
	DefaultHumAlpha  = 0.2
)

// SensorReading is the smoothed state of one sensor for one tick.
type SensorReading struct {
	ID        int     `json:"id"`
	Temp      float64 `json:"temperature"`
	TempValid bool    `json:"temperature_valid"`
	Hum       float64 `json:"humidity"`
	HumValid  bool    `json:"humidity_valid"`
}

// SensorSnapshot is the aggregated sensor picture of one tick.
type SensorSnapshot struct {
	Sensors  []SensorReading `json:"sensors"`
	AvgTemp  float64         `json:"avg_temperature"`
	AvgHum   float64         `json:"avg_humidity"`
	Valid    bool            `json:"valid"`
	HumValid bool            `json:"humidity_valid"`
	Failures int             `json:"read_failures"`
}

// Sensor returns the reading for id.
func (s SensorSnapshot) Sensor(id int) (SensorReading, bool) {
	for _, r := range s.Sensors {
		if r.ID == id {
			return r, true
		}
	}
	return SensorReading{}, false
}

// Aggregator keeps the exponential moving average of every sensor across
// ticks.
type Aggregator struct {
	ids       []int
	tempAlpha float64
	humAlpha  float64
	fireC     float64
	temp      map[int]float64
	hum       map[int]float64
	faults    FaultReporter
	log       *slog.Logger
}

// NewAggregator smooths the sensors listed in ids.
func NewAggregator(ids []int, tempAlpha, humAlpha, fireC float64, faults FaultReporter, log *slog.Logger) *Aggregator {
	return &Aggregator{
		ids:       append([]int(nil), ids...),
		tempAlpha: tempAlpha,
		humAlpha:  humAlpha,
		fireC:     fireC,
		temp:      make(map[int]float64, len(ids)),
		hum:       make(map[int]float64, len(ids)),
		faults:    faults,
		log:       log,
	}
}

// Update reads every sensor once and returns the smoothed snapshot. Sensors
// that fail to read are left out of the averages for this tick only; their
// filter state is kept.
func (a *Aggregator) Update(r SensorReader) SensorSnapshot {
	snap := SensorSnapshot{Sensors: make([]SensorReading, 0, len(a.ids))}
	var sumT, sumH float64
	var nT, nH int

	for _, id := range a.ids {
		rd := SensorReading{ID: id}

		t, err := r.Temperature(id)
		if err != nil {
			snap.Failures++
			a.log.Debug("temperature read failed", "sensor", id, "error", err)
		} else {
			rd.Temp = ema(a.temp, id, t, a.tempAlpha)
			rd.TempValid = true
			sumT += rd.Temp
			nT++
		}

		if r.HumiditySupported(id) {
			h, err := r.Humidity(id)
			if err != nil {
				snap.Failures++
				a.log.Debug("humidity read failed", "sensor", id, "error", err)
			} else {
				rd.Hum = ema(a.hum, id, h, a.humAlpha)
				rd.HumValid = true
				sumH += rd.Hum
				nH++
			}
		}

		if rd.TempValid && rd.Temp >= a.fireC && a.faults != nil {
			a.faults.ReportFault(FaultFireDetected, fmt.Errorf("sensor %d at %.1f°C", id, rd.Temp))
		}
		snap.Sensors = append(snap.Sensors, rd)
	}

	if nT > 0 {
		snap.AvgTemp = sumT / float64(nT)
		snap.Valid = true
	}
	if nH > 0 {
		snap.AvgHum = sumH / float64(nH)
		snap.HumValid = true
	}
	return snap
}

func ema(state map[int]float64, id int, sample, alpha float64) float64 {
	prev, ok := state[id]
	if !ok {
		state[id] = sample
		return sample
	}
	v := alpha*sample + (1-alpha)*prev
	state[id] = v
	return v
}

// Package sensors turns raw particulate and gas samples into the latest
// known readings, keeping "never reported" distinct from zero.
package sensors

import (
	"math"
	"sync"
	"time"

	"airsense/internal/mathx"
)

// Units selects how temperatures are reported.
type Units string

const (
	Celsius    Units = "c"
	Fahrenheit Units = "f"
)

// ParseUnits accepts "c" or "f".
func ParseUnits(s string) (Units, bool) {
	switch Units(s) {
	case Celsius, Fahrenheit:
		return Units(s), true
	}
	return "", false
}

// Symbol returns the display unit, e.g. "°C".
func (u Units) Symbol() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// Temperature offset bounds in °C.
const (
	MinTemperatureOffset = -50.0
	MaxTemperatureOffset = 50.0
)

// PMReadings are mass concentrations in µg/m³.
type PMReadings struct {
	PM1_0 uint16 `json:"PM1_0"`
	PM2_5 uint16 `json:"PM2_5"`
	PM10  uint16 `json:"PM10"`
}

// GasSample is one output of the gas calibration algorithm.
// Temperature is always °C.
type GasSample struct {
	Accuracy    uint8
	CO2e        float64
	BVOC        float64
	Temperature float64
	Humidity    float64
}

// GasQuality is a gas sample prepared for display and telemetry.
type GasQuality struct {
	Accuracy    uint8   `json:"iaqAccuracy"`
	CO2e        uint16  `json:"co2e"`
	BVOC        float64 `json:"bvoc"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Units       Units   `json:"units"`
}

// HasData reports whether CO2e and bVOC carry a calibrated value.
func (g GasQuality) HasData() bool {
	return g.Accuracy > 0
}

// ParticulateSource yields a frame whenever the sensor finished one.
type ParticulateSource interface {
	Poll() (PMReadings, bool)
}

// GasSource runs the gas calibration algorithm.
type GasSource interface {
	// Run returns a sample when one became ready.
	Run() (GasSample, bool)
	// State exports the calibration blob.
	State() ([]byte, error)
	// SetState restores a previously exported blob.
	SetState(blob []byte) error
	// SetTemperatureOffset applies a heat compensation in °C.
	SetTemperatureOffset(offset float64)
}

// Snapshot is the latest known value of every source. A nil field means
// the source never reported.
type Snapshot struct {
	PM  *PMReadings
	Gas *GasQuality
}

// Empty reports whether no source ever reported.
func (s Snapshot) Empty() bool {
	return s.PM == nil && s.Gas == nil
}

// Reader polls the sources and keeps their latest values.
type Reader struct {
	pm     ParticulateSource
	gas    GasSource
	keeper *CalibrationKeeper

	mu      sync.RWMutex
	units   Units
	offset  float64
	lastPM  PMReadings
	pmSeen  bool
	lastGas GasSample
	gasSeen bool
}

// NewReader creates a reader. Either source may be nil when the sensor
// is not fitted.
func NewReader(pm ParticulateSource, gas GasSource) *Reader {
	return &Reader{
		pm:    pm,
		gas:   gas,
		units: Celsius,
	}
}

// WithCalibration makes every new gas sample go through k.
func (r *Reader) WithCalibration(k *CalibrationKeeper) *Reader {
	r.keeper = k
	return r
}

// HasGas reports whether a gas sensor is fitted.
func (r *Reader) HasGas() bool { return r.gas != nil }

// SetUnits changes the temperature units of later snapshots.
func (r *Reader) SetUnits(u Units) {
	r.mu.Lock()
	r.units = u
	r.mu.Unlock()
}

// Units returns the configured temperature units.
func (r *Reader) Units() Units {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.units
}

// SetTemperatureOffset clamps offset to ±50 °C and hands it to the gas
// source.
func (r *Reader) SetTemperatureOffset(offset float64) float64 {
	offset = mathx.Clamp(offset, MinTemperatureOffset, MaxTemperatureOffset)
	r.mu.Lock()
	r.offset = offset
	r.mu.Unlock()
	if r.gas != nil {
		r.gas.SetTemperatureOffset(offset)
	}
	return offset
}

// Poll services both sources once and reports which produced new data.
func (r *Reader) Poll(now time.Time) (pmUpdated, gasUpdated bool) {
	if r.pm != nil {
		if frame, ok := r.pm.Poll(); ok {
			r.mu.Lock()
			r.lastPM = frame
			r.pmSeen = true
			r.mu.Unlock()
			pmUpdated = true
		}
	}

	if r.gas != nil {
		if sample, ok := r.gas.Run(); ok {
			r.mu.Lock()
			r.lastGas = sample
			r.gasSeen = true
			r.mu.Unlock()
			gasUpdated = true

			if r.keeper != nil {
				r.keeper.Observe(sample.Accuracy, now)
			}
		}
	}
	return pmUpdated, gasUpdated
}

// Snapshot returns copies of the latest values.
func (r *Reader) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var snap Snapshot
	if r.pmSeen {
		pm := r.lastPM
		snap.PM = &pm
	}
	if r.gasSeen {
		g := prepare(r.lastGas, r.units)
		snap.Gas = &g
	}
	return snap
}

func prepare(s GasSample, units Units) GasQuality {
	temp := s.Temperature
	if units == Fahrenheit {
		temp = temp*1.8 + 32
	}
	return GasQuality{
		Accuracy:    s.Accuracy,
		CO2e:        uint16(mathx.Clamp(math.Trunc(s.CO2e), 0, math.MaxUint16)),
		BVOC:        mathx.RoundTo1dp(s.BVOC),
		Temperature: mathx.RoundTo1dp(temp),
		Humidity:    mathx.RoundTo1dp(s.Humidity),
		Units:       units,
	}
}

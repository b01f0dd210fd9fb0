// Package warning classifies particulate readings into traffic-light
// severities and aggregates them into the composite border colour.
package warning

import (
	"fmt"

	"airsense/internal/mathx"
)

// Threshold limits. Values outside are clamped, never rejected.
const (
	MinLevel = 5
	MaxLevel = 500
)

// Color is a three-level severity. The zero value is Green.
type Color int

const (
	Green Color = iota
	Yellow
	Red
)

// String returns the lowercase colour name.
func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	default:
		return fmt.Sprintf("color(%d)", int(c))
	}
}

// MarshalText renders the colour by name in JSON documents.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Metric identifies one of the particulate size fractions.
type Metric int

const (
	PM1_0 Metric = iota
	PM2_5
	PM10
)

// Metrics lists every metric in display order.
var Metrics = [...]Metric{PM1_0, PM2_5, PM10}

func (m Metric) String() string {
	switch m {
	case PM1_0:
		return "PM1_0"
	case PM2_5:
		return "PM2_5"
	case PM10:
		return "PM10"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Level is the (yellow, red) threshold pair for one metric.
type Level struct {
	Yellow uint16 `json:"yellow"`
	Red    uint16 `json:"red"`
}

// Clamped returns l with both values forced into [MinLevel, MaxLevel].
// Red below yellow is left as is.
func (l Level) Clamped() Level {
	return Level{
		Yellow: mathx.Clamp(l.Yellow, MinLevel, MaxLevel),
		Red:    mathx.Clamp(l.Red, MinLevel, MaxLevel),
	}
}

// Thresholds holds the levels of all three metrics.
type Thresholds [3]Level

// DefaultThresholds are the out-of-box warning levels in µg/m³.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PM1_0: {Yellow: 8, Red: 20},
		PM2_5: {Yellow: 10, Red: 35},
		PM10:  {Yellow: 20, Red: 50},
	}
}

// Clamped clamps every one of the six values independently.
func (t Thresholds) Clamped() Thresholds {
	var out Thresholds
	for i, l := range t {
		out[i] = l.Clamped()
	}
	return out
}

// Classify maps a reading onto a colour. Red is checked first, so a
// value at or above red is Red even when red <= yellow. The yellow
// threshold itself is still Green.
func Classify(v uint16, l Level) Color {
	switch {
	case v >= l.Red:
		return Red
	case v > l.Yellow:
		return Yellow
	default:
		return Green
	}
}

// Composite returns the highest severity of colors, Green when empty.
func Composite(colors ...Color) Color {
	out := Green
	for _, c := range colors {
		if c > out {
			out = c
		}
	}
	return out
}

package display

import (
	"fmt"

	"airsense/internal/warning"
)

// Screen identifies what the panel shows.
type Screen int

const (
	Boot Screen = iota
	Normal
	Info
)

func (s Screen) String() string {
	switch s {
	case Boot:
		return "boot"
	case Normal:
		return "normal"
	case Info:
		return "info"
	default:
		return fmt.Sprintf("screen(%d)", int(s))
	}
}

// MarshalText renders the screen by name in JSON documents.
func (s Screen) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MetricView is one particulate value with its warning colour.
type MetricView struct {
	Value uint16        `json:"value"`
	Color warning.Color `json:"color"`
}

// PMView holds the three particulate metrics.
type PMView struct {
	PM1_0 MetricView `json:"PM1_0"`
	PM2_5 MetricView `json:"PM2_5"`
	PM10  MetricView `json:"PM10"`
}

// GasView holds the gas quality values. CO2e and BVOC are nil while the
// sensor reports accuracy 0.
type GasView struct {
	Accuracy      uint8         `json:"iaqAccuracy"`
	AccuracyColor warning.Color `json:"accuracyColor"`
	CO2e          *uint16       `json:"co2e"`
	BVOC          *float64      `json:"bvoc"`
	Temperature   float64       `json:"temperature"`
	Humidity      float64       `json:"humidity"`
}

// InfoView is the content of the info screen.
type InfoView struct {
	MAC   string `json:"mac"`
	IP    string `json:"ip"`
	Topic string `json:"topic"`
}

// Frame is everything visible on the panel.
type Frame struct {
	Screen        Screen             `json:"screen"`
	Booted        bool               `json:"booted"`
	Backlight     int                `json:"backlight"`
	MaxBrightness int                `json:"maxBrightness"`
	IdleTimeoutMs int64              `json:"idleTimeoutMs"`
	Network       warning.Color      `json:"network"`
	Border        warning.Color      `json:"border"`
	PM            *PMView            `json:"pm"`
	Gas           *GasView           `json:"gas"`
	Units         string             `json:"units"`
	Info          InfoView           `json:"info"`
	Thresholds    warning.Thresholds `json:"thresholds"`
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := f
	if f.PM != nil {
		pm := *f.PM
		out.PM = &pm
	}
	if f.Gas != nil {
		gas := *f.Gas
		if f.Gas.CO2e != nil {
			v := *f.Gas.CO2e
			gas.CO2e = &v
		}
		if f.Gas.BVOC != nil {
			v := *f.Gas.BVOC
			gas.BVOC = &v
		}
		out.Gas = &gas
	}
	return out
}

// Panel draws frames and drives the backlight.
type Panel interface {
	Render(f Frame)
	SetBacklight(percent int)
}

package coordinator

import (
	"time"

	"airsense/internal/input"
	"airsense/internal/mathx"
	"airsense/internal/schema"
	"airsense/internal/sensors"
	"airsense/internal/warning"
)

// Interval bounds for telemetry and display refresh.
const (
	MinIntervalMs     = 1
	MaxIntervalMs     = 60000
	DefaultIntervalMs = 1000

	MaxSleepSeconds = 3600
)

// Warning level bounds advertised in the config schema. Values up to 500
// are still accepted and clamped by the display.
const (
	minWarnLevel = 5
	maxWarnLevel = 450
)

// Settings are the values driven by config documents.
type Settings struct {
	TelemetryIntervalMs int64      `json:"telemetryIntervalMs"`
	TFTIntervalMs       int64      `json:"tftIntervalMs"`
	Button              input.Mode `json:"button"`
	DiscoveryEnabled    bool       `json:"hassDiscoveryEnabled"`
	DiscoveryPrefix     string     `json:"hassDiscoveryTopicPrefix"`
}

func (s Settings) telemetryInterval() time.Duration {
	return time.Duration(s.TelemetryIntervalMs) * time.Millisecond
}

func (s Settings) tftInterval() time.Duration {
	return time.Duration(s.TFTIntervalMs) * time.Millisecond
}

func clampInterval(ms int64) int64 {
	return mathx.Clamp(ms, MinIntervalMs, MaxIntervalMs)
}

// warning level keys in warningLevels[0], per metric
var warnKeys = [...]struct{ yellow, red string }{
	warning.PM1_0: {"yellowWarn1_0", "redWarn1_0"},
	warning.PM2_5: {"yellowWarn2_5", "redWarn2_5"},
	warning.PM10:  {"yellowWarn10", "redWarn10"},
}

// applyWarnLevels overrides the levels present in doc. Missing or
// wrong-typed keys keep their current value.
func applyWarnLevels(current warning.Thresholds, doc schema.Document) warning.Thresholds {
	out := current
	for _, m := range warning.Metrics {
		keys := warnKeys[m]
		if v, ok := doc.Int(keys.yellow); ok {
			out[m].Yellow = uint16(mathx.Clamp(v, warning.MinLevel, warning.MaxLevel))
		}
		if v, ok := doc.Int(keys.red); ok {
			out[m].Red = uint16(mathx.Clamp(v, warning.MinLevel, warning.MaxLevel))
		}
	}
	return out
}

// warnLevelsDocument accepts both [{...}] and {...}.
func warnLevelsDocument(doc schema.Document) (schema.Document, bool) {
	if obj, ok := doc.Object("warningLevels"); ok {
		return obj, true
	}
	arr, ok := doc.Array("warningLevels")
	if !ok || len(arr) == 0 {
		return nil, false
	}
	switch first := arr[0].(type) {
	case schema.Document:
		return first, true
	case map[string]any:
		return schema.Document(first), true
	}
	return nil, false
}

// ConfigSchema describes the config keys handled by OnConfig.
func ConfigSchema() schema.Document {
	levels := schema.Document{}
	for _, m := range warning.Metrics {
		keys := warnKeys[m]
		levels[keys.yellow] = schema.IntegerProperty("Yellow warning "+m.String(), minWarnLevel, maxWarnLevel)
		levels[keys.red] = schema.IntegerProperty("Red warning "+m.String(), minWarnLevel, maxWarnLevel)
	}

	return schema.Document{
		"telemetryIntervalMs":      schema.IntegerProperty("Telemetry interval (ms)", MinIntervalMs, MaxIntervalMs),
		"tftIntervalMs":            schema.IntegerProperty("Display refresh interval (ms)", MinIntervalMs, MaxIntervalMs),
		"noActivitySecondsToSleep": schema.IntegerProperty("Seconds without activity before the backlight turns off (0 = never)", 0, MaxSleepSeconds),
		"maxBrightness":            schema.IntegerProperty("Backlight brightness (%)", 1, 100),
		"button":                   schema.EnumProperty("Button handling", string(input.ModeLocal), string(input.ModeMQTT)),
		"warningLevels": schema.Document{
			"title":    "Warning levels (µg/m³)",
			"type":     "array",
			"maxItems": 1,
			"items": schema.Document{
				"type":       "object",
				"properties": levels,
			},
		},
		"tempOffset":               schema.NumberProperty("Temperature offset (°C)", sensors.MinTemperatureOffset, sensors.MaxTemperatureOffset),
		"sensorTempUnits":          schema.EnumProperty("Temperature units", string(sensors.Celsius), string(sensors.Fahrenheit)),
		"hassDiscoveryEnabled":     schema.BooleanProperty("Home Assistant discovery"),
		"hassDiscoveryTopicPrefix": schema.StringProperty("Home Assistant discovery topic prefix"),
	}
}

// CommandSchema describes the commands handled by OnCommand.
func CommandSchema() schema.Document {
	return schema.Document{
		"backLight":  schema.BooleanProperty("Turn the backlight on"),
		"nextScreen": schema.BooleanProperty("Show the next screen"),
	}
}

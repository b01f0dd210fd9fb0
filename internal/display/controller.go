// Package display owns what the panel shows: the screen, the backlight
// and the warning colours derived from particulate readings.
package display

import (
	"time"

	"go.uber.org/zap"

	"airsense/internal/mathx"
	"airsense/internal/sensors"
	"airsense/internal/warning"
)

// Brightness and idle timeout bounds.
const (
	BacklightOff         = 0
	DefaultMaxBrightness = 35
	MinMaxBrightness     = 1
	MaxMaxBrightness     = 100
	MaxIdleTimeout       = time.Hour
)

// Controller is the display state machine. It is not safe for concurrent
// use; the control loop owns it and readers go through the Panel.
type Controller struct {
	panel  Panel
	logger *zap.Logger

	screen       Screen
	booted       bool
	backlight    int
	maxBright    int
	idleTimeout  time.Duration
	lastActivity time.Time

	networkColor warning.Color
	thresholds   warning.Thresholds
	pmSeen       bool
	pm           sensors.PMReadings
	pmColors     [3]warning.Color
	border       warning.Color

	gas   *GasView
	units sensors.Units
	info  InfoView
}

// NewController starts on the boot screen with the backlight off.
func NewController(panel Panel, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		panel:        panel,
		logger:       logger,
		screen:       Boot,
		backlight:    BacklightOff,
		maxBright:    DefaultMaxBrightness,
		networkColor: warning.Red,
		thresholds:   warning.DefaultThresholds(),
		units:        sensors.Celsius,
		info:         InfoView{MAC: "--:--:--:--:--:--", IP: "---.---.---.---", Topic: "-/------"},
	}
	panel.SetBacklight(c.backlight)
	c.render()
	return c
}

// OnConnectivityChanged recolours the network indicator. The first time
// both network and session are up the boot screen gives way to the normal
// screen. Boot is never entered again.
func (c *Controller) OnConnectivityChanged(networkUp, sessionUp bool, now time.Time) {
	color := networkColor(networkUp, sessionUp)
	changed := color != c.networkColor
	c.networkColor = color

	if networkUp && sessionUp && !c.booted {
		c.booted = true
		c.screen = Normal
		c.setBacklight(c.maxBright)
		c.lastActivity = now
		c.logger.Info("booted", zap.Stringer("screen", c.screen))
		changed = true
	}

	if changed {
		c.render()
	}
}

func networkColor(networkUp, sessionUp bool) warning.Color {
	switch {
	case networkUp && sessionUp:
		return warning.Green
	case networkUp:
		return warning.Yellow
	default:
		return warning.Red
	}
}

// OnSensorUpdate shows the latest readings. A nil argument means the
// source has not reported and its values stay hidden.
func (c *Controller) OnSensorUpdate(gas *sensors.GasQuality, pm *sensors.PMReadings) {
	if pm != nil {
		c.pm = *pm
		c.pmSeen = true
		c.recolor()
	}
	if gas != nil {
		c.gas = gasView(*gas)
		c.units = gas.Units
	}
	c.render()
}

func gasView(g sensors.GasQuality) *GasView {
	v := &GasView{
		Accuracy:      g.Accuracy,
		AccuracyColor: accuracyColor(g.Accuracy),
		Temperature:   g.Temperature,
		Humidity:      g.Humidity,
	}
	// accuracy 0 is "no data", not zero
	if g.HasData() {
		co2e, bvoc := g.CO2e, g.BVOC
		v.CO2e = &co2e
		v.BVOC = &bvoc
	}
	return v
}

func accuracyColor(accuracy uint8) warning.Color {
	switch {
	case accuracy >= 3:
		return warning.Green
	case accuracy == 2:
		return warning.Yellow
	default:
		return warning.Red
	}
}

func (c *Controller) recolor() {
	if !c.pmSeen {
		return
	}
	values := [3]uint16{c.pm.PM1_0, c.pm.PM2_5, c.pm.PM10}
	for _, m := range warning.Metrics {
		c.pmColors[m] = warning.Classify(values[m], c.thresholds[m])
	}
	c.border = warning.Composite(c.pmColors[:]...)
}

// CheckIdle turns the backlight off once the idle timeout has elapsed
// since the last activity. A zero timeout never expires.
func (c *Controller) CheckIdle(now time.Time) {
	if !c.booted || c.idleTimeout == 0 {
		return
	}
	if now.Sub(c.lastActivity) >= c.idleTimeout && c.backlight != BacklightOff {
		c.setBacklight(BacklightOff)
		c.render()
	}
}

// RequestNextScreen is the single "advance" action. A dimmed panel is
// only woken; a fully lit one flips between the normal and info screens.
// It is ignored until booted.
func (c *Controller) RequestNextScreen(now time.Time) {
	if !c.booted {
		return
	}

	if c.backlight != c.maxBright {
		c.setBacklight(c.maxBright)
	} else if c.screen == Normal {
		c.screen = Info
	} else {
		c.screen = Normal
	}
	c.lastActivity = now
	c.render()
}

// Wake restores full brightness and restarts the idle timer.
func (c *Controller) Wake(now time.Time) {
	c.setBacklight(c.maxBright)
	c.lastActivity = now
	c.render()
}

// SetWarnLevels replaces all six thresholds, each clamped to [5, 500].
// Red below yellow is kept as given.
func (c *Controller) SetWarnLevels(t warning.Thresholds) {
	c.thresholds = t.Clamped()
	c.recolor()
	c.render()
}

// Thresholds returns the active warning levels.
func (c *Controller) Thresholds() warning.Thresholds {
	return c.thresholds
}

// SetMaxBrightness clamps percent to [1, 100]. The new level applies at
// the next wake.
func (c *Controller) SetMaxBrightness(percent int) {
	c.maxBright = mathx.Clamp(percent, MinMaxBrightness, MaxMaxBrightness)
	c.render()
}

// SetIdleTimeoutMs clamps ms to one hour; zero disables the timeout.
func (c *Controller) SetIdleTimeoutMs(ms int64) {
	c.idleTimeout = time.Duration(mathx.Clamp(ms, 0, MaxIdleTimeout.Milliseconds())) * time.Millisecond
	c.render()
}

// SetTemperatureUnits changes the unit label next to the temperature.
func (c *Controller) SetTemperatureUnits(u sensors.Units) {
	c.units = u
	c.render()
}

// SetInfo updates the info screen.
func (c *Controller) SetInfo(mac, ip, topic string) {
	info := InfoView{MAC: mac, IP: ip, Topic: topic}
	if info == c.info {
		return
	}
	c.info = info
	c.render()
}

// Screen returns the current screen.
func (c *Controller) Screen() Screen { return c.screen }

// Backlight returns the current brightness percent.
func (c *Controller) Backlight() int { return c.backlight }

// Snapshot returns a copy of the visible state.
func (c *Controller) Snapshot() Frame {
	return c.frame()
}

func (c *Controller) setBacklight(percent int) {
	percent = mathx.Clamp(percent, 0, 100)
	if percent == c.backlight {
		return
	}
	c.backlight = percent
	c.panel.SetBacklight(percent)
}

func (c *Controller) frame() Frame {
	f := Frame{
		Screen:        c.screen,
		Booted:        c.booted,
		Backlight:     c.backlight,
		MaxBrightness: c.maxBright,
		IdleTimeoutMs: c.idleTimeout.Milliseconds(),
		Network:       c.networkColor,
		Border:        c.border,
		Units:         c.units.Symbol(),
		Info:          c.info,
		Thresholds:    c.thresholds,
	}
	if c.pmSeen {
		f.PM = &PMView{
			PM1_0: MetricView{Value: c.pm.PM1_0, Color: c.pmColors[warning.PM1_0]},
			PM2_5: MetricView{Value: c.pm.PM2_5, Color: c.pmColors[warning.PM2_5]},
			PM10:  MetricView{Value: c.pm.PM10, Color: c.pmColors[warning.PM10]},
		}
	}
	if c.gas != nil {
		f.Gas = c.gas
	}
	return f.Clone()
}

func (c *Controller) render() {
	c.panel.Render(c.frame())
}

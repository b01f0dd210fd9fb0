// Package coordinator runs the appliance control loop: it services
// connectivity, routes button gestures, feeds sensor readings to the
// display and publishes telemetry.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"airsense/internal/buildinfo"
	"airsense/internal/connectivity"
	"airsense/internal/display"
	"airsense/internal/events"
	"airsense/internal/input"
	"airsense/internal/mathx"
	"airsense/internal/mqtt"
	"airsense/internal/schema"
	"airsense/internal/sensors"
)

// DefaultTick is the loop period.
const DefaultTick = 50 * time.Millisecond

// Connectivity is the part of the orchestrator the loop drives.
type Connectivity interface {
	RegisterHandlers(h connectivity.Handler)
	SetConfigSchemaFragment(doc schema.Document)
	SetCommandSchemaFragment(doc schema.Document)
	Tick(now time.Time)
	State() connectivity.State
	PublishStatus(doc schema.Document) error
	PublishTelemetry(doc schema.Document) error
	MACText() string
	IPText() string
	TopicText() string
	Topics() mqtt.Topics
}

// Deps are the loop's collaborators. Buttons, Discovery and Events are
// optional.
type Deps struct {
	Connectivity Connectivity
	Display      *display.Controller
	Reader       *sensors.Reader
	Buttons      input.Source
	Discovery    *mqtt.DiscoveryManager
	Events       *events.Store
	Logger       *zap.Logger
}

// Coordinator owns the display controller. Everything except Settings
// runs on the goroutine calling Step or Run.
type Coordinator struct {
	conn      Connectivity
	display   *display.Controller
	reader    *sensors.Reader
	buttons   input.Source
	discovery *mqtt.DiscoveryManager
	events    *events.Store
	logger    *zap.Logger

	mu       sync.RWMutex
	settings Settings

	now           time.Time // of the running step
	lastTelemetry time.Time
	lastTFT       time.Time
}

// New creates the coordinator and registers it as the orchestrator's
// config and command handler, so it must run before the orchestrator is
// initialized.
func New(deps Deps, now time.Time) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	c := &Coordinator{
		conn:      deps.Connectivity,
		display:   deps.Display,
		reader:    deps.Reader,
		buttons:   deps.Buttons,
		discovery: deps.Discovery,
		events:    deps.Events,
		logger:    deps.Logger,
		settings: Settings{
			TelemetryIntervalMs: DefaultIntervalMs,
			TFTIntervalMs:       DefaultIntervalMs,
			Button:              input.ModeLocal,
			DiscoveryPrefix:     mqtt.DefaultDiscoveryPrefix,
		},
		now:           now,
		lastTelemetry: now,
		lastTFT:       now,
	}

	c.conn.RegisterHandlers(c)
	c.conn.SetConfigSchemaFragment(ConfigSchema())
	c.conn.SetCommandSchemaFragment(CommandSchema())
	return c
}

// Settings returns the current config driven values.
func (c *Coordinator) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Run steps the loop every tick until ctx is done.
func (c *Coordinator) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	c.logger.Info("control loop started", zap.Duration("tick", tick))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("control loop stopped")
			return nil
		case now := <-ticker.C:
			c.Step(now)
		}
	}
}

// Step runs one loop iteration: connectivity, buttons, sensors, display,
// then telemetry.
func (c *Coordinator) Step(now time.Time) {
	c.now = now
	c.conn.Tick(now)

	c.handleButtons(now)

	c.reader.Poll(now)

	state := c.conn.State()
	c.display.OnConnectivityChanged(state.NetworkUp, state.SessionUp, now)
	c.display.CheckIdle(now)

	settings := c.Settings()
	snap := c.reader.Snapshot()

	if now.Sub(c.lastTFT) >= settings.tftInterval() {
		c.lastTFT = now
		c.display.SetInfo(c.conn.MACText(), c.conn.IPText(), c.conn.TopicText())
		c.display.OnSensorUpdate(snap.Gas, snap.PM)
	}

	if now.Sub(c.lastTelemetry) >= settings.telemetryInterval() {
		c.publishTelemetry(snap, now)
	}

	if state.SessionUp {
		c.publishDiscovery()
	}
}

func (c *Coordinator) handleButtons(now time.Time) {
	if c.buttons == nil {
		return
	}
	mode := c.Settings().Button
	for {
		ev, ok := c.buttons.Poll()
		if !ok {
			return
		}
		if c.events != nil {
			c.events.Add(events.EventButton, "input", fmt.Sprintf("%d:%s", ev.Index, ev.Gesture))
		}

		if ev.Local(mode) {
			c.display.RequestNextScreen(now)
			continue
		}
		if err := c.conn.PublishStatus(ev.StatusDocument()); err != nil {
			c.logger.Debug("button event not published",
				zap.Uint8("index", ev.Index),
				zap.Stringer("gesture", ev.Gesture),
				zap.Error(err))
		}
	}
}

// TelemetryDocument builds the telemetry payload. Sources that never
// reported are left out; CO2e, bVOC and accuracy are zero while the gas
// sensor is uncalibrated.
func TelemetryDocument(snap sensors.Snapshot) schema.Document {
	doc := schema.Document{}
	if pm := snap.PM; pm != nil {
		doc["PM1_0"] = pm.PM1_0
		doc["PM2_5"] = pm.PM2_5
		doc["PM10"] = pm.PM10
	}
	if g := snap.Gas; g != nil {
		doc["temperature"] = g.Temperature
		doc["humidity"] = g.Humidity
		if g.HasData() {
			doc["co2e"] = g.CO2e
			doc["bvoc"] = g.BVOC
			doc["iaqAccuracy"] = g.Accuracy
		} else {
			doc["co2e"] = 0
			doc["bvoc"] = 0
			doc["iaqAccuracy"] = 0
		}
	}
	return doc
}

func (c *Coordinator) publishTelemetry(snap sensors.Snapshot, now time.Time) {
	if snap.Empty() {
		c.lastTelemetry = now
		return
	}

	if err := c.conn.PublishTelemetry(TelemetryDocument(snap)); err != nil {
		// retried on the next step
		if !errors.Is(err, connectivity.ErrNetworkDown) && !errors.Is(err, connectivity.ErrSessionDown) {
			c.logger.Warn("failed to publish telemetry", zap.Error(err))
		}
		return
	}
	c.lastTelemetry = now
}

func (c *Coordinator) publishDiscovery() {
	if c.discovery == nil || !c.discovery.Enabled() {
		return
	}

	topics := c.conn.Topics()
	target := mqtt.DiscoveryTarget{
		ClientID:          topics.ClientID,
		StateTopic:        topics.Full(topics.Telemetry()),
		AvailabilityTopic: topics.Full(topics.LWT()),
		TemperatureUnit:   c.reader.Units().Symbol(),
		NoGas:             !c.reader.HasGas(),
		Device: mqtt.DeviceInfo{
			Identifiers:  []string{topics.ClientID},
			Name:         buildinfo.Name,
			Model:        buildinfo.ShortName,
			Manufacturer: buildinfo.Maker,
			SWVersion:    buildinfo.Version,
		},
	}

	if n, err := c.discovery.PublishPending(target); err != nil {
		c.logger.Warn("discovery incomplete", zap.Int("published", n), zap.Error(err))
	}
}

// OnConfig applies a config document. Unknown or wrong-typed keys are
// ignored and out of range values clamped.
func (c *Coordinator) OnConfig(doc schema.Document) {
	c.mu.Lock()
	s := c.settings

	if v, ok := doc.Int("telemetryIntervalMs"); ok {
		s.TelemetryIntervalMs = clampInterval(v)
	}
	if v, ok := doc.Int("tftIntervalMs"); ok {
		s.TFTIntervalMs = clampInterval(v)
	}
	if v, ok := doc.String("button"); ok {
		if mode, ok := input.ParseMode(v); ok {
			s.Button = mode
		}
	}
	discoveryChanged := false
	if v, ok := doc.Bool("hassDiscoveryEnabled"); ok {
		s.DiscoveryEnabled = v
		discoveryChanged = true
	}
	if v, ok := doc.String("hassDiscoveryTopicPrefix"); ok && v != "" {
		s.DiscoveryPrefix = v
		discoveryChanged = true
	}
	c.settings = s
	c.mu.Unlock()

	if v, ok := doc.Int("noActivitySecondsToSleep"); ok {
		c.display.SetIdleTimeoutMs(mathx.Clamp(v, 0, MaxSleepSeconds) * 1000)
		c.wakeDisplay()
	}
	if v, ok := doc.Int("maxBrightness"); ok {
		c.display.SetMaxBrightness(int(mathx.Clamp(v, 0, 100)))
		c.wakeDisplay()
	}
	if levels, ok := warnLevelsDocument(doc); ok {
		c.display.SetWarnLevels(applyWarnLevels(c.display.Thresholds(), levels))
	}

	if v, ok := doc.Float("tempOffset"); ok {
		applied := c.reader.SetTemperatureOffset(v)
		c.logger.Info("temperature offset set", zap.Float64("offset", applied))
	}
	if v, ok := doc.String("sensorTempUnits"); ok {
		if units, ok := sensors.ParseUnits(v); ok && units != c.reader.Units() {
			c.reader.SetUnits(units)
			c.display.SetTemperatureUnits(units)
			if c.discovery != nil {
				// temperature config carries the unit
				c.discovery.Reset()
			}
		}
	}

	if discoveryChanged && c.discovery != nil {
		c.discovery.Configure(s.DiscoveryEnabled, s.DiscoveryPrefix)
	}

	c.logger.Debug("config applied", zap.Any("settings", s))
}

// wakeDisplay applies new brightness and idle settings at once. The boot
// screen stays dark until connectivity lights it.
func (c *Coordinator) wakeDisplay() {
	if c.display.Screen() != display.Boot {
		c.display.Wake(c.now)
	}
}

// OnCommand runs a command document. Any boolean value triggers a
// command, false included.
func (c *Coordinator) OnCommand(doc schema.Document) {
	if _, ok := doc.Bool("backLight"); ok {
		c.display.Wake(c.now)
	}
	if _, ok := doc.Bool("nextScreen"); ok {
		c.display.RequestNextScreen(c.now)
	}
}

package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"airsense/internal/connectivity"
	"airsense/internal/display"
	"airsense/internal/input"
	"airsense/internal/mqtt"
	"airsense/internal/schema"
	"airsense/internal/sensors"
	"airsense/internal/warning"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeConn struct {
	handler     connectivity.Handler
	configFrag  schema.Document
	commandFrag schema.Document
	state       connectivity.State
	publishErr  error
	statuses    []schema.Document
	telemetry   []schema.Document
	pending     []func(h connectivity.Handler)
	ticks       atomic.Int64
}

func (f *fakeConn) RegisterHandlers(h connectivity.Handler)      { f.handler = h }
func (f *fakeConn) SetConfigSchemaFragment(doc schema.Document)  { f.configFrag = doc }
func (f *fakeConn) SetCommandSchemaFragment(doc schema.Document) { f.commandFrag = doc }
func (f *fakeConn) State() connectivity.State                    { return f.state }
func (f *fakeConn) MACText() string                              { return "24:6F:28:AB:CD:EF" }
func (f *fakeConn) IPText() string                               { return "192.168.001.020" }
func (f *fakeConn) TopicText() string                            { return "home/+/abcdef" }
func (f *fakeConn) Topics() mqtt.Topics                          { return mqtt.Topics{Prefix: "home", ClientID: "abcdef"} }

func (f *fakeConn) Tick(now time.Time) {
	f.ticks.Add(1)
	for _, deliver := range f.pending {
		deliver(f.handler)
	}
	f.pending = nil
}

func (f *fakeConn) PublishStatus(doc schema.Document) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.statuses = append(f.statuses, doc)
	return nil
}

func (f *fakeConn) PublishTelemetry(doc schema.Document) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.telemetry = append(f.telemetry, doc)
	return nil
}

type scriptedPM struct {
	frames []sensors.PMReadings
}

func (s *scriptedPM) Poll() (sensors.PMReadings, bool) {
	if len(s.frames) == 0 {
		return sensors.PMReadings{}, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true
}

type scriptedGas struct {
	samples []sensors.GasSample
	offset  float64
}

func (s *scriptedGas) Run() (sensors.GasSample, bool) {
	if len(s.samples) == 0 {
		return sensors.GasSample{}, false
	}
	g := s.samples[0]
	s.samples = s.samples[1:]
	return g, true
}

func (s *scriptedGas) State() ([]byte, error)         { return []byte("{}"), nil }
func (s *scriptedGas) SetState(blob []byte) error     { return nil }
func (s *scriptedGas) SetTemperatureOffset(o float64) { s.offset = o }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) PublishRaw(topic string, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

type fixture struct {
	coord   *Coordinator
	conn    *fakeConn
	display *display.Controller
	mirror  *display.MirrorPanel
	reader  *sensors.Reader
	pm      *scriptedPM
	gas     *scriptedGas
	buttons *input.Queue
	hass    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		conn:    &fakeConn{},
		mirror:  display.NewMirrorPanel(nil, nil),
		pm:      &scriptedPM{},
		gas:     &scriptedGas{},
		buttons: input.NewQueue(8),
		hass:    &recordingPublisher{},
	}
	f.display = display.NewController(f.mirror, nil)
	f.reader = sensors.NewReader(f.pm, f.gas)
	f.coord = New(Deps{
		Connectivity: f.conn,
		Display:      f.display,
		Reader:       f.reader,
		Buttons:      f.buttons,
		Discovery:    mqtt.NewDiscoveryManager(f.hass, nil, nil),
	}, t0)
	return f
}

// deliver queues a handler call for the next Tick.
func (f *fixture) deliver(call func(h connectivity.Handler)) {
	f.conn.pending = append(f.conn.pending, call)
}

// boot brings connectivity up and lets the display leave the boot screen.
func (f *fixture) boot(t *testing.T, now time.Time) {
	t.Helper()
	f.conn.state = connectivity.State{NetworkUp: true, SessionUp: true}
	f.coord.Step(now)
	require.Equal(t, display.Normal, f.display.Screen())
}

func TestNewRegistersHandlerAndSchemas(t *testing.T) {
	f := newFixture(t)

	assert.Same(t, f.coord, f.conn.handler)
	for _, key := range []string{"telemetryIntervalMs", "tftIntervalMs", "noActivitySecondsToSleep", "maxBrightness", "button", "warningLevels"} {
		assert.True(t, f.conn.configFrag.Has(key), key)
	}
	assert.True(t, f.conn.commandFrag.Has("backLight"))
	assert.True(t, f.conn.commandFrag.Has("nextScreen"))
	assert.False(t, f.conn.commandFrag.Has("restart"), "restart is built into the orchestrator")

	s := f.coord.Settings()
	assert.Equal(t, int64(DefaultIntervalMs), s.TelemetryIntervalMs)
	assert.Equal(t, int64(DefaultIntervalMs), s.TFTIntervalMs)
}

func TestStepBootsDisplayOnConnectivity(t *testing.T) {
	f := newFixture(t)

	f.conn.state = connectivity.State{NetworkUp: true}
	f.coord.Step(t0)
	assert.Equal(t, display.Boot, f.display.Screen())
	assert.Equal(t, warning.Yellow, f.display.Snapshot().Network)

	f.boot(t, t0.Add(time.Second))
	assert.Equal(t, display.DefaultMaxBrightness, f.display.Backlight())
	assert.Equal(t, int64(2), f.conn.ticks.Load())
}

func TestTelemetryNothingToSend(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)

	f.coord.Step(t0.Add(time.Second))
	assert.Empty(t, f.conn.telemetry)

	// The interval restarts even though nothing went out
	f.pm.frames = append(f.pm.frames, sensors.PMReadings{PM1_0: 3, PM2_5: 4, PM10: 5})
	f.coord.Step(t0.Add(1500 * time.Millisecond))
	assert.Empty(t, f.conn.telemetry)

	f.coord.Step(t0.Add(2 * time.Second))
	require.Len(t, f.conn.telemetry, 1)
	assert.Equal(t, schema.Document{"PM1_0": uint16(3), "PM2_5": uint16(4), "PM10": uint16(5)}, f.conn.telemetry[0])
}

func TestTelemetryUncalibratedGasPublishesZeros(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)

	f.pm.frames = append(f.pm.frames, sensors.PMReadings{PM1_0: 12, PM2_5: 40, PM10: 15})
	f.gas.samples = append(f.gas.samples, sensors.GasSample{
		Accuracy:    0,
		CO2e:        612.9,
		BVOC:        0.87,
		Temperature: 21.37,
		Humidity:    45.06,
	})
	f.coord.Step(t0.Add(time.Second))

	require.Len(t, f.conn.telemetry, 1)
	want := schema.Document{
		"PM1_0":       uint16(12),
		"PM2_5":       uint16(40),
		"PM10":        uint16(15),
		"temperature": 21.3,
		"humidity":    45.0,
		"co2e":        0,
		"bvoc":        0,
		"iaqAccuracy": 0,
	}
	if diff := cmp.Diff(want, f.conn.telemetry[0]); diff != "" {
		t.Errorf("telemetry mismatch (-want +got):\n%s", diff)
	}

	frame := f.display.Snapshot()
	assert.Equal(t, warning.Red, frame.Border)
	require.NotNil(t, frame.Gas)
	assert.Nil(t, frame.Gas.CO2e)
	assert.Nil(t, frame.Gas.BVOC)
}

func TestTelemetryCalibrated(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)

	f.gas.samples = append(f.gas.samples, sensors.GasSample{Accuracy: 3, CO2e: 612.9, BVOC: 0.87, Temperature: 21.37, Humidity: 45.06})
	f.coord.Step(t0.Add(time.Second))

	require.Len(t, f.conn.telemetry, 1)
	want := schema.Document{
		"temperature": 21.3,
		"humidity":    45.0,
		"co2e":        uint16(612),
		"bvoc":        0.8,
		"iaqAccuracy": uint8(3),
	}
	if diff := cmp.Diff(want, f.conn.telemetry[0]); diff != "" {
		t.Errorf("telemetry mismatch (-want +got):\n%s", diff)
	}
}

func TestTelemetryRetriedAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)
	f.pm.frames = append(f.pm.frames, sensors.PMReadings{PM1_0: 1, PM2_5: 1, PM10: 1})

	f.conn.publishErr = connectivity.ErrSessionDown
	f.coord.Step(t0.Add(time.Second))
	assert.Empty(t, f.conn.telemetry)

	f.conn.publishErr = nil
	f.coord.Step(t0.Add(1050 * time.Millisecond))
	assert.Len(t, f.conn.telemetry, 1, "the interval is not restarted after a failure")

	f.coord.Step(t0.Add(1100 * time.Millisecond))
	assert.Len(t, f.conn.telemetry, 1)
}

func TestButtonRouting(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)

	assert.Equal(t, input.ModeLocal, f.coord.Settings().Button)

	// local mode keeps a single press on the device
	f.buttons.Push(input.Event{Index: 1, Gesture: input.Single})
	f.coord.Step(t0.Add(10 * time.Millisecond))
	assert.Empty(t, f.conn.statuses, "local single press is not published")
	assert.Equal(t, display.Info, f.display.Screen())

	f.buttons.Push(input.Event{Index: 1, Gesture: input.Double})
	f.coord.Step(t0.Add(20 * time.Millisecond))
	require.Len(t, f.conn.statuses, 1)
	assert.Equal(t, "double", f.conn.statuses[0]["event"])

	// mqtt mode publishes everything
	f.coord.OnConfig(schema.Document{"button": "mqtt"})

	f.buttons.Push(input.Event{Index: 1, Gesture: input.Single})
	f.coord.Step(t0.Add(30 * time.Millisecond))
	require.Len(t, f.conn.statuses, 2)
	assert.Equal(t, schema.Document{"index": uint8(1), "type": "button", "event": "single"}, f.conn.statuses[1])
	assert.Equal(t, display.Info, f.display.Screen())
}

func TestButtonPublishFailureDropsEvent(t *testing.T) {
	f := newFixture(t)
	f.conn.publishErr = connectivity.ErrNetworkDown

	f.buttons.Push(input.Event{Index: 2, Gesture: input.Hold})
	f.coord.Step(t0)

	f.conn.publishErr = nil
	f.coord.Step(t0.Add(10 * time.Millisecond))
	assert.Empty(t, f.conn.statuses)
}

func TestOnConfig(t *testing.T) {
	f := newFixture(t)

	doc, err := schema.Decode([]byte(`{
		"telemetryIntervalMs": 0,
		"tftIntervalMs": 99999,
		"noActivitySecondsToSleep": 5,
		"maxBrightness": 80,
		"button": "local",
		"warningLevels": [{"yellowWarn1_0": 12, "redWarn2_5": 600}],
		"tempOffset": -60,
		"sensorTempUnits": "f",
		"hassDiscoveryEnabled": true
	}`))
	require.NoError(t, err)
	f.coord.OnConfig(doc)

	s := f.coord.Settings()
	assert.Equal(t, int64(MinIntervalMs), s.TelemetryIntervalMs)
	assert.Equal(t, int64(MaxIntervalMs), s.TFTIntervalMs)
	assert.Equal(t, input.ModeLocal, s.Button)
	assert.True(t, s.DiscoveryEnabled)

	frame := f.display.Snapshot()
	assert.Equal(t, int64(5000), frame.IdleTimeoutMs)
	assert.Equal(t, 80, frame.MaxBrightness)
	assert.Equal(t, "°F", frame.Units)

	levels := f.display.Thresholds()
	assert.Equal(t, warning.Level{Yellow: 12, Red: 20}, levels[warning.PM1_0])
	assert.Equal(t, warning.Level{Yellow: 10, Red: 500}, levels[warning.PM2_5])
	assert.Equal(t, warning.DefaultThresholds()[warning.PM10], levels[warning.PM10])

	assert.Equal(t, -50.0, f.gas.offset)
	assert.Equal(t, sensors.Fahrenheit, f.reader.Units())
}

func TestOnConfigIgnoresBadValues(t *testing.T) {
	f := newFixture(t)
	before := f.coord.Settings()

	f.coord.OnConfig(schema.Document{
		"telemetryIntervalMs": "fast",
		"tftIntervalMs":       12.5,
		"button":              "remote",
		"maxBrightness":       true,
		"sensorTempUnits":     "k",
		"warningLevels":       []any{"red"},
	})

	assert.Equal(t, before, f.coord.Settings())
	assert.Equal(t, display.DefaultMaxBrightness, f.display.Snapshot().MaxBrightness)
	assert.Equal(t, warning.DefaultThresholds(), f.display.Thresholds())
	assert.Equal(t, sensors.Celsius, f.reader.Units())
}

func TestOnConfigWakesPanel(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)

	f.deliver(func(h connectivity.Handler) {
		h.OnConfig(schema.Document{"maxBrightness": 80})
	})
	f.coord.Step(t0.Add(time.Second))
	assert.Equal(t, 80, f.display.Backlight(), "new maximum applies at once")

	// At full brightness the next press changes screen
	f.display.RequestNextScreen(t0.Add(2 * time.Second))
	assert.Equal(t, display.Info, f.display.Screen())

	// A short timeout set long after boot restarts the idle timer
	later := t0.Add(20 * time.Minute)
	f.deliver(func(h connectivity.Handler) {
		h.OnConfig(schema.Document{"noActivitySecondsToSleep": 60})
	})
	f.coord.Step(later)
	assert.Equal(t, 80, f.display.Backlight())

	f.coord.Step(later.Add(30 * time.Second))
	assert.Equal(t, 80, f.display.Backlight())

	f.coord.Step(later.Add(61 * time.Second))
	assert.Equal(t, display.BacklightOff, f.display.Backlight())
}

func TestOnConfigLeavesBootScreenDark(t *testing.T) {
	f := newFixture(t)

	f.coord.OnConfig(schema.Document{"maxBrightness": 80, "noActivitySecondsToSleep": 60})
	assert.Equal(t, display.Boot, f.display.Screen())
	assert.Equal(t, display.BacklightOff, f.display.Backlight())

	f.boot(t, t0)
	assert.Equal(t, 80, f.display.Backlight())
}

func TestWarningLevelsAsObject(t *testing.T) {
	f := newFixture(t)

	f.coord.OnConfig(schema.Document{"warningLevels": map[string]any{"yellowWarn10": 1, "redWarn10": 450}})
	assert.Equal(t, warning.Level{Yellow: 5, Red: 450}, f.display.Thresholds()[warning.PM10])
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	f.coord.OnConfig(schema.Document{"noActivitySecondsToSleep": 1})
	f.boot(t, t0)

	f.coord.Step(t0.Add(2 * time.Second))
	require.Equal(t, display.BacklightOff, f.display.Backlight())

	f.conn.pending = append(f.conn.pending, func(h connectivity.Handler) {
		h.OnCommand(schema.Document{"backLight": true})
	})
	f.coord.Step(t0.Add(3 * time.Second))
	assert.Equal(t, display.DefaultMaxBrightness, f.display.Backlight())
	assert.Equal(t, display.Normal, f.display.Screen())

	f.conn.pending = append(f.conn.pending, func(h connectivity.Handler) {
		h.OnCommand(schema.Document{"nextScreen": true})
	})
	f.coord.Step(t0.Add(3100 * time.Millisecond))
	assert.Equal(t, display.Info, f.display.Screen())

	// idle timer was reset by the command
	f.coord.Step(t0.Add(4000 * time.Millisecond))
	assert.Equal(t, display.DefaultMaxBrightness, f.display.Backlight())
}

func TestCommandsAcceptAnyBoolean(t *testing.T) {
	f := newFixture(t)
	f.coord.OnConfig(schema.Document{"noActivitySecondsToSleep": 1})
	f.boot(t, t0)

	f.coord.Step(t0.Add(2 * time.Second))
	require.Equal(t, display.BacklightOff, f.display.Backlight())

	f.deliver(func(h connectivity.Handler) {
		h.OnCommand(schema.Document{"backLight": false})
	})
	f.coord.Step(t0.Add(3 * time.Second))
	assert.Equal(t, display.DefaultMaxBrightness, f.display.Backlight())

	f.deliver(func(h connectivity.Handler) {
		h.OnCommand(schema.Document{"nextScreen": false})
	})
	f.coord.Step(t0.Add(3100 * time.Millisecond))
	assert.Equal(t, display.Info, f.display.Screen())

	// Non-boolean values are ignored
	f.deliver(func(h connectivity.Handler) {
		h.OnCommand(schema.Document{"nextScreen": "yes"})
	})
	f.coord.Step(t0.Add(3200 * time.Millisecond))
	assert.Equal(t, display.Info, f.display.Screen())
}

func TestInfoScreenRefreshedOnDisplayInterval(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)

	assert.Equal(t, "--:--:--:--:--:--", f.display.Snapshot().Info.MAC)

	f.coord.Step(t0.Add(time.Second))
	info := f.display.Snapshot().Info
	assert.Equal(t, display.InfoView{MAC: "24:6F:28:AB:CD:EF", IP: "192.168.001.020", Topic: "home/+/abcdef"}, info)

	last, ok := f.mirror.Last()
	require.True(t, ok)
	assert.Equal(t, info, last.Info)
}

func TestDiscoveryPublishedWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.boot(t, t0)
	assert.Empty(t, f.hass.topics)

	f.coord.OnConfig(schema.Document{"hassDiscoveryEnabled": true})
	f.coord.Step(t0.Add(10 * time.Millisecond))
	require.Len(t, f.hass.topics, 8)
	assert.Equal(t, "homeassistant/sensor/abcdef/AQS_0/config", f.hass.topics[0])

	f.coord.Step(t0.Add(20 * time.Millisecond))
	assert.Len(t, f.hass.topics, 8, "published once")

	f.coord.OnConfig(schema.Document{"sensorTempUnits": "f"})
	f.coord.Step(t0.Add(30 * time.Millisecond))
	assert.Len(t, f.hass.topics, 16, "unit change republishes")
}

func TestDiscoveryParticulateOnly(t *testing.T) {
	f := newFixture(t)
	f.coord.reader = sensors.NewReader(f.pm, nil)
	f.boot(t, t0)

	f.coord.OnConfig(schema.Document{"hassDiscoveryEnabled": true})
	f.coord.Step(t0.Add(10 * time.Millisecond))
	assert.Equal(t, []string{
		"homeassistant/sensor/abcdef/AQS_5/config",
		"homeassistant/sensor/abcdef/AQS_6/config",
		"homeassistant/sensor/abcdef/AQS_7/config",
	}, f.hass.topics)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.coord.Run(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool { return f.conn.ticks.Load() > 2 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

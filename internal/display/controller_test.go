package display

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airsense/internal/sensors"
	"airsense/internal/warning"
)

type recordingPanel struct {
	frames     []Frame
	backlights []int
}

func (p *recordingPanel) Render(f Frame)       { p.frames = append(p.frames, f) }
func (p *recordingPanel) SetBacklight(pct int) { p.backlights = append(p.backlights, pct) }

func (p *recordingPanel) last() Frame { return p.frames[len(p.frames)-1] }

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func bootedController(t *testing.T) (*Controller, *recordingPanel) {
	t.Helper()
	p := &recordingPanel{}
	c := NewController(p, nil)
	c.OnConnectivityChanged(true, true, t0)
	require.Equal(t, Normal, c.Screen())
	return c, p
}

func TestInitialState(t *testing.T) {
	p := &recordingPanel{}
	c := NewController(p, nil)

	assert.Equal(t, Boot, c.Screen())
	assert.Equal(t, BacklightOff, c.Backlight())
	f := p.last()
	assert.Equal(t, warning.Red, f.Network)
	assert.Equal(t, warning.Green, f.Border)
	assert.Nil(t, f.PM)
	assert.Nil(t, f.Gas)
	assert.Equal(t, DefaultMaxBrightness, f.MaxBrightness)
}

func TestNetworkColors(t *testing.T) {
	tests := []struct {
		name      string
		networkUp bool
		sessionUp bool
		expected  warning.Color
	}{
		{"nothing up", false, false, warning.Red},
		{"network only", true, false, warning.Yellow},
		{"both up", true, true, warning.Green},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingPanel{}
			c := NewController(p, nil)
			c.OnConnectivityChanged(tt.networkUp, tt.sessionUp, t0)
			assert.Equal(t, tt.expected, c.Snapshot().Network)
		})
	}
}

func TestBootToNormalExactlyOnce(t *testing.T) {
	p := &recordingPanel{}
	c := NewController(p, nil)

	c.OnConnectivityChanged(true, false, t0)
	assert.Equal(t, Boot, c.Screen(), "session still down")

	c.OnConnectivityChanged(true, true, t0)
	assert.Equal(t, Normal, c.Screen())
	assert.Equal(t, DefaultMaxBrightness, c.Backlight())

	c.RequestNextScreen(t0)
	require.Equal(t, Info, c.Screen())

	// Losing and regaining connectivity never goes back to boot or resets
	// the screen
	c.OnConnectivityChanged(false, false, t0)
	assert.Equal(t, Info, c.Screen())
	assert.Equal(t, warning.Red, c.Snapshot().Network)
	c.OnConnectivityChanged(true, true, t0)
	assert.Equal(t, Info, c.Screen())
}

func TestNextScreenIgnoredDuringBoot(t *testing.T) {
	p := &recordingPanel{}
	c := NewController(p, nil)

	c.RequestNextScreen(t0)
	assert.Equal(t, Boot, c.Screen())
	assert.Equal(t, BacklightOff, c.Backlight())
}

func TestNextScreenTwoStage(t *testing.T) {
	c, _ := bootedController(t)
	c.SetIdleTimeoutMs(1000)

	c.CheckIdle(t0.Add(time.Second))
	require.Equal(t, BacklightOff, c.Backlight())

	// Dimmed: only wakes, repeatedly calling keeps the screen
	c.RequestNextScreen(t0.Add(2 * time.Second))
	assert.Equal(t, Normal, c.Screen())
	assert.Equal(t, DefaultMaxBrightness, c.Backlight())

	// Lit: cycles
	c.RequestNextScreen(t0.Add(2 * time.Second))
	assert.Equal(t, Info, c.Screen())
	c.RequestNextScreen(t0.Add(2 * time.Second))
	assert.Equal(t, Normal, c.Screen())
}

func TestNextScreenResetsIdleTimer(t *testing.T) {
	c, _ := bootedController(t)
	c.SetIdleTimeoutMs(1000)

	c.RequestNextScreen(t0.Add(900 * time.Millisecond))
	c.CheckIdle(t0.Add(1500 * time.Millisecond))
	assert.Equal(t, DefaultMaxBrightness, c.Backlight())
	c.CheckIdle(t0.Add(1900 * time.Millisecond))
	assert.Equal(t, BacklightOff, c.Backlight())
}

func TestIdleTimeout(t *testing.T) {
	t.Run("zero never expires", func(t *testing.T) {
		c, _ := bootedController(t)
		c.SetIdleTimeoutMs(0)
		c.CheckIdle(t0.Add(1000 * time.Hour))
		assert.Equal(t, DefaultMaxBrightness, c.Backlight())
	})

	t.Run("expires exactly at timeout", func(t *testing.T) {
		c, _ := bootedController(t)
		c.SetIdleTimeoutMs(5000)

		c.CheckIdle(t0.Add(4999 * time.Millisecond))
		assert.Equal(t, DefaultMaxBrightness, c.Backlight())
		c.CheckIdle(t0.Add(5000 * time.Millisecond))
		assert.Equal(t, BacklightOff, c.Backlight())
	})

	t.Run("not checked before boot", func(t *testing.T) {
		p := &recordingPanel{}
		c := NewController(p, nil)
		c.SetIdleTimeoutMs(1)
		c.Wake(t0)
		c.CheckIdle(t0.Add(time.Hour))
		assert.Equal(t, DefaultMaxBrightness, c.Backlight())
	})

	t.Run("wake restores", func(t *testing.T) {
		c, _ := bootedController(t)
		c.SetIdleTimeoutMs(10)
		c.CheckIdle(t0.Add(time.Second))
		require.Equal(t, BacklightOff, c.Backlight())
		c.Wake(t0.Add(2 * time.Second))
		assert.Equal(t, DefaultMaxBrightness, c.Backlight())
		assert.Equal(t, Normal, c.Screen())
	})
}

func TestClamping(t *testing.T) {
	c, _ := bootedController(t)

	c.SetMaxBrightness(0)
	assert.Equal(t, 1, c.Snapshot().MaxBrightness)
	c.SetMaxBrightness(250)
	assert.Equal(t, 100, c.Snapshot().MaxBrightness)

	c.SetIdleTimeoutMs(-5)
	assert.Equal(t, int64(0), c.Snapshot().IdleTimeoutMs)
	c.SetIdleTimeoutMs(10_000_000)
	assert.Equal(t, int64(3_600_000), c.Snapshot().IdleTimeoutMs)

	c.SetWarnLevels(warning.Thresholds{
		warning.PM1_0: {Yellow: 1, Red: 1000},
		warning.PM2_5: {Yellow: 40, Red: 20},
		warning.PM10:  {Yellow: 20, Red: 50},
	})
	th := c.Thresholds()
	assert.Equal(t, warning.Level{Yellow: 5, Red: 500}, th[warning.PM1_0])
	assert.Equal(t, warning.Level{Yellow: 40, Red: 20}, th[warning.PM2_5], "red below yellow is kept")
}

func TestMaxBrightnessAppliesOnWake(t *testing.T) {
	c, _ := bootedController(t)
	c.SetMaxBrightness(80)
	assert.Equal(t, DefaultMaxBrightness, c.Backlight())

	// Below the new max counts as dimmed: first press only wakes
	c.RequestNextScreen(t0)
	assert.Equal(t, 80, c.Backlight())
	assert.Equal(t, Normal, c.Screen())
}

func TestBorderScenario(t *testing.T) {
	c, p := bootedController(t)
	c.SetWarnLevels(warning.Thresholds{
		warning.PM1_0: {Yellow: 8, Red: 20},
		warning.PM2_5: {Yellow: 10, Red: 35},
		warning.PM10:  {Yellow: 20, Red: 50},
	})

	c.OnSensorUpdate(nil, &sensors.PMReadings{PM1_0: 9, PM2_5: 36, PM10: 15})

	f := p.last()
	require.NotNil(t, f.PM)
	assert.Equal(t, warning.Yellow, f.PM.PM1_0.Color)
	assert.Equal(t, warning.Red, f.PM.PM2_5.Color)
	assert.Equal(t, warning.Green, f.PM.PM10.Color)
	assert.Equal(t, warning.Red, f.Border)

	// New levels recolour the last reading
	c.SetWarnLevels(warning.Thresholds{
		warning.PM1_0: {Yellow: 100, Red: 200},
		warning.PM2_5: {Yellow: 100, Red: 200},
		warning.PM10:  {Yellow: 100, Red: 200},
	})
	assert.Equal(t, warning.Green, c.Snapshot().Border)
}

func TestBorderWaitsForParticulateData(t *testing.T) {
	c, _ := bootedController(t)
	c.SetWarnLevels(warning.Thresholds{
		warning.PM1_0: {Yellow: 5, Red: 5},
		warning.PM2_5: {Yellow: 5, Red: 5},
		warning.PM10:  {Yellow: 5, Red: 5},
	})
	c.OnSensorUpdate(&sensors.GasQuality{Accuracy: 3}, nil)

	f := c.Snapshot()
	assert.Nil(t, f.PM)
	assert.Equal(t, warning.Green, f.Border)
}

func TestGasAccuracyBlanksValues(t *testing.T) {
	c, _ := bootedController(t)

	c.OnSensorUpdate(&sensors.GasQuality{
		Accuracy: 2, CO2e: 640, BVOC: 0.9, Temperature: 21.5, Humidity: 40, Units: sensors.Celsius,
	}, nil)
	f := c.Snapshot()
	require.NotNil(t, f.Gas)
	require.NotNil(t, f.Gas.CO2e)
	assert.Equal(t, uint16(640), *f.Gas.CO2e)
	assert.Equal(t, warning.Yellow, f.Gas.AccuracyColor)

	c.OnSensorUpdate(&sensors.GasQuality{
		Accuracy: 0, CO2e: 640, BVOC: 0.9, Temperature: 70.7, Humidity: 40, Units: sensors.Fahrenheit,
	}, nil)
	f = c.Snapshot()
	assert.Nil(t, f.Gas.CO2e, "accuracy 0 is no data")
	assert.Nil(t, f.Gas.BVOC)
	assert.Equal(t, 70.7, f.Gas.Temperature)
	assert.Equal(t, warning.Red, f.Gas.AccuracyColor)
	assert.Equal(t, "°F", f.Units)

	c.OnSensorUpdate(&sensors.GasQuality{Accuracy: 3}, nil)
	assert.Equal(t, warning.Green, c.Snapshot().Gas.AccuracyColor)
}

func TestSnapshotIsACopy(t *testing.T) {
	c, _ := bootedController(t)
	c.OnSensorUpdate(&sensors.GasQuality{Accuracy: 3, CO2e: 500}, &sensors.PMReadings{PM1_0: 1})

	f := c.Snapshot()
	*f.Gas.CO2e = 9999
	f.PM.PM1_0.Value = 9999

	again := c.Snapshot()
	assert.Equal(t, uint16(500), *again.Gas.CO2e)
	assert.Equal(t, uint16(1), again.PM.PM1_0.Value)
}

func TestInfoAndUnits(t *testing.T) {
	c, p := bootedController(t)
	n := len(p.frames)

	c.SetInfo("AA:BB:CC:DD:EE:FF", "192.168.001.020", "+/ddeeff")
	assert.Equal(t, n+1, len(p.frames))
	c.SetInfo("AA:BB:CC:DD:EE:FF", "192.168.001.020", "+/ddeeff")
	assert.Equal(t, n+1, len(p.frames), "unchanged info is not redrawn")
	assert.Equal(t, "+/ddeeff", c.Snapshot().Info.Topic)

	c.SetTemperatureUnits(sensors.Fahrenheit)
	assert.Equal(t, "°F", c.Snapshot().Units)
}

func TestBacklightForwardedOnlyOnChange(t *testing.T) {
	c, p := bootedController(t)
	// 0 at start, max at boot
	assert.Equal(t, []int{0, DefaultMaxBrightness}, p.backlights)

	c.Wake(t0)
	assert.Equal(t, []int{0, DefaultMaxBrightness}, p.backlights)
}

package mqtt

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"airsense/internal/storage"
)

// DefaultDiscoveryPrefix is Home Assistant's default discovery topic root
const DefaultDiscoveryPrefix = "homeassistant"

const discoveryNamespace = "hass"

// RawPublisher publishes to absolute topics
type RawPublisher interface {
	PublishRaw(topic string, retained bool, payload []byte) error
}

// DiscoveryTarget is where discovered sensors read their state from
type DiscoveryTarget struct {
	ClientID          string
	StateTopic        string // Absolute telemetry topic
	AvailabilityTopic string // Absolute LWT topic
	TemperatureUnit   string
	NoGas             bool // No gas sensor fitted; only particulate fields
	Device            DeviceInfo
}

// publishedSensor is what was announced for a sensor
type publishedSensor struct {
	Topic string `json:"topic"`
	Unit  string `json:"unit"`
}

// DiscoveryManager manages Home Assistant MQTT Discovery
type DiscoveryManager struct {
	publisher RawPublisher
	logger    *zap.Logger
	storage   storage.Storage

	mu        sync.Mutex
	enabled   bool
	prefix    string
	published map[string]publishedSensor
}

// NewDiscoveryManager creates a new DiscoveryManager instance
func NewDiscoveryManager(publisher RawPublisher, store storage.Storage, logger *zap.Logger) *DiscoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryManager{
		publisher: publisher,
		logger:    logger,
		storage:   store,
		prefix:    DefaultDiscoveryPrefix,
		published: make(map[string]publishedSensor),
	}
}

// Configure sets whether discovery runs and under which topic root.
// Changing the root forgets what was published.
func (d *DiscoveryManager) Configure(enabled bool, prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	if prefix != d.prefix {
		d.resetLocked()
	}
	d.enabled = enabled
	d.prefix = prefix
}

// Enabled reports whether discovery is switched on
func (d *DiscoveryManager) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Reset forgets which sensors were published, e.g. after a unit change
func (d *DiscoveryManager) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *DiscoveryManager) resetLocked() {
	d.published = make(map[string]publishedSensor)
	if d.storage == nil {
		return
	}
	if err := d.storage.DeleteAll(discoveryNamespace); err != nil {
		d.logger.Warn("failed to clear discovery state", zap.Error(err))
	}
}

// PublishPending publishes the config of every sensor not yet marked as
// published and returns how many went out. Failed sensors are retried on
// the next call.
func (d *DiscoveryManager) PublishPending(target DiscoveryTarget) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled {
		return 0, nil
	}

	var errs []error
	published := 0
	for _, cfg := range TelemetrySensors(target.TemperatureUnit) {
		if cfg.Gas && target.NoGas {
			continue
		}

		// Topic: <prefix>/sensor/<client id>/<sensor id>/config
		topic := d.prefix + "/sensor/" + target.ClientID + "/" + cfg.SensorID + "/config"
		record := publishedSensor{Topic: topic, Unit: cfg.Unit}
		if d.isPublished(cfg.SensorID, record) {
			continue
		}

		payload, err := json.Marshal(d.discoveryConfig(cfg, target))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := d.publisher.PublishRaw(topic, true, payload); err != nil {
			errs = append(errs, err)
			continue
		}

		d.markPublished(cfg.SensorID, record)
		published++
	}

	if published > 0 {
		d.logger.Info("published discovery config", zap.Int("sensors", published))
	}
	return published, errors.Join(errs...)
}

func (d *DiscoveryManager) discoveryConfig(cfg SensorConfig, target DiscoveryTarget) map[string]interface{} {
	discoveryConfig := map[string]interface{}{
		"name":                cfg.Name,
		"unique_id":           target.ClientID + "_" + cfg.SensorID,
		"state_topic":         target.StateTopic,
		"value_template":      "{{ value_json." + cfg.Field + " }}",
		"unit_of_measurement": cfg.Unit,
		"device_class":        cfg.DeviceClass,
		"force_update":        true,
	}

	if target.AvailabilityTopic != "" {
		discoveryConfig["availability_topic"] = target.AvailabilityTopic
		discoveryConfig["payload_available"] = PayloadOnline
		discoveryConfig["payload_not_available"] = PayloadOffline
	}

	if len(target.Device.Identifiers) > 0 {
		discoveryConfig["device"] = map[string]interface{}{
			"identifiers":  target.Device.Identifiers,
			"name":         target.Device.Name,
			"model":        target.Device.Model,
			"manufacturer": target.Device.Manufacturer,
			"sw_version":   target.Device.SWVersion,
		}
	}

	return discoveryConfig
}

// isPublished reports whether want was already announced. A stored record
// with another topic or unit is stale.
func (d *DiscoveryManager) isPublished(sensorID string, want publishedSensor) bool {
	if got, ok := d.published[sensorID]; ok && got == want {
		return true
	}
	if d.storage == nil {
		return false
	}
	var got publishedSensor
	if err := d.storage.GetJSON(discoveryNamespace, sensorID, &got); err != nil || got != want {
		return false
	}
	d.published[sensorID] = got
	return true
}

func (d *DiscoveryManager) markPublished(sensorID string, record publishedSensor) {
	d.published[sensorID] = record
	if d.storage == nil {
		return
	}
	if err := d.storage.SetJSON(discoveryNamespace, sensorID, record); err != nil {
		d.logger.Warn("failed to mark discovery as published",
			zap.String("sensor", sensorID), zap.Error(err))
	}
}

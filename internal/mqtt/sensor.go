package mqtt

// SensorConfig describes one telemetry field for Home Assistant Discovery
type SensorConfig struct {
	SensorID    string // Unique sensor ID within the device
	Name        string // Display name
	Field       string // Key in the telemetry document
	Unit        string // µg/m³, %, PPM, ...
	DeviceClass string // Home Assistant device class
	Gas         bool   // Reported by the gas sensor
}

// DeviceInfo contains device information for grouping in Home Assistant
type DeviceInfo struct {
	Identifiers  []string
	Name         string
	Model        string
	Manufacturer string
	SWVersion    string
}

// TelemetrySensors lists the discoverable telemetry fields. The
// temperature unit is filled in at publish time.
func TelemetrySensors(temperatureUnit string) []SensorConfig {
	return []SensorConfig{
		{SensorID: "AQS_0", Name: "Temperature", Field: "temperature", Unit: temperatureUnit, DeviceClass: "temperature", Gas: true},
		{SensorID: "AQS_1", Name: "Humidity", Field: "humidity", Unit: "%", DeviceClass: "humidity", Gas: true},
		{SensorID: "AQS_2", Name: "CO2 Equivalent", Field: "co2e", Unit: "PPM", DeviceClass: "aqi", Gas: true},
		{SensorID: "AQS_3", Name: "Breath VOC", Field: "bvoc", Unit: "PPM", DeviceClass: "aqi", Gas: true},
		{SensorID: "AQS_4", Name: "AQI Accuracy", Field: "iaqAccuracy", Unit: "#", DeviceClass: "aqi", Gas: true},
		{SensorID: "AQS_5", Name: "PM1.0", Field: "PM1_0", Unit: "µg/m³", DeviceClass: "pm1"},
		{SensorID: "AQS_6", Name: "PM2.5", Field: "PM2_5", Unit: "µg/m³", DeviceClass: "pm25"},
		{SensorID: "AQS_7", Name: "PM10", Field: "PM10", Unit: "µg/m³", DeviceClass: "pm10"},
	}
}

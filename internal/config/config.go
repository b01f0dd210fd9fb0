// Package config loads the appliance's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"airsense/internal/auth"
)

// Default values
const (
	DefaultPath            = "airsense.yaml"
	DefaultAddr            = ":8080"
	DefaultTokenExpiration = 0 // never
	DefaultStoragePath     = "airsense.db"
	DefaultTick            = 50 * time.Millisecond
	DefaultEventHistory    = 100
	DefaultLogLevel        = "info"
	DefaultGasBurnIn       = 300
)

// DeviceConfig selects the network interface.
type DeviceConfig struct {
	// Interface to follow; empty picks the first usable one.
	Interface string `yaml:"interface"`
}

// MQTTConfig holds the session defaults. Settings saved through the
// status API take precedence.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
	UseTLS   bool   `yaml:"useTLS"`
}

// APIConfig configures the status API.
type APIConfig struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwtSecret"`
	TokenExpiration time.Duration `yaml:"tokenExpiration"`
	NoAuth          bool          `yaml:"noAuth"`
}

type StorageConfig struct {
	Path         string `yaml:"path"`
	EventHistory int    `yaml:"eventHistory"`
}

type LoopConfig struct {
	Tick time.Duration `yaml:"tick"`
}

type SystemConfig struct {
	RestartCommand []string `yaml:"restartCommand"`
}

// SensorsConfig selects the sensor drivers.
type SensorsConfig struct {
	Simulate  bool  `yaml:"simulate"`
	Seed      int64 `yaml:"seed"`
	GasBurnIn int   `yaml:"gasBurnIn"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type fileConfig struct {
	Device  DeviceConfig  `yaml:"device"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Loop    LoopConfig    `yaml:"loop"`
	System  SystemConfig  `yaml:"system"`
	Sensors SensorsConfig `yaml:"sensors"`
	Log     LogConfig     `yaml:"log"`
}

// Config holds all application configuration.
// All access should be through getter methods for thread safety.
type Config struct {
	mu       sync.RWMutex
	filePath string
	dirty    bool // tracks if config was modified
	values   fileConfig
	// source is the file as written, before ${VAR} expansion. Save
	// patches it instead of writing expanded values back.
	source *yaml.Node
}

// Load loads configuration from a YAML file or creates it with defaults.
// ${VAR} references in the file are expanded from the environment.
func Load(filePath string) (*Config, error) {
	cfg := &Config{
		filePath: filePath,
		values:   defaults(),
	}

	// Try to load existing file
	if err := cfg.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		// File doesn't exist - will be created with defaults
		cfg.dirty = true
	}

	// Generate JWT secret if empty
	if cfg.values.API.JWTSecret == "" {
		cfg.values.API.JWTSecret = auth.GenerateSecret()
		cfg.dirty = true
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Save if config was modified (new file or generated secret)
	if cfg.dirty {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	return cfg, nil
}

func defaults() fileConfig {
	return fileConfig{
		API: APIConfig{
			Addr:            DefaultAddr,
			TokenExpiration: DefaultTokenExpiration,
		},
		Storage: StorageConfig{
			Path:         DefaultStoragePath,
			EventHistory: DefaultEventHistory,
		},
		Loop: LoopConfig{Tick: DefaultTick},
		Sensors: SensorsConfig{
			Simulate:  true,
			GasBurnIn: DefaultGasBurnIn,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// loadFromFile reads configuration from the YAML file over the defaults.
func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&c.values); err != nil {
		// An empty file decodes to EOF
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse %s: %w", c.filePath, err)
	}

	var source yaml.Node
	if err := yaml.Unmarshal(data, &source); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.filePath, err)
	}
	if source.Kind == yaml.DocumentNode && len(source.Content) == 1 && source.Content[0].Kind == yaml.MappingNode {
		c.source = &source
	}
	return nil
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	v := c.values

	// Validate server address
	if v.API.Addr == "" {
		return errors.New("api address cannot be empty")
	}
	if err := validateAddr(v.API.Addr); err != nil {
		return err
	}

	if v.API.TokenExpiration < 0 {
		return errors.New("token expiration cannot be negative")
	}
	if v.API.TokenExpiration > 365*24*time.Hour {
		return errors.New("token expiration cannot exceed 1 year")
	}

	if v.Storage.Path == "" {
		return errors.New("storage path cannot be empty")
	}
	if v.Storage.EventHistory < 1 {
		return errors.New("event history must keep at least 1 event")
	}

	if v.Loop.Tick <= 0 || v.Loop.Tick > time.Second {
		return fmt.Errorf("loop tick must be in (0, 1s], got %s", v.Loop.Tick)
	}

	if v.Sensors.GasBurnIn < 0 {
		return errors.New("gas burn-in cannot be negative")
	}

	if _, err := zapcore.ParseLevel(v.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if strings.ContainsAny(v.Device.Interface, "\x00/ ") {
		return fmt.Errorf("invalid interface name: %q", v.Device.Interface)
	}

	return nil
}

func validateAddr(addr string) error {
	// Check if address format is valid
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		// Try with default host
		if _, err := strconv.Atoi(strings.TrimPrefix(addr, ":")); err != nil {
			return fmt.Errorf("invalid api address format: %s", addr)
		}
		return nil
	}
	if port == "" {
		return errors.New("port cannot be empty")
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 1 || portNum > 65535 {
		return fmt.Errorf("invalid port number: %s", port)
	}
	return nil
}

// Save writes current configuration to the YAML file. A file that was
// read is only patched with the JWT secret, so environment references and
// comments in it are kept.
func (c *Config) Save() error {
	c.mu.Lock()
	data, err := c.encode()
	filePath := c.filePath
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// The file holds secrets
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	return nil
}

func (c *Config) encode() ([]byte, error) {
	if c.source == nil {
		return yaml.Marshal(c.values)
	}
	api := mappingValue(c.source.Content[0], "api")
	setScalar(api, "jwtSecret", c.values.API.JWTSecret)
	return yaml.Marshal(c.source)
}

// mappingValue returns the mapping stored under key in m, adding it or
// replacing a non-mapping value.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != key {
			continue
		}
		v := m.Content[i+1]
		if v.Kind != yaml.MappingNode {
			*v = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		return v
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return v
}

func setScalar(m *yaml.Node, key, value string) {
	v := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
}

// Getters (thread-safe)

// FilePath returns the path to the config file.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

func (c *Config) Device() DeviceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.Device
}

func (c *Config) MQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.MQTT
}

func (c *Config) API() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.API
}

func (c *Config) Storage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.Storage
}

func (c *Config) Loop() LoopConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.Loop
}

// System returns the system section. The restart command is copied.
func (c *Config) System() SystemConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.values.System
	out.RestartCommand = append([]string(nil), out.RestartCommand...)
	return out
}

func (c *Config) Sensors() SensorsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.Sensors
}

func (c *Config) Log() LogConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.Log
}

// String returns a string representation of the config (without secrets).
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	secretDisplay := "[not set]"
	if c.values.API.JWTSecret != "" {
		secretDisplay = "[set]"
	}

	return fmt.Sprintf(
		"Config{Addr: %q, JWTSecret: %s, NoAuth: %v, Broker: %q, Storage: %q, Tick: %v}",
		c.values.API.Addr, secretDisplay, c.values.API.NoAuth, c.values.MQTT.Broker, c.values.Storage.Path, c.values.Loop.Tick,
	)
}

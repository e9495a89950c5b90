package application

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 1883
	DefaultBridgeName      = "device2mqtt"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultOperatingPrefix = "device2mqtt"
)

// Home Assistant components a catalog may declare.
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
	ComponentSwitch       = "switch"
)

var supportedComponents = map[string]struct{}{
	ComponentSensor:       {},
	ComponentBinarySensor: {},
	ComponentSwitch:       {},
}

type MQTTSettings struct {
	Host     string `koanf:"host" yaml:"host"`
	Port     int    `koanf:"port" yaml:"port"`
	Username string `koanf:"username" yaml:"username,omitempty"`
	Password string `koanf:"password" yaml:"password,omitempty"`
	ClientID string `koanf:"client_id" yaml:"client_id,omitempty"`

	BridgeName      string `koanf:"bridge_name" yaml:"bridge_name"`
	DiscoveryPrefix string `koanf:"discovery_prefix" yaml:"discovery_prefix"`
	OperatingPrefix string `koanf:"operating_prefix" yaml:"operating_prefix"`
}

// SensorConfig describes one catalog entry. Options is a free-form overlay
// merged into the discovery payload for attributes this struct does not name.
type SensorConfig struct {
	Name              string         `koanf:"name" yaml:"name"`
	DeviceClass       string         `koanf:"device_class" yaml:"device_class,omitempty"`
	UnitOfMeasurement string         `koanf:"unit_of_measurement" yaml:"unit_of_measurement,omitempty"`
	ObjectID          string         `koanf:"object_id" yaml:"object_id"`
	Icon              string         `koanf:"icon" yaml:"icon,omitempty"`
	Options           map[string]any `koanf:"options" yaml:"options,omitempty"`
}

type Config struct {
	MQTT    MQTTSettings              `koanf:"mqtt_settings" yaml:"mqtt_settings"`
	Devices map[string][]SensorConfig `koanf:"remote_devices" yaml:"remote_devices"`
}

func (m *MQTTSettings) EnsureDefaults() {
	if m.Port == 0 {
		m.Port = DefaultPort
	}
	if m.BridgeName == "" {
		m.BridgeName = DefaultBridgeName
	}
	if m.DiscoveryPrefix == "" {
		m.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if m.OperatingPrefix == "" {
		m.OperatingPrefix = DefaultOperatingPrefix
	}
}

func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt_settings.host is required")
	}
	return validateCatalog(c.Devices)
}

func validateCatalog(devices map[string][]SensorConfig) error {
	seen := map[string]string{}
	for component, sensors := range devices {
		if _, ok := supportedComponents[component]; !ok {
			return fmt.Errorf("unsupported component %q in remote_devices", component)
		}
		for _, sensor := range sensors {
			if sensor.Name == "" {
				return fmt.Errorf("%s entry is missing a name", component)
			}
			if sensor.ObjectID == "" {
				return fmt.Errorf("%s entry %q is missing an object_id", component, sensor.Name)
			}
			if prev, ok := seen[sensor.ObjectID]; ok {
				return fmt.Errorf("duplicate object_id %q (%s and %s)", sensor.ObjectID, prev, component)
			}
			seen[sensor.ObjectID] = component
		}
	}
	return nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.MQTT.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// UpdateConfig merges the given devices into the catalog of the config file,
// creating the file if absent. Broker settings already in the file are left
// untouched. Entries merge by object_id within a component, last write wins.
//
// A freshly created file carries an empty mqtt_settings block; seed it with
// WriteConfig (or edit it by hand) before LoadConfig will accept it.
func UpdateConfig(devices map[string][]SensorConfig, path string) error {
	cfg := &Config{Devices: map[string][]SensorConfig{}}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yamlv3.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Devices == nil {
			cfg.Devices = map[string][]SensorConfig{}
		}
	case errors.Is(err, os.ErrNotExist):
		// new file, empty catalog
	default:
		return fmt.Errorf("read config %s: %w", path, err)
	}

	for component, sensors := range devices {
		for _, sensor := range sensors {
			cfg.Devices[component] = mergeSensor(cfg.Devices[component], sensor)
		}
	}

	if err := validateCatalog(cfg.Devices); err != nil {
		return fmt.Errorf("invalid catalog for %s: %w", path, err)
	}
	return WriteConfig(cfg, path)
}

// WriteConfig rewrites the config file.
func WriteConfig(cfg *Config, path string) error {
	out, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func mergeSensor(sensors []SensorConfig, sensor SensorConfig) []SensorConfig {
	for i, existing := range sensors {
		if existing.ObjectID == sensor.ObjectID {
			sensors[i] = sensor
			return sensors
		}
	}
	return append(sensors, sensor)
}

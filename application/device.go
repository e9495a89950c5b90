package application

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const sensorValueTemplate = "{{ value_json.value }}"

// discoveryConfig is the retained JSON payload Home Assistant reads from the
// discovery topic.
type discoveryConfig struct {
	Name              string        `json:"name"`
	UniqueID          string        `json:"unique_id"`
	ObjectID          string        `json:"object_id"`
	DeviceClass       string        `json:"device_class,omitempty"`
	UnitOfMeasurement string        `json:"unit_of_measurement,omitempty"`
	Icon              string        `json:"icon,omitempty"`
	ValueTemplate     string        `json:"value_template,omitempty"`
	StateTopic        string        `json:"state_topic"`
	CommandTopic      string        `json:"command_topic,omitempty"`
	Device            discoveryNode `json:"device"`
}

// discoveryNode groups every entity of one bridge under a single Home
// Assistant device entry.
type discoveryNode struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

type statePayload struct {
	Value any `json:"value"`
}

// RemoteDevice is one catalog entry bound to a live MQTT connection. Identity
// fields are fixed at construction; only the value cache and the command
// handler mutate afterwards.
type RemoteDevice struct {
	component string
	settings  SensorConfig

	uid            string
	discoveryTopic string
	stateTopic     string
	commandTopic   string

	bridgeIdentifier string
	bridgeName       string

	client MQTTClient
	log    zerolog.Logger

	mu        sync.Mutex
	lastValue any
	onCommand func(payload string)
}

func newRemoteDevice(component string, settings SensorConfig, mqtt MQTTSettings, client MQTTClient, log zerolog.Logger) *RemoteDevice {
	deviceID := DeviceID(component, settings.ObjectID)

	d := &RemoteDevice{
		component:        component,
		settings:         settings,
		uid:              deviceUID(mqtt.OperatingPrefix, mqtt.BridgeName, component, settings.ObjectID),
		discoveryTopic:   DiscoveryTopic(mqtt.DiscoveryPrefix, component, settings.ObjectID),
		stateTopic:       StateTopic(mqtt.OperatingPrefix, mqtt.BridgeName, deviceID),
		bridgeIdentifier: mqtt.OperatingPrefix + "_" + mqtt.BridgeName,
		bridgeName:       mqtt.BridgeName,
		client:           client,
		log:              log.With().Str("device", deviceID).Logger(),
	}

	if component == ComponentSwitch {
		d.commandTopic = CommandTopic(mqtt.OperatingPrefix, mqtt.BridgeName, deviceID)
	}
	return d
}

// deviceUID derives a stable 16 hex char unique_id from the bridge namespace
// and the object_id.
func deviceUID(operatingPrefix, bridgeName, component, objectID string) string {
	sum := sha1.Sum([]byte(operatingPrefix + "_" + bridgeName + "_" + component + "_" + objectID))
	return hex.EncodeToString(sum[:])[:16]
}

func (d *RemoteDevice) Component() string { return d.component }

func (d *RemoteDevice) Name() string { return d.settings.Name }

func (d *RemoteDevice) ObjectID() string { return d.settings.ObjectID }

// UID is the unique_id announced in the discovery payload.
func (d *RemoteDevice) UID() string { return d.uid }

func (d *RemoteDevice) DiscoveryTopic() string { return d.discoveryTopic }

func (d *RemoteDevice) StateTopic() string { return d.stateTopic }

// CommandTopic is empty for components without a command channel.
func (d *RemoteDevice) CommandTopic() string { return d.commandTopic }

// Value returns the last value passed to SetValue, nil before the first call.
func (d *RemoteDevice) Value() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastValue
}

// SetValue publishes one retained state message for value. The value is not
// checked against device_class or unit_of_measurement.
func (d *RemoteDevice) SetValue(value any) error {
	payload, err := d.encodeState(value)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", d.stateTopic, err)
	}

	if err := d.client.Publish(d.stateTopic, 0, true, payload); err != nil {
		return fmt.Errorf("publish state to %s: %w", d.stateTopic, err)
	}

	d.mu.Lock()
	d.lastValue = value
	d.mu.Unlock()
	return nil
}

// SetCommandHandler registers the callback invoked with the payload of
// messages arriving on the command topic. Only meaningful for switches.
func (d *RemoteDevice) SetCommandHandler(handler func(payload string)) {
	d.mu.Lock()
	d.onCommand = handler
	d.mu.Unlock()
}

// handleCommand runs the registered handler and echoes the commanded state
// back to the state topic. A command nobody handled is dropped so the device
// never reports a state change it did not make.
func (d *RemoteDevice) handleCommand(payload string) {
	d.mu.Lock()
	handler := d.onCommand
	d.mu.Unlock()

	if handler == nil {
		d.log.Warn().Msg("command received but no handler is registered")
		return
	}
	handler(payload)

	if err := d.client.Publish(d.stateTopic, 0, true, payload); err != nil {
		d.log.Err(err).Msg("failed to echo commanded state")
	}
}

func (d *RemoteDevice) encodeState(value any) (any, error) {
	if d.component == ComponentSensor {
		return json.Marshal(statePayload{Value: value})
	}

	switch v := value.(type) {
	case bool:
		if v {
			return "ON", nil
		}
		return "OFF", nil
	case string:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// DiscoveryPayload builds the retained config JSON, with the catalog's
// options overlay applied on top. Options may not shadow the required keys.
func (d *RemoteDevice) DiscoveryPayload() ([]byte, error) {
	cfg := discoveryConfig{
		Name:              d.settings.Name,
		UniqueID:          d.uid,
		ObjectID:          d.settings.ObjectID,
		DeviceClass:       d.settings.DeviceClass,
		UnitOfMeasurement: d.settings.UnitOfMeasurement,
		Icon:              d.settings.Icon,
		StateTopic:        d.stateTopic,
		CommandTopic:      d.commandTopic,
		Device: discoveryNode{
			Identifiers: []string{d.bridgeIdentifier},
			Name:        d.bridgeName,
		},
	}
	if d.component == ComponentSensor {
		cfg.ValueTemplate = sensorValueTemplate
	}

	if len(d.settings.Options) == 0 {
		return json.Marshal(cfg)
	}

	base, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range d.settings.Options {
		if _, taken := merged[key]; taken {
			d.log.Warn().Str("attribute", key).Msg("option may not overwrite a required discovery attribute")
			continue
		}
		merged[key] = value
	}
	return json.Marshal(merged)
}

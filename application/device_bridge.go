package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type DeviceBridgeParams struct {
	Config     *Config
	MQTTClient MQTTClient

	Log zerolog.Logger
}

// DeviceBridge owns the MQTT connection and one RemoteDevice per catalog
// entry. The device table is fixed after construction.
type DeviceBridge struct {
	params DeviceBridgeParams

	devices       map[string]*RemoteDevice
	commandRoutes map[string]*RemoteDevice
	stateTopics   map[string]struct{}

	log zerolog.Logger
}

// NewDeviceBridge connects to the broker, builds the device table from the
// catalog and subscribes to the bridge's operating namespace for command
// dispatch.
func NewDeviceBridge(params DeviceBridgeParams) (*DeviceBridge, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("Config is nil")
	}
	if params.MQTTClient == nil {
		return nil, fmt.Errorf("MQTTClient is nil")
	}

	params.Config.MQTT.EnsureDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}

	b := &DeviceBridge{
		params:        params,
		devices:       map[string]*RemoteDevice{},
		commandRoutes: map[string]*RemoteDevice{},
		stateTopics:   map[string]struct{}{},
		log:           params.Log,
	}

	mqttSettings := params.Config.MQTT
	for component, sensors := range params.Config.Devices {
		for _, sensor := range sensors {
			device := newRemoteDevice(component, sensor, mqttSettings, params.MQTTClient, params.Log)
			if _, taken := b.devices[device.ObjectID()]; taken {
				return nil, fmt.Errorf("object_id %q is already taken", device.ObjectID())
			}
			b.devices[device.ObjectID()] = device
			b.stateTopics[device.StateTopic()] = struct{}{}
			if topic := device.CommandTopic(); topic != "" {
				b.commandRoutes[topic] = device
			}
		}
	}

	if !params.MQTTClient.IsConnected() {
		if err := params.MQTTClient.Connect(); err != nil {
			return nil, fmt.Errorf("connect to %s:%d: %w", mqttSettings.Host, mqttSettings.Port, err)
		}
	}

	wildcard := OperatingWildcard(mqttSettings.OperatingPrefix, mqttSettings.BridgeName)
	if err := params.MQTTClient.Subscribe(wildcard, 0, b.dispatch); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", wildcard, err)
	}
	b.log.Debug().Str("topic", wildcard).Msg("subscribed to operating namespace")

	return b, nil
}

func (b *DeviceBridge) dispatch(msg MQTTMessage) {
	if device, ok := b.commandRoutes[msg.Topic()]; ok {
		b.log.Debug().Str("topic", msg.Topic()).Msg("command message")
		device.handleCommand(string(msg.Payload()))
		return
	}
	if _, ok := b.stateTopics[msg.Topic()]; ok {
		b.log.Debug().Str("topic", msg.Topic()).Msg("state message")
		return
	}
	b.log.Warn().Str("topic", msg.Topic()).Msg("message on unexpected topic for this bridge")
}

// ConfigureDevices announces every device to Home Assistant by publishing its
// retained discovery config. Republishing overwrites the prior registration.
// A failed publish does not stop the remaining devices.
func (b *DeviceBridge) ConfigureDevices() error {
	var errs []error
	for objectID, device := range b.devices {
		payload, err := device.DiscoveryPayload()
		if err != nil {
			errs = append(errs, fmt.Errorf("discovery payload for %s: %w", objectID, err))
			continue
		}

		b.log.Debug().Str("object_id", objectID).Str("topic", device.DiscoveryTopic()).Msg("configure device")
		if err := b.params.MQTTClient.Publish(device.DiscoveryTopic(), 1, true, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish discovery to %s: %w", device.DiscoveryTopic(), err))
		}
	}
	return errors.Join(errs...)
}

// DeleteDevices unregisters every device by clearing its retained discovery
// config.
func (b *DeviceBridge) DeleteDevices() error {
	var errs []error
	for objectID, device := range b.devices {
		b.log.Debug().Str("object_id", objectID).Str("topic", device.DiscoveryTopic()).Msg("unlink device")
		if err := b.params.MQTTClient.Publish(device.DiscoveryTopic(), 1, true, []byte{}); err != nil {
			errs = append(errs, fmt.Errorf("publish discovery removal to %s: %w", device.DiscoveryTopic(), err))
		}
	}
	return errors.Join(errs...)
}

// Devices returns the object_id to device table. Callers look up devices and
// call SetValue, they do not insert or remove entries.
func (b *DeviceBridge) Devices() map[string]*RemoteDevice {
	devices := make(map[string]*RemoteDevice, len(b.devices))
	for objectID, device := range b.devices {
		devices[objectID] = device
	}
	return devices
}

// Run blocks until ctx is cancelled or the connection is lost. Cancellation
// disconnects cleanly and returns nil; a lost connection returns the
// transport error.
func (b *DeviceBridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := errgroup.Group{}

	g.Go(func() error {
		defer cancel()
		select {
		case <-ctx.Done():
			b.params.MQTTClient.Disconnect()
			return nil
		case err := <-b.params.MQTTClient.Lost():
			return fmt.Errorf("broker connection lost: %w", err)
		}
	})

	// publish reporter
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		lastStatus := MQTTStatus{}

	ReporterLoop:
		for {
			select {
			case <-ctx.Done():
				break ReporterLoop
			case <-ticker.C:
				newStatus := b.params.MQTTClient.Status()
				b.log.Info().
					Uint64("published", newStatus.MessageCount-lastStatus.MessageCount).
					Bool("is_connected", newStatus.Connected).
					Time("last_time_published", newStatus.LastTimePublished).
					Msg("publish report")
				lastStatus = newStatus
			}
		}

		return nil
	})

	return g.Wait()
}

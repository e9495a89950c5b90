package application

import "time"

type MQTTStatus struct {
	MessageCount      uint64
	LastTimePublished time.Time
	Connected         bool
}

// MQTTMessage is the subset of an incoming MQTT message the bridge cares
// about. paho's mqtt.Message satisfies it.
type MQTTMessage interface {
	Topic() string
	Payload() []byte
}

type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, msg any) error
	Subscribe(topic string, qos byte, handler func(msg MQTTMessage)) error

	Connect() error
	Disconnect()
	IsConnected() bool
	Status() MQTTStatus

	// Lost yields the error that terminated an established connection.
	Lost() <-chan error
}

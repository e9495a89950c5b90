package application

import (
	"strings"
	"sync"
	"time"
)

type publishedMessage struct {
	Topic    string
	QOS      byte
	Retained bool
	Payload  any
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeMQTTClient records publishes and replays incoming messages to
// registered subscription handlers.
type fakeMQTTClient struct {
	mu            sync.Mutex
	connected     bool
	connectErr    error
	publishErr    error
	attempts      int
	published     []publishedMessage
	subscriptions map[string]func(MQTTMessage)
	lost          chan error
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{
		subscriptions: map[string]func(MQTTMessage){},
		lost:          make(chan error, 1),
	}
}

func (f *fakeMQTTClient) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMQTTClient) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeMQTTClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTTClient) Status() MQTTStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return MQTTStatus{
		MessageCount:      uint64(len(f.published)),
		LastTimePublished: time.Unix(0, 0),
		Connected:         f.connected,
	}
}

func (f *fakeMQTTClient) Lost() <-chan error {
	return f.lost
}

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, msg any) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()

	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	f.published = append(f.published, publishedMessage{Topic: topic, QOS: qos, Retained: retained, Payload: msg})
	f.mu.Unlock()
	return nil
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, handler func(msg MQTTMessage)) error {
	f.mu.Lock()
	f.subscriptions[topic] = handler
	f.mu.Unlock()
	return nil
}

// deliver routes an incoming message to the matching subscription, honoring a
// trailing '#' wildcard.
func (f *fakeMQTTClient) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	var matched func(MQTTMessage)
	for filter, handler := range f.subscriptions {
		if filter == topic || (strings.HasSuffix(filter, "/#") && strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))) {
			matched = handler
			break
		}
	}
	f.mu.Unlock()

	if matched == nil {
		return false
	}
	matched(fakeMessage{topic: topic, payload: payload})
	return true
}

func (f *fakeMQTTClient) publishAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeMQTTClient) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

var _ MQTTClient = &fakeMQTTClient{}

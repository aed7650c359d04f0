package publish

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Server   string // host, host:port or full broker URL
	ClientID string
	Username string
	Password string

	KeepAlive time.Duration // default 60s
	Timeout   time.Duration // connect and publish wait, default 10s
}

// MQTT publishes to a broker through paho.
type MQTT struct {
	client  mqtt.Client
	timeout time.Duration

	mu        sync.RWMutex
	connected bool
}

// NewMQTT configures a client. Call Connect before publishing.
func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	m := &MQTT{timeout: cfg.Timeout}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg.Server))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(cfg.Timeout)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		m.setConnected(true)
		log.Printf("[mqtt] connected to %s", cfg.Server)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.setConnected(false)
		log.Printf("[mqtt] connection lost: %v", err)
	})

	m.client = mqtt.NewClient(opts)
	return m
}

func newMQTTWithClient(c mqtt.Client, timeout time.Duration) *MQTT {
	return &MQTT{client: c, timeout: timeout}
}

// BrokerURL adds the tcp scheme and default port to a bare host.
func BrokerURL(server string) string {
	if strings.Contains(server, "://") {
		return server
	}
	if !strings.Contains(server, ":") {
		server += ":1883"
	}
	return "tcp://" + server
}

// Connect makes one connection attempt.
func (m *MQTT) Connect() error {
	token := m.client.Connect()
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt connect: timed out after %v", m.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.setConnected(true)
	return nil
}

// IsConnected reports whether the broker session is up.
func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// Publish implements Publisher.
func (m *MQTT) Publish(topic string, payload []byte, qos byte, retain bool) error {
	token := m.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(m.timeout) {
		return &Error{Topic: topic, Err: errors.New("timed out waiting for broker")}
	}
	if err := token.Error(); err != nil {
		return &Error{Topic: topic, Err: err}
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.setConnected(false)
	return nil
}

// Package publish sends daemon events to an MQTT broker.
package publish

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const DefaultTopicPrefix = "thermoctl"

// Publisher delivers one JSON event under a subtopic.
type Publisher interface {
	Publish(ctx context.Context, subtopic string, payload any) error
	Close()
}

// Config selects the broker. An empty Broker disables publishing.
type Config struct {
	Broker       string
	TopicPrefix  string
	Username     string
	PasswordFile string
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

// Subtopics whose last value is retained by the broker.
var retainedTopics = map[string]bool{"state": true}

// sender is the part of mqtt.Client the publisher uses.
type sender interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes to a broker through paho.
type MQTT struct {
	client     sender
	prefix     string
	disconnect func()
}

// Connect dials the broker. Paho reconnects on its own afterwards.
func Connect(cfg Config) (*MQTT, error) {
	broker, err := normalizeBroker(cfg.Broker)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if strings.HasPrefix(broker, "ssl://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.PasswordFile != "" {
		password, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password: %w", err)
		}
		opts.SetPassword(strings.TrimSpace(string(password)))
	}
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(15*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, token.Error())
	}
	return newMQTT(client, cfg.TopicPrefix, func() { client.Disconnect(250) }), nil
}

func newMQTT(client sender, prefix string, disconnect func()) *MQTT {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if disconnect == nil {
		disconnect = func() {}
	}
	return &MQTT{client: client, prefix: prefix, disconnect: disconnect}
}

// Topic returns the full topic for a subtopic.
func (m *MQTT) Topic(subtopic string) string {
	return m.prefix + "/" + subtopic
}

func (m *MQTT) Publish(ctx context.Context, subtopic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.Topic(subtopic), 0, retainedTopics[subtopic], data)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

func (m *MQTT) Close() {
	m.disconnect()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() {}

func normalizeBroker(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid mqtt broker %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case "tcp", "ssl", "ws", "wss":
	case "mqtt":
		parsed.Scheme = "tcp"
	case "mqtts":
		parsed.Scheme = "ssl"
	default:
		return "", fmt.Errorf("unsupported mqtt scheme %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("invalid mqtt broker %q", raw)
	}
	if parsed.Port() == "" {
		port := "1883"
		if parsed.Scheme == "ssl" {
			port = "8883"
		}
		parsed.Host = parsed.Hostname() + ":" + port
	}
	return parsed.String(), nil
}

func randomClientID() string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return "thermoctl-" + base64.RawURLEncoding.EncodeToString(nonce)
}

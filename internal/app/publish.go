package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"enviroflow/internal/config"
	"enviroflow/internal/poll"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// Publisher fans poll results out over MQTT so dashboards and automation
// rules can react without polling the HTTP API.
type Publisher struct {
	client mqtt.Client
	prefix string
	log    *slog.Logger
}

// NewPublisher connects to the configured broker. A nil Publisher is
// returned when MQTT is not configured; callers treat that as disabled.
func NewPublisher(cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.BrokerURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("broker connected", "broker", cfg.BrokerURL)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("broker connection lost", "err", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}

	return &Publisher{client: client, prefix: cfg.TopicPrefix, log: log}, nil
}

// PublishResult emits one poll outcome on
// <prefix>/controllers/<id>/poll as retained JSON, so late subscribers see
// the most recent state immediately.
func (p *Publisher) PublishResult(result poll.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal poll result: %w", err)
	}

	topic := fmt.Sprintf("%s/controllers/%s/poll", p.prefix, result.ControllerID)
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects from the broker, flushing in-flight messages briefly.
func (p *Publisher) Close() {
	p.client.Disconnect(uint(mqttPublishTimeout.Milliseconds()))
}

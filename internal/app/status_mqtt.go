// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/logging"
)

// MQTT topic suffixes below mqtt.topic_prefix.
const (
	StatusTopic   = "status"
	SettingsTopic = "settings"
)

// StatusMirror publishes the controller state to MQTT and applies settings
// received from it.
type StatusMirror struct {
	bridge   *Bridge
	logger   logging.Logger
	clk      clock.Clock
	prefix   string
	interval time.Duration
	publish  func(topic string, payload []byte) error
}

// NewStatusMirror returns a mirror that hands its retained status payloads
// to publish.
func NewStatusMirror(b *Bridge, logger logging.Logger, clk clock.Clock, prefix string, interval time.Duration,
	publish func(topic string, payload []byte) error) *StatusMirror {
	return &StatusMirror{
		bridge:   b,
		logger:   logger,
		clk:      clk,
		prefix:   prefix,
		interval: interval,
		publish:  publish,
	}
}

func (m *StatusMirror) topic(suffix string) string {
	return m.prefix + "/" + suffix
}

// Run publishes the status every interval until ctx is cancelled.
func (m *StatusMirror) Run(ctx context.Context) {
	ticker := m.clk.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.PublishStatus(); err != nil {
				m.logger.Warnf("mqtt: publish status: %v", err)
			}
		}
	}
}

// PublishStatus sends the current state once.
func (m *StatusMirror) PublishStatus() error {
	payload, err := json.Marshal(m.bridge.State().Status())
	if err != nil {
		return err
	}
	return m.publish(m.topic(StatusTopic), payload)
}

// HandleSettings applies a settings payload, the same body PUT /api/settings
// takes.
func (m *StatusMirror) HandleSettings(payload []byte) error {
	var req SettingsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("settings payload: %w", err)
	}
	return ApplySettings(m.bridge, req)
}

// RunStatusMQTT connects to the configured broker and mirrors b until ctx is
// cancelled.
func RunStatusMQTT(ctx context.Context, cfg config.MQTTConfig, interval time.Duration, b *Bridge, clk clock.Clock, logger logging.Logger) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID + "-" + uuid.New().String()).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, token.Error())
	}
	logger.Infof("mqtt: connected to MQTT broker at %s", cfg.Broker)
	defer client.Disconnect(250)

	mirror := NewStatusMirror(b, logger, clk, cfg.TopicPrefix, interval, func(topic string, payload []byte) error {
		token := client.Publish(topic, 0, true, payload)
		token.Wait()
		return token.Error()
	})

	settings := mirror.topic(SettingsTopic)
	token := client.Subscribe(settings, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := mirror.HandleSettings(msg.Payload()); err != nil {
			logger.Warnf("mqtt: settings rejected: %v", err)
			return
		}
		// reflect the change without waiting for the next tick
		if err := mirror.PublishStatus(); err != nil {
			logger.Warnf("mqtt: publish status: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Infof("mqtt: subscribed to %s", settings)

	mirror.Run(ctx)
	logger.Infof("mqtt: shutting down")
	return nil
}

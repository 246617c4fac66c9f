package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vcscsvcscs/medication-engine/internal/config"
	"go.uber.org/zap"
)

const (
	mqttQoS        byte = 1
	publishTimeout      = 10 * time.Second
)

// publisher is the subset of mqtt.Client the dispatcher needs
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// scheduleCommand is published to <prefix>/<device>/schedule
type scheduleCommand struct {
	Handle  Handle    `json:"handle"`
	FireAt  time.Time `json:"fireAt"`
	Payload Payload   `json:"payload"`
}

// cancelCommand is published to <prefix>/<device>/cancel
type cancelCommand struct {
	Handle Handle `json:"handle"`
}

// MQTTDispatcher forwards schedule and cancel commands to the device's
// notification agent over MQTT.
type MQTTDispatcher struct {
	client        publisher
	disconnect    func()
	scheduleTopic string
	cancelTopic   string
	logger        *zap.Logger
}

// NewMQTTDispatcher connects to the broker and returns a dispatcher for deviceID
func NewMQTTDispatcher(cfg config.MQTTConfig, deviceID string, logger *zap.Logger) (*MQTTDispatcher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	d := newMQTTDispatcher(client, cfg.TopicPrefix, deviceID, logger)
	d.disconnect = func() { client.Disconnect(250) }

	logger.Info("mqtt notification dispatcher connected",
		zap.String("broker", cfg.Broker),
		zap.String("schedule_topic", d.scheduleTopic),
	)
	return d, nil
}

func newMQTTDispatcher(client publisher, prefix, deviceID string, logger *zap.Logger) *MQTTDispatcher {
	return &MQTTDispatcher{
		client:        client,
		disconnect:    func() {},
		scheduleTopic: fmt.Sprintf("%s/%s/schedule", prefix, deviceID),
		cancelTopic:   fmt.Sprintf("%s/%s/cancel", prefix, deviceID),
		logger:        logger,
	}
}

// Schedule publishes a schedule command and returns the generated handle
func (d *MQTTDispatcher) Schedule(ctx context.Context, at time.Time, payload Payload) (Handle, error) {
	handle := Handle(uuid.New().String())

	body, err := json.Marshal(scheduleCommand{Handle: handle, FireAt: at, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("failed to marshal schedule command: %w", err)
	}

	if err := d.publish(ctx, d.scheduleTopic, body); err != nil {
		d.logger.Error("failed to schedule notification",
			zap.String("dose_id", payload.DoseID),
			zap.Time("fire_at", at),
			zap.Error(err),
		)
		return "", err
	}

	d.logger.Debug("notification scheduled",
		zap.String("handle", string(handle)),
		zap.String("dose_id", payload.DoseID),
		zap.Int("offset_minutes", payload.OffsetMinutes),
	)
	return handle, nil
}

// Cancel publishes a cancel command for handle
func (d *MQTTDispatcher) Cancel(ctx context.Context, handle Handle) error {
	body, err := json.Marshal(cancelCommand{Handle: handle})
	if err != nil {
		return fmt.Errorf("failed to marshal cancel command: %w", err)
	}

	if err := d.publish(ctx, d.cancelTopic, body); err != nil {
		d.logger.Error("failed to cancel notification",
			zap.String("handle", string(handle)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (d *MQTTDispatcher) publish(ctx context.Context, topic string, body []byte) error {
	token := d.client.Publish(topic, mqttQoS, false, body)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to publish to topic %s: %w", topic, ctx.Err())
	case <-time.After(publishTimeout):
		return fmt.Errorf("failed to publish to topic %s: timed out", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (d *MQTTDispatcher) Close() {
	d.disconnect()
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is the subset of mqtt.Client used for publishing.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes each message on "<prefix>/<type>".
type MQTTPublisher struct {
	client  MQTTClient
	prefix  string
	qos     byte
	timeout time.Duration
}

func NewMQTTPublisher(client MQTTClient, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, timeout: 5 * time.Second}
}

func (p *MQTTPublisher) Topic(t MessageType) string {
	return p.prefix + "/" + string(t)
}

func (p *MQTTPublisher) Publish(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := p.client.Publish(p.Topic(m.Type), p.qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publish to %s timed out", p.Topic(m.Type))
	}
	return token.Error()
}

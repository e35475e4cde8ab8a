package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/technosupport/ts-events/internal/realtime"
)

// PushNotification is handed to the external push subsystem.
type PushNotification struct {
	EventID   string `json:"event_id"`
	RuleID    string `json:"rule_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Thumbnail string `json:"thumbnail,omitempty"`
	DeepLink  string `json:"deep_link"`
}

type PushSender interface {
	Send(ctx context.Context, n PushNotification) error
}

// NATSPush publishes push notifications on a NATS subject consumed by the
// push subsystem.
type NATSPush struct {
	conn       realtime.Conn
	subject    string
	maxRetries int
}

func NewNATSPush(conn realtime.Conn, subject string, maxRetries int) *NATSPush {
	return &NATSPush{conn: conn, subject: subject, maxRetries: maxRetries}
}

func (p *NATSPush) Send(ctx context.Context, n PushNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return realtime.PublishWithRetry(ctx, p.conn, p.subject, data, p.maxRetries)
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes each message on "<prefix>.<type>".
type NATSPublisher struct {
	conn       Conn
	prefix     string
	maxRetries int
}

func NewNATSPublisher(conn Conn, prefix string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, maxRetries: maxRetries}
}

func (p *NATSPublisher) Subject(t MessageType) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return PublishWithRetry(ctx, p.conn, p.Subject(m.Type), data, p.maxRetries)
}

// PublishWithRetry retries a NATS publish with a short linear backoff.
func PublishWithRetry(ctx context.Context, conn Conn, subject string, data []byte, maxRetries int) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		if err = conn.Publish(subject, data); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("publish to %s failed after %d retries: %w", subject, maxRetries, err)
}

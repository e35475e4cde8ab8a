// Package realtime pushes pipeline updates to connected clients and message buses.
package realtime

import (
	"context"
	"time"
)

type MessageType string

const (
	TypeEventCreated    MessageType = "event.created"
	TypeEventUpdated    MessageType = "event.updated"
	TypeCameraStatus    MessageType = "camera.status"
	TypeNotificationNew MessageType = "notification.new"
)

type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

func NewMessage(t MessageType, data any) Message {
	return Message{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// CameraStatus is the data of a camera.status message.
type CameraStatus struct {
	CameraID string `json:"camera_id"`
	Enabled  bool   `json:"enabled"`
}

// Notification is the data of a notification.new message.
type Notification struct {
	EventID      string `json:"event_id"`
	RuleID       string `json:"rule_id"`
	RuleName     string `json:"rule_name"`
	CameraID     string `json:"camera_id"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Publisher delivers messages best-effort. Callers log errors and move on.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Discard drops every message.
type Discard struct{}

func (Discard) Publish(context.Context, Message) error { return nil }

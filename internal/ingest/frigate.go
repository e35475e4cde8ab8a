package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
)

// FrigateEvent is the payload Frigate publishes on frigate/events.
type FrigateEvent struct {
	Type   string            `json:"type"`
	Before FrigateEventState `json:"before"`
	After  FrigateEventState `json:"after"`
}

type FrigateEventState struct {
	ID          string  `json:"id"`
	Camera      string  `json:"camera"`
	Label       string  `json:"label"`
	TopScore    float64 `json:"top_score"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time,omitempty"`
	HasSnapshot bool    `json:"has_snapshot"`
}

func unixFloat(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// FrigateHandler turns Frigate "new" object events into smart-detection
// triggers, fetching the snapshot from the Frigate API.
type FrigateHandler struct {
	submit Submitter
	snaps  Fetcher
	// Cameras maps Frigate camera names to pipeline camera ids. Unmapped
	// names are used as they are.
	Cameras map[string]string
}

func NewFrigateHandler(submit Submitter, snaps Fetcher, cameras map[string]string) *FrigateHandler {
	return &FrigateHandler{submit: submit, snaps: snaps, Cameras: cameras}
}

func (h *FrigateHandler) Handle(ctx context.Context, payload []byte) error {
	var ev FrigateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode frigate event: %w", err)
	}
	if ev.Type != "new" {
		return nil
	}

	camera := ev.After.Camera
	if mapped, ok := h.Cameras[camera]; ok {
		camera = mapped
	}
	at := time.Now()
	if ev.After.StartTime > 0 {
		at = unixFloat(ev.After.StartTime)
	}

	img, err := h.snaps.Fetch(ctx, fmt.Sprintf("api/events/%s/snapshot.jpg", ev.After.ID))
	if err != nil {
		metrics.RecordTriggerDrop("snapshot")
		return err
	}

	frame := data.Frame{Data: img, CapturedAt: at}
	if ev.After.TopScore > 0 {
		score := ev.After.TopScore
		frame.MotionScore = &score
	}
	return h.submit.Submit(data.Trigger{
		CameraID:   camera,
		CapturedAt: at,
		Frames:     []data.Frame{frame},
		Kind:       data.TriggerSmartDetection,
		Hint:       ev.After.Label,
	})
}

// MQTTSubscriber is the subset of mqtt.Client used for subscribing.
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

func SubscribeMQTT(client MQTTSubscriber, topic string, h *FrigateHandler, timeout time.Duration) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		payload, topic := msg.Payload(), msg.Topic()
		// The snapshot fetch must not hold up the client's message router.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := h.Handle(ctx, payload); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("frigate event not ingested")
			}
		}()
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Info().Str("topic", topic).Msg("subscribed to frigate events")
	return nil
}

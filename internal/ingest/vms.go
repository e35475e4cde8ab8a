package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
)

// VmsEvent is the normalized NVR event envelope published by the VMS.
type VmsEvent struct {
	EventID    uuid.UUID  `json:"event_id"`
	Source     string     `json:"source"`
	Vendor     string     `json:"vendor"`
	NVRID      uuid.UUID  `json:"nvr_id"`
	CameraID   *uuid.UUID `json:"camera_id"`
	ChannelRef string     `json:"channel_ref"`

	EventType string `json:"event_type"`
	Severity  string `json:"severity"`

	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at"`

	DedupKey string      `json:"dedup_key"`
	Snapshot VmsSnapshot `json:"snapshot"`
}

type VmsSnapshot struct {
	VendorRef string `json:"vendor_ref,omitempty"`
	Requested bool   `json:"requested,omitempty"`
}

// CameraKey is the camera id used by the pipeline: the VMS camera id when the
// NVR channel is mapped, otherwise "<nvr_id>:<channel_ref>".
func (e *VmsEvent) CameraKey() string {
	if e.CameraID != nil {
		return e.CameraID.String()
	}
	return fmt.Sprintf("%s:%s", e.NVRID, e.ChannelRef)
}

type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// VMSHandler turns motion events into motion triggers.
type VMSHandler struct {
	submit Submitter
	snaps  Fetcher
	seen   *lru.Cache[string, time.Time]
	ttl    time.Duration
	now    func() time.Time
}

func NewVMSHandler(submit Submitter, snaps Fetcher, dedupKeys int, dedupTTL time.Duration) *VMSHandler {
	if dedupKeys <= 0 {
		dedupKeys = 4096
	}
	c, _ := lru.New[string, time.Time](dedupKeys)
	return &VMSHandler{submit: submit, snaps: snaps, seen: c, ttl: dedupTTL, now: time.Now}
}

func (h *VMSHandler) isDuplicate(key string) bool {
	if key == "" || h.ttl <= 0 {
		return false
	}
	now := h.now()
	if at, ok := h.seen.Get(key); ok && now.Sub(at) < h.ttl {
		return true
	}
	h.seen.Add(key, now)
	return false
}

// Handle processes one envelope. Non-motion events and redeliveries are
// ignored without error.
func (h *VMSHandler) Handle(ctx context.Context, payload []byte) error {
	var ev VmsEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode vms event: %w", err)
	}
	if ev.EventType != "motion" {
		return nil
	}
	if h.isDuplicate(ev.DedupKey) {
		metrics.RecordTriggerDrop("duplicate")
		return nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = ev.ReceivedAt
	}
	t := data.Trigger{CameraID: ev.CameraKey(), CapturedAt: at, Kind: data.TriggerMotion, Hint: ev.Vendor}

	if ev.Snapshot.VendorRef == "" {
		metrics.RecordTriggerDrop("no_snapshot")
		return fmt.Errorf("motion event %s has no snapshot reference", ev.EventID)
	}
	img, err := h.snaps.Fetch(ctx, ev.Snapshot.VendorRef)
	if err != nil {
		metrics.RecordTriggerDrop("snapshot")
		return err
	}
	t.Frames = []data.Frame{{Data: img, CapturedAt: at}}

	return h.submit.Submit(t)
}

// SubscribeNATS consumes envelopes from subject within a queue group so that
// several instances share the work.
func SubscribeNATS(conn *nats.Conn, subject, queue string, h *VMSHandler, timeout time.Duration) (*nats.Subscription, error) {
	return conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := h.Handle(ctx, msg.Data); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("vms event not ingested")
		}
	})
}

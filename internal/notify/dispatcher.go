// Package notify turns rule matches into dashboard, push and webhook notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
	"github.com/technosupport/ts-events/internal/realtime"
	"github.com/technosupport/ts-events/internal/rules"
	"github.com/technosupport/ts-events/internal/webhook"
)

var ErrClosed = errors.New("dispatcher closed")

type WebhookDeliverer interface {
	Deliver(ctx context.Context, target data.WebhookTarget, p webhook.Payload) webhook.Result
}

type Config struct {
	// MaxConcurrentWebhooks bounds in-flight webhook deliveries.
	MaxConcurrentWebhooks int    `yaml:"max_concurrent_webhooks"`
	DeepLinkBase          string `yaml:"deep_link_base"`
	PushTimeout           time.Duration
}

type Dispatcher struct {
	cfg       Config
	publisher realtime.Publisher
	push      PushSender
	webhooks  WebhookDeliverer

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg Config, publisher realtime.Publisher, push PushSender, webhooks WebhookDeliverer) *Dispatcher {
	if cfg.MaxConcurrentWebhooks <= 0 {
		cfg.MaxConcurrentWebhooks = 32
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	if cfg.DeepLinkBase == "" {
		cfg.DeepLinkBase = "/events"
	}
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		publisher: publisher,
		push:      push,
		webhooks:  webhooks,
		sem:       make(chan struct{}, cfg.MaxConcurrentWebhooks),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Dispatch starts every action of the matched rule and returns immediately.
// Repeat matches are ignored.
func (d *Dispatcher) Dispatch(m rules.RuleMatch) {
	if m.Repeat || m.Rule == nil || m.Event == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Warn().Str("rule_id", m.Rule.ID).Str("event_id", m.Event.ID.String()).Msg("dispatch after close ignored")
		return
	}

	for _, a := range m.Rule.Actions {
		d.wg.Add(1)
		switch a.Type {
		case data.ActionDashboard:
			go d.dashboard(m)
		case data.ActionPush:
			go d.sendPush(m)
		case data.ActionWebhook:
			if a.Webhook == nil {
				d.wg.Done()
				continue
			}
			go d.deliverWebhook(m, *a.Webhook)
		default:
			d.wg.Done()
			log.Warn().Str("rule_id", m.Rule.ID).Str("action", string(a.Type)).Msg("unknown action type")
		}
	}
}

func (d *Dispatcher) dashboard(m rules.RuleMatch) {
	defer d.wg.Done()
	start := time.Now()
	n := realtime.Notification{
		EventID:      m.Event.ID.String(),
		RuleID:       m.Rule.ID,
		RuleName:     m.Rule.Name,
		CameraID:     m.Event.CameraID,
		Title:        title(m),
		Body:         body(m.Event),
		ThumbnailURL: m.Event.ThumbnailURL,
	}
	outcome := data.OutcomeSuccess
	if err := d.publisher.Publish(d.ctx, realtime.NewMessage(realtime.TypeNotificationNew, n)); err != nil {
		outcome = data.OutcomeFailure
		log.Warn().Err(err).Str("rule_id", m.Rule.ID).Str("event_id", n.EventID).Msg("dashboard notification failed")
	}
	metrics.RecordDelivery(string(data.ActionDashboard), string(outcome), float64(time.Since(start).Milliseconds()))
}

func (d *Dispatcher) sendPush(m rules.RuleMatch) {
	defer d.wg.Done()
	if d.push == nil {
		log.Debug().Str("rule_id", m.Rule.ID).Msg("push action without push sender")
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.PushTimeout)
	defer cancel()

	start := time.Now()
	n := PushNotification{
		EventID:   m.Event.ID.String(),
		RuleID:    m.Rule.ID,
		Title:     title(m),
		Body:      body(m.Event),
		Thumbnail: m.Event.ThumbnailURL,
		DeepLink:  strings.TrimRight(d.cfg.DeepLinkBase, "/") + "/" + m.Event.ID.String(),
	}
	outcome := data.OutcomeSuccess
	if err := d.push.Send(ctx, n); err != nil {
		outcome = data.OutcomeFailure
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = data.OutcomeTimeout
		}
		log.Warn().Err(err).Str("rule_id", m.Rule.ID).Str("event_id", n.EventID).Msg("push notification failed")
	}
	metrics.RecordDelivery(string(data.ActionPush), string(outcome), float64(time.Since(start).Milliseconds()))
}

func (d *Dispatcher) deliverWebhook(m rules.RuleMatch, target data.WebhookTarget) {
	defer d.wg.Done()
	if d.webhooks == nil {
		return
	}

	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		log.Warn().Str("rule_id", m.Rule.ID).Str("event_id", m.Event.ID.String()).Msg("webhook abandoned on shutdown")
		return
	}
	defer func() { <-d.sem }()

	d.webhooks.Deliver(d.ctx, target, webhook.NewPayload(m.Event, m.Rule.ID, m.Rule.Name))
}

// Close stops accepting matches and waits for in-flight work. When ctx ends
// first, remaining deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

func title(m rules.RuleMatch) string {
	name := m.Event.CameraName
	if name == "" {
		name = m.Event.CameraID
	}
	return fmt.Sprintf("%s: %s", m.Rule.Name, name)
}

func body(e *data.Event) string {
	const max = 180
	s := e.Description
	if r := []rune(s); len(r) > max {
		s = string(r[:max-1]) + "…"
	}
	return s
}

// Package webhook delivers rule matches to user-configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
	"github.com/technosupport/ts-events/internal/retry"
)

var (
	ErrTransient = errors.New("transient delivery failure")
	ErrPermanent = errors.New("permanent delivery failure")
)

type State string

const (
	StatePending          State = "pending"
	StateAttempting       State = "attempting"
	StateSuccess          State = "success"
	StateRetryScheduled   State = "retry_scheduled"
	StatePermanentFailure State = "permanent_failure"
)

type Transition struct {
	State   State
	Attempt int
}

// Payload is the JSON body posted to webhook targets.
type Payload struct {
	EventID       uuid.UUID `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	CameraID      string    `json:"camera_id"`
	CameraName    string    `json:"camera_name"`
	Description   string    `json:"description"`
	Confidence    int       `json:"confidence"`
	DetectionType []string  `json:"detection_type"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	RuleID        string    `json:"rule_id"`
	RuleName      string    `json:"rule_name"`
}

func NewPayload(e *data.Event, ruleID, ruleName string) Payload {
	return Payload{
		EventID:       e.ID,
		Timestamp:     e.Timestamp.UTC(),
		CameraID:      e.CameraID,
		CameraName:    e.CameraName,
		Description:   e.Description,
		Confidence:    e.Confidence,
		DetectionType: e.DetectionTypes(),
		ThumbnailURL:  e.ThumbnailURL,
		RuleID:        ruleID,
		RuleName:      ruleName,
	}
}

// Recorder stores delivery attempts, e.g. data.DeliveryModel.
type Recorder interface {
	RecordAttempt(ctx context.Context, a *data.DeliveryAttempt) error
}

type Config struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     retry.Backoff `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		Backoff:     retry.Backoff{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2},
	}
}

type Result struct {
	State       State
	Attempts    int
	StatusCode  int
	Err         error
	Transitions []Transition
}

type Deliverer struct {
	client    *http.Client
	cfg       Config
	recorder  Recorder
	retryOpts []retry.Option
}

func NewDeliverer(cfg Config, recorder Recorder, client *http.Client) *Deliverer {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = def.Backoff
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Deliverer{client: client, cfg: cfg, recorder: recorder}
}

// Deliver posts p to target, retrying transient failures with backoff. Every
// attempt is recorded. Running out of attempts ends in PermanentFailure.
func (d *Deliverer) Deliver(ctx context.Context, target data.WebhookTarget, p Payload) Result {
	res := Result{State: StatePending, Transitions: []Transition{{State: StatePending}}}

	body, err := json.Marshal(p)
	if err != nil {
		res.State = StatePermanentFailure
		res.Err = fmt.Errorf("%w: encode payload: %v", ErrPermanent, err)
		res.Transitions = append(res.Transitions, Transition{State: StatePermanentFailure})
		return res
	}

	logger := log.With().Str("rule_id", p.RuleID).Str("event_id", p.EventID.String()).Logger()

	stage := retry.Stage[int]{
		Name:   "webhook",
		Policy: retry.Policy{MaxAttempts: d.cfg.MaxAttempts, Backoff: d.cfg.Backoff},
		Attempt: func(ctx context.Context, n int) (int, error) {
			res.Transitions = append(res.Transitions, Transition{State: StateAttempting, Attempt: n})
			code, err := d.attempt(ctx, target, body, p, n)
			res.StatusCode = code
			if err != nil && errors.Is(err, ErrTransient) && n < d.cfg.MaxAttempts {
				res.Transitions = append(res.Transitions, Transition{State: StateRetryScheduled, Attempt: n + 1})
				logger.Warn().Err(err).Int("attempt", n).Msg("webhook attempt failed, retrying")
			}
			return code, err
		},
	}

	out, err := retry.Run(ctx, []retry.Stage[int]{stage}, d.retryOpts...)
	res.Attempts = out.Attempts
	if err != nil {
		res.State = StatePermanentFailure
		res.Err = err
		res.Transitions = append(res.Transitions, Transition{State: StatePermanentFailure, Attempt: out.Attempts})
		logger.Error().Err(err).Int("attempts", out.Attempts).Str("url", target.URL).Msg("webhook delivery failed")
		return res
	}

	res.State = StateSuccess
	res.Transitions = append(res.Transitions, Transition{State: StateSuccess, Attempt: out.Attempts})
	logger.Debug().Int("attempts", out.Attempts).Int("status", out.Value).Msg("webhook delivered")
	return res
}

func (d *Deliverer) attempt(ctx context.Context, target data.WebhookTarget, body []byte, p Payload, n int) (int, error) {
	method := strings.ToUpper(target.Method)
	if method == "" {
		method = http.MethodPost
	}

	actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	rec := &data.DeliveryAttempt{
		RuleID:     p.RuleID,
		EventID:    p.EventID,
		ActionType: data.ActionWebhook,
		Attempt:    n,
	}

	req, err := http.NewRequestWithContext(actx, method, target.URL, bytes.NewReader(body))
	if err != nil {
		rec.Outcome = data.OutcomeFailure
		rec.Error = err.Error()
		d.record(ctx, rec)
		return 0, retry.Permanent(fmt.Errorf("%w: %v", ErrPermanent, err))
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	rec.Latency = time.Since(start)

	if err != nil {
		rec.Outcome = data.OutcomeFailure
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			rec.Outcome = data.OutcomeTimeout
		}
		rec.Error = err.Error()
		d.record(ctx, rec)
		return 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	rec.ResponseCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		rec.Outcome = data.OutcomeSuccess
		d.record(ctx, rec)
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		rec.Outcome = data.OutcomeFailure
		rec.Error = resp.Status
		d.record(ctx, rec)
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		rec.Outcome = data.OutcomeFailure
		rec.Error = resp.Status
		d.record(ctx, rec)
		return resp.StatusCode, retry.Permanent(fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode))
	}
}

func (d *Deliverer) record(ctx context.Context, a *data.DeliveryAttempt) {
	metrics.RecordDelivery(string(a.ActionType), string(a.Outcome), float64(a.Latency.Milliseconds()))
	if d.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.recorder.RecordAttempt(rctx, a); err != nil {
		log.Warn().Err(err).Str("rule_id", a.RuleID).Str("event_id", a.EventID.String()).Msg("failed to record delivery attempt")
	}
}

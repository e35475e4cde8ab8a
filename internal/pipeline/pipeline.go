// Package pipeline wires the stages that turn a trigger into a described,
// persisted and evaluated event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/debounce"
	"github.com/technosupport/ts-events/internal/describe"
	"github.com/technosupport/ts-events/internal/metrics"
	"github.com/technosupport/ts-events/internal/realtime"
	"github.com/technosupport/ts-events/internal/rules"
)

var (
	ErrEventCommit       = errors.New("event commit failed")
	ErrTriggerSuppressed = errors.New("trigger suppressed by debounce")
	ErrTriggerCancelled  = errors.New("trigger cancelled")
	ErrCameraDisabled    = errors.New("camera disabled")
	ErrUnknownCamera     = errors.New("unknown camera")
	ErrQueueFull         = errors.New("trigger queue full")
	ErrStopped           = errors.New("pipeline stopped")
)

type EventStore interface {
	Commit(ctx context.Context, e *data.Event) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*data.Event, error)
	UpdateDescription(ctx context.Context, e *data.Event) error
	LinkEntity(ctx context.Context, id, entityID uuid.UUID) error
}

type Admitter interface {
	Accept(t data.Trigger) debounce.Decision
}

type Describer interface {
	Describe(ctx context.Context, cam data.CameraSource, t data.Trigger) (*describe.Description, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, e *data.Event) []rules.RuleMatch
}

type Dispatcher interface {
	Dispatch(m rules.RuleMatch)
}

// EntityLinker associates a committed event with a known entity (a face or a
// plate). ok is false when nothing matched.
type EntityLinker interface {
	Link(ctx context.Context, e *data.Event) (entityID uuid.UUID, ok bool, err error)
}

type CameraDirectory interface {
	Camera(id string) (data.CameraSource, bool)
	SetEnabled(id string, enabled bool) bool
}

type Config struct {
	Workers            int    `yaml:"workers"`
	QueueSize          int    `yaml:"queue_size"`
	PublicURL          string `yaml:"public_url"`
	ThumbnailCacheSize int    `yaml:"thumbnail_cache_size"`
}

type Deps struct {
	Cameras    CameraDirectory
	Debouncer  Admitter
	Describer  Describer
	Store      EventStore
	Evaluator  Evaluator
	Dispatcher Dispatcher
	Publisher  realtime.Publisher
	Linker     EntityLinker
}

type Pipeline struct {
	cfg Config
	Deps

	thumbs   *ThumbnailCache
	inflight *inflight

	queue   chan data.Trigger
	quit    chan struct{}
	wg      sync.WaitGroup
	bgwg    sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if deps.Publisher == nil {
		deps.Publisher = realtime.Discard{}
	}
	return &Pipeline{
		cfg:      cfg,
		Deps:     deps,
		thumbs:   NewThumbnailCache(cfg.ThumbnailCacheSize),
		inflight: newInflight(),
		queue:    make(chan data.Trigger, cfg.QueueSize),
		quit:     make(chan struct{}),
	}
}

func (p *Pipeline) Thumbnails() *ThumbnailCache { return p.thumbs }

// Process runs one trigger through debounce, description, commit, rule
// evaluation and dispatch. The returned event is committed; any error means
// nothing was persisted.
func (p *Pipeline) Process(ctx context.Context, t data.Trigger) (*data.Event, error) {
	cam, ok := p.Cameras.Camera(t.CameraID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, t.CameraID)
	}
	if !cam.Enabled {
		metrics.RecordTriggerDrop("camera_disabled")
		return nil, fmt.Errorf("%w: %s", ErrCameraDisabled, t.CameraID)
	}
	if t.Kind == "" {
		t.Kind = data.TriggerMotion
	}
	if p.Debouncer.Accept(t) == debounce.Suppress {
		return nil, ErrTriggerSuppressed
	}

	ctx, done := p.inflight.track(ctx, t.CameraID)
	defer done()

	// A disable that landed before track registered this trigger could not
	// cancel it.
	if cur, ok := p.Cameras.Camera(t.CameraID); !ok || !cur.Enabled {
		metrics.RecordTriggerDrop("camera_disabled")
		return nil, fmt.Errorf("%w: %s", ErrCameraDisabled, t.CameraID)
	}

	logger := log.With().Str("camera_id", t.CameraID).Str("kind", string(t.Kind)).Logger()

	desc, err := p.Describer.Describe(ctx, cam, t)
	if err != nil {
		if ctx.Err() != nil {
			metrics.RecordTriggerDrop("cancelled")
			logger.Info().Msg("trigger cancelled before commit")
			return nil, fmt.Errorf("%w: %w", ErrTriggerCancelled, ctx.Err())
		}
		logger.Error().Err(err).Msg("description failed, trigger dropped")
		return nil, err
	}

	e, err := p.newEvent(cam, t, desc)
	if err != nil {
		return nil, err
	}

	// Last point at which a disabled camera can still drop the trigger.
	if err := ctx.Err(); err != nil {
		metrics.RecordTriggerDrop("cancelled")
		return nil, fmt.Errorf("%w: %w", ErrTriggerCancelled, err)
	}

	if _, err := p.Store.Commit(context.WithoutCancel(ctx), e); err != nil {
		metrics.EventCommitFailuresTotal.Inc()
		logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("event commit failed")
		return nil, fmt.Errorf("%w: %w", ErrEventCommit, err)
	}
	metrics.RecordCommit(e.Provider, e.IsManual)
	if len(desc.Thumbnail) > 0 {
		p.thumbs.Add(e.ID, desc.Thumbnail)
	}

	logger.Info().
		Str("event_id", e.ID.String()).
		Str("provider", e.Provider).
		Int("confidence", e.Confidence).
		Int("attempts", desc.Attempts).
		Msg("event committed")

	// Everything after commit runs detached from the trigger's context:
	// committed events are never retracted.
	post := context.WithoutCancel(ctx)
	p.publish(post, realtime.TypeEventCreated, e)
	p.evaluateAndDispatch(post, e)
	p.linkEntity(post, e)
	return e, nil
}

// AnalyzeNow describes the supplied frames immediately, bypassing debounce.
func (p *Pipeline) AnalyzeNow(ctx context.Context, cameraID string, frames []data.Frame) (*data.Event, error) {
	at := time.Now()
	var latest time.Time
	for _, f := range frames {
		if f.CapturedAt.After(latest) {
			latest = f.CapturedAt
		}
	}
	if !latest.IsZero() {
		at = latest
	}
	return p.Process(ctx, data.Trigger{
		CameraID:   cameraID,
		CapturedAt: at,
		Frames:     frames,
		Kind:       data.TriggerManual,
	})
}

func (p *Pipeline) newEvent(cam data.CameraSource, t data.Trigger, desc *describe.Description) (*data.Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	ts := t.CapturedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	name := cam.Name
	if name == "" {
		name = cam.ID
	}
	e := &data.Event{
		ID:          id,
		CameraID:    cam.ID,
		CameraName:  name,
		Timestamp:   ts.UTC(),
		Description: desc.Text,
		Confidence:  desc.Confidence,
		Detections:  desc.Detections,
		Provider:    desc.Provider,
		IsManual:    t.IsManual(),
	}
	if len(desc.Thumbnail) > 0 {
		e.ThumbnailURL = p.thumbnailURL(id)
	}
	return e, nil
}

func (p *Pipeline) thumbnailURL(id uuid.UUID) string {
	return strings.TrimRight(p.cfg.PublicURL, "/") + "/api/v1/events/" + id.String() + "/thumbnail"
}

func (p *Pipeline) evaluateAndDispatch(ctx context.Context, e *data.Event) []rules.RuleMatch {
	if p.Evaluator == nil {
		return nil
	}
	matches := p.Evaluator.Evaluate(ctx, e)
	for _, m := range matches {
		if m.Repeat {
			log.Debug().Str("rule_id", m.Rule.ID).Str("event_id", e.ID.String()).Msg("repeat match not dispatched")
			continue
		}
		if p.Dispatcher != nil {
			p.Dispatcher.Dispatch(m)
		}
	}
	return matches
}

func (p *Pipeline) publish(ctx context.Context, t realtime.MessageType, payload any) {
	if err := p.Publisher.Publish(ctx, realtime.NewMessage(t, payload)); err != nil {
		log.Warn().Err(err).Str("type", string(t)).Msg("realtime publish failed")
	}
}

// linkEntity runs the entity hook in the background. Failures leave the event
// unlinked.
func (p *Pipeline) linkEntity(ctx context.Context, e *data.Event) {
	if p.Linker == nil {
		return
	}
	snapshot := *e
	p.bgwg.Add(1)
	go func() {
		defer p.bgwg.Done()
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		entityID, ok, err := p.Linker.Link(ctx, &snapshot)
		if err != nil {
			log.Warn().Err(err).Str("event_id", snapshot.ID.String()).Msg("entity linking failed")
			return
		}
		if !ok {
			return
		}
		if err := p.Store.LinkEntity(ctx, snapshot.ID, entityID); err != nil {
			log.Warn().Err(err).Str("event_id", snapshot.ID.String()).Msg("failed to store entity link")
		}
	}()
}

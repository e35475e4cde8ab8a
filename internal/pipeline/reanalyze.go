package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/describe"
	"github.com/technosupport/ts-events/internal/realtime"
	"github.com/technosupport/ts-events/internal/rules"
)

// Reanalyze describes an existing event again and replaces its description,
// confidence, detections and provider. The id is kept. Without frames the
// cached thumbnail is used. Rules are re-evaluated; matches already produced
// for this event are not dispatched again.
func (p *Pipeline) Reanalyze(ctx context.Context, id uuid.UUID, frames []data.Frame) (*data.Event, []rules.RuleMatch, error) {
	e, err := p.Store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if len(frames) == 0 {
		thumb, ok := p.thumbs.Get(id)
		if !ok {
			return nil, nil, fmt.Errorf("%w: no frames supplied and no cached thumbnail", describe.ErrCaptureFailure)
		}
		frames = []data.Frame{{Data: thumb, CapturedAt: e.Timestamp}}
	}

	cam, ok := p.Cameras.Camera(e.CameraID)
	if !ok {
		cam = data.CameraSource{ID: e.CameraID, Name: e.CameraName, Enabled: true, AnalysisMode: data.AnalysisSingleFrame}
	}

	ctx, done := p.inflight.track(ctx, e.CameraID)
	defer done()

	t := data.Trigger{CameraID: e.CameraID, CapturedAt: e.Timestamp, Frames: frames, Kind: data.TriggerManual}
	desc, err := p.Describer.Describe(ctx, cam, t)
	if err != nil {
		return nil, nil, err
	}

	e.Description = desc.Text
	e.Confidence = desc.Confidence
	e.Detections = desc.Detections
	e.Provider = desc.Provider
	if err := p.Store.UpdateDescription(context.WithoutCancel(ctx), e); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrEventCommit, err)
	}
	if len(desc.Thumbnail) > 0 {
		p.thumbs.Add(e.ID, desc.Thumbnail)
	}

	log.Info().Str("event_id", e.ID.String()).Str("provider", e.Provider).Msg("event re-analyzed")

	post := context.WithoutCancel(ctx)
	p.publish(post, realtime.TypeEventUpdated, e)
	matches := p.evaluateAndDispatch(post, e)
	return e, matches, nil
}

package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/realtime"
)

// inflight holds the cancel functions of triggers being processed, per camera.
type inflight struct {
	mu      sync.Mutex
	next    uint64
	cancels map[string]map[uint64]context.CancelFunc
}

func newInflight() *inflight {
	return &inflight{cancels: make(map[string]map[uint64]context.CancelFunc)}
}

func (f *inflight) track(ctx context.Context, cameraID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.next++
	id := f.next
	m, ok := f.cancels[cameraID]
	if !ok {
		m = make(map[uint64]context.CancelFunc)
		f.cancels[cameraID] = m
	}
	m[id] = cancel
	f.mu.Unlock()

	return ctx, func() {
		f.mu.Lock()
		delete(f.cancels[cameraID], id)
		if len(f.cancels[cameraID]) == 0 {
			delete(f.cancels, cameraID)
		}
		f.mu.Unlock()
		cancel()
	}
}

func (f *inflight) cancelCamera(cameraID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.cancels[cameraID])
	for _, cancel := range f.cancels[cameraID] {
		cancel()
	}
	return n
}

func (f *inflight) cancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.cancels {
		for _, cancel := range m {
			cancel()
		}
	}
}

func (f *inflight) count(cameraID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels[cameraID])
}

func (f *inflight) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.cancels {
		n += len(m)
	}
	return n
}

// Inflight returns the number of triggers currently being processed.
func (p *Pipeline) Inflight() int { return p.inflight.total() }

// DisableCamera stops new triggers for the camera and cancels those in flight.
// Events already committed are kept.
func (p *Pipeline) DisableCamera(ctx context.Context, cameraID string) error {
	if !p.Cameras.SetEnabled(cameraID, false) {
		return ErrUnknownCamera
	}
	n := p.inflight.cancelCamera(cameraID)
	log.Info().Str("camera_id", cameraID).Int("cancelled", n).Msg("camera disabled")
	p.publish(ctx, realtime.TypeCameraStatus, realtime.CameraStatus{CameraID: cameraID, Enabled: false})
	return nil
}

func (p *Pipeline) EnableCamera(ctx context.Context, cameraID string) error {
	if !p.Cameras.SetEnabled(cameraID, true) {
		return ErrUnknownCamera
	}
	log.Info().Str("camera_id", cameraID).Msg("camera enabled")
	p.publish(ctx, realtime.TypeCameraStatus, realtime.CameraStatus{CameraID: cameraID, Enabled: true})
	return nil
}

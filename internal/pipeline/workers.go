package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
)

// Submit queues a trigger for the worker pool without blocking. A full queue
// drops the trigger.
func (p *Pipeline) Submit(t data.Trigger) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- t:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.RecordTriggerDrop("queue_full")
		log.Warn().Str("camera_id", t.CameraID).Msg("trigger queue full, dropping trigger")
		return ErrQueueFull
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop refuses new triggers, lets workers drain the queue and waits for them
// and for background hooks. When ctx ends first, in-flight triggers are
// cancelled.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.bgwg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(p.quit)
		p.inflight.cancelAll()
		<-done
		return ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for t := range p.queue {
		metrics.QueueDepth.Set(float64(len(p.queue)))
		if ctx.Err() != nil {
			metrics.RecordTriggerDrop("shutdown")
			continue
		}
		if _, err := p.Process(ctx, t); err != nil && !errors.Is(err, ErrTriggerSuppressed) {
			log.Debug().Err(err).Str("camera_id", t.CameraID).Msg("trigger not processed")
		}
	}
}

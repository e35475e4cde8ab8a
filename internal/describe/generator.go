// Package describe turns trigger frames into a natural-language description
// using one or more vision-language providers.
package describe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
	"github.com/technosupport/ts-events/internal/retry"
)

const (
	DefaultProviderTimeout  = 30 * time.Second
	DefaultProviderAttempts = 2
	DefaultProviderBackoff  = 250 * time.Millisecond
)

// ProviderConfig is one entry in the fallback chain.
type ProviderConfig struct {
	Provider Provider
	Timeout  time.Duration
	Attempts int
	Backoff  retry.Backoff
	Quota    Quota
}

// Generator tries providers in priority order until one returns a
// well-formed description.
type Generator struct {
	providers []ProviderConfig
	pre       Preprocessor
	usage     UsageTracker
	retryOpts []retry.Option
}

func NewGenerator(pre Preprocessor, usage UsageTracker, providers ...ProviderConfig) *Generator {
	for i := range providers {
		p := &providers[i]
		if p.Timeout <= 0 {
			p.Timeout = DefaultProviderTimeout
		}
		if p.Attempts <= 0 {
			p.Attempts = DefaultProviderAttempts
		}
		if p.Backoff.Initial <= 0 {
			p.Backoff = retry.Backoff{Initial: DefaultProviderBackoff, Multiplier: 2, Max: 2 * time.Second}
		}
	}
	if usage == nil {
		usage = NewMemoryUsage()
	}
	return &Generator{providers: providers, pre: pre, usage: usage}
}

// Providers returns the configured provider names in priority order.
func (g *Generator) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Provider.Name()
	}
	return names
}

// Describe pre-processes the trigger's frames and walks the provider chain.
// It never synthesises a placeholder: when every provider fails the error
// wraps ErrAllProvidersExhausted.
func (g *Generator) Describe(ctx context.Context, cam data.CameraSource, t data.Trigger) (*Description, error) {
	if len(g.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrAllProvidersExhausted)
	}

	images, thumb, err := g.pre.Prepare(t.Frames, cam.AnalysisMode)
	if err != nil {
		return nil, err
	}
	req := Request{Prompt: BuildPrompt(cam.Name, t, len(images)), Images: images}

	stages := make([]retry.Stage[*Description], 0, len(g.providers))
	for _, pc := range g.providers {
		stages = append(stages, g.stage(pc, req, t.CameraID))
	}

	res, err := retry.Run(ctx, stages, g.retryOpts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.DescriptionFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersExhausted, err)
	}

	d := res.Value
	d.Attempts = res.Attempts
	d.Thumbnail = thumb.Data
	return d, nil
}

func (g *Generator) stage(pc ProviderConfig, req Request, cameraID string) retry.Stage[*Description] {
	name := pc.Provider.Name()
	return retry.Stage[*Description]{
		Name:   name,
		Policy: retry.Policy{MaxAttempts: pc.Attempts, Backoff: pc.Backoff},
		Ready: func(ctx context.Context) error {
			err := g.usage.Ready(ctx, name, pc.Quota)
			if err != nil {
				log.Info().Str("provider", name).Str("camera_id", cameraID).Msg("provider skipped, quota reserve reached")
			}
			return err
		},
		Attempt: func(ctx context.Context, attempt int) (*Description, error) {
			actx, cancel := context.WithTimeout(ctx, pc.Timeout)
			defer cancel()

			g.usage.Record(ctx, name, pc.Quota)
			start := time.Now()
			text, err := pc.Provider.Complete(actx, req)
			latency := time.Since(start)

			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if errors.Is(actx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
					metrics.RecordDescriptionAttempt(name, "timeout", float64(latency.Milliseconds()))
					log.Warn().Str("provider", name).Str("camera_id", cameraID).Int("attempt", attempt).
						Dur("timeout", pc.Timeout).Msg("provider attempt timed out")
					return nil, fmt.Errorf("%s: %w", name, ErrDescriptionTimeout)
				}

				metrics.RecordDescriptionAttempt(name, "error", float64(latency.Milliseconds()))
				log.Warn().Err(err).Str("provider", name).Str("camera_id", cameraID).Int("attempt", attempt).
					Msg("provider attempt failed")
				var pe *ProviderError
				if errors.As(err, &pe) && !pe.Transient {
					return nil, retry.Permanent(err)
				}
				return nil, err
			}

			d, err := ParseResponse(text)
			if err != nil {
				metrics.RecordDescriptionAttempt(name, "malformed", float64(latency.Milliseconds()))
				log.Warn().Err(err).Str("provider", name).Str("camera_id", cameraID).Int("attempt", attempt).
					Msg("provider returned malformed description")
				return nil, retry.Permanent(&ProviderError{Provider: name, Err: err})
			}

			metrics.RecordDescriptionAttempt(name, "success", float64(latency.Milliseconds()))
			d.Provider = name
			d.Latency = latency
			return d, nil
		},
	}
}

package rules

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
)

// RuleMatch is one rule that fired for one event. Repeat marks a match that
// was already produced by an earlier evaluation of the same event.
type RuleMatch struct {
	Rule      *Rule
	Event     *data.Event
	MatchedAt time.Time
	Repeat    bool
}

// TriggerRecorder persists "last triggered" bookkeeping.
type TriggerRecorder interface {
	MarkTriggered(ctx context.Context, ruleID string, at time.Time) error
}

type Evaluator struct {
	source   Source
	tracker  Tracker
	recorder TriggerRecorder
	now      func() time.Time
}

func NewEvaluator(source Source, tracker Tracker, recorder TriggerRecorder) *Evaluator {
	if tracker == nil {
		tracker = NewMemoryTracker(0)
	}
	return &Evaluator{source: source, tracker: tracker, recorder: recorder, now: time.Now}
}

func (ev *Evaluator) Evaluate(ctx context.Context, e *data.Event) []RuleMatch {
	return ev.EvaluateAt(ctx, e, ev.now())
}

// EvaluateAt evaluates e against every enabled rule in creation order, using
// now as the cooldown clock.
func (ev *Evaluator) EvaluateAt(ctx context.Context, e *data.Event, now time.Time) []RuleMatch {
	rules, err := ev.source.Rules(ctx)
	if err != nil {
		log.Error().Err(err).Str("event_id", e.ID.String()).Msg("failed to load rules")
		return nil
	}

	var matches []RuleMatch
	for _, r := range rules {
		ok, err := conditionsHold(r, e)
		if err != nil {
			metrics.RecordRuleResult("error")
			log.Warn().Err(err).Str("rule_id", r.ID).Str("event_id", e.ID.String()).Msg("rule skipped")
			continue
		}
		if !ok {
			continue
		}

		if seeder, ok := ev.tracker.(Seeder); ok && r.LastTriggeredAt != nil {
			seeder.Seed(r.ID, *r.LastTriggeredAt)
		}
		acq, err := ev.tracker.Acquire(ctx, r.ID, e.ID, r.Cooldown(), now)
		if err != nil {
			metrics.RecordRuleResult("error")
			log.Warn().Err(&RuleEvaluationError{RuleID: r.ID, Err: err}).Str("event_id", e.ID.String()).Msg("rule skipped")
			continue
		}
		metrics.RecordRuleResult(acq.String())

		switch acq {
		case Cooling:
			log.Debug().Str("rule_id", r.ID).Str("event_id", e.ID.String()).Msg("rule in cooldown")
		case Repeat:
			matches = append(matches, RuleMatch{Rule: r, Event: e, MatchedAt: now, Repeat: true})
		case Acquired:
			matches = append(matches, RuleMatch{Rule: r, Event: e, MatchedAt: now})
			ev.markTriggered(r.ID, now)
		}
	}
	return matches
}

// DryRun reports which rules' conditions hold for e without touching cooldowns.
func (ev *Evaluator) DryRun(ctx context.Context, e *data.Event) ([]RuleMatch, error) {
	rules, err := ev.source.Rules(ctx)
	if err != nil {
		return nil, err
	}
	now := ev.now()
	var matches []RuleMatch
	for _, r := range rules {
		if ok, err := conditionsHold(r, e); err == nil && ok {
			matches = append(matches, RuleMatch{Rule: r, Event: e, MatchedAt: now})
		}
	}
	return matches, nil
}

func conditionsHold(r *Rule, e *data.Event) (bool, error) {
	if !r.Enabled {
		return false, nil
	}
	if r.Err != nil {
		return false, r.Err
	}
	ok, err := r.Root.Eval(e)
	if err != nil {
		var re *RuleEvaluationError
		if errors.As(err, &re) {
			return false, err
		}
		return false, &RuleEvaluationError{RuleID: r.ID, Err: err}
	}
	return ok, nil
}

func (ev *Evaluator) markTriggered(ruleID string, at time.Time) {
	if ev.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ev.recorder.MarkTriggered(ctx, ruleID, at); err != nil {
			log.Warn().Err(err).Str("rule_id", ruleID).Msg("failed to record rule trigger")
		}
	}()
}

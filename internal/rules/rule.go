package rules

import (
	"fmt"
	"sort"

	"github.com/technosupport/ts-events/internal/data"
)

// RuleEvaluationError is a rule that could not be compiled or evaluated. Only
// that rule is skipped.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// Rule is an AlertRule with its compiled condition. Err is set when the
// stored rule could not be decoded or its condition failed to compile.
type Rule struct {
	data.AlertRule
	Root Node
	Err  error
}

func NewRule(r data.AlertRule) *Rule {
	if r.DecodeErr != nil {
		return &Rule{AlertRule: r, Err: &RuleEvaluationError{RuleID: r.ID, Err: r.DecodeErr}}
	}
	root, err := Compile(r.Conditions)
	if err == nil {
		err = validateActions(r.Actions)
	}
	if err != nil {
		return &Rule{AlertRule: r, Err: &RuleEvaluationError{RuleID: r.ID, Err: err}}
	}
	return &Rule{AlertRule: r, Root: root}
}

func validateActions(actions []data.Action) error {
	for i, a := range actions {
		switch a.Type {
		case data.ActionDashboard, data.ActionPush:
		case data.ActionWebhook:
			if a.Webhook == nil || a.Webhook.URL == "" {
				return fmt.Errorf("action %d: webhook requires a url", i)
			}
		default:
			return fmt.Errorf("action %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}

// CompileAll compiles rules and orders them by creation.
func CompileAll(rules []data.AlertRule) []*Rule {
	out := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, NewRule(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

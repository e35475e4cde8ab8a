package rules

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/data"
	"gopkg.in/yaml.v3"
)

// Source supplies compiled rules in creation order.
type Source interface {
	Rules(ctx context.Context) ([]*Rule, error)
}

// StaticSource is a fixed rule set.
type StaticSource []*Rule

func NewStaticSource(rules ...data.AlertRule) StaticSource {
	return StaticSource(CompileAll(rules))
}

func (s StaticSource) Rules(context.Context) ([]*Rule, error) { return s, nil }

// RuleLister is satisfied by data.RuleModel.
type RuleLister interface {
	ListRules(ctx context.Context) ([]data.AlertRule, error)
}

// DBSource caches rules from the database for ttl. A failed refresh keeps
// serving the previous set.
type DBSource struct {
	lister RuleLister
	ttl    time.Duration

	mu       sync.Mutex
	rules    []*Rule
	loadedAt time.Time
}

func NewDBSource(lister RuleLister, ttl time.Duration) *DBSource {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DBSource{lister: lister, ttl: ttl}
}

func (s *DBSource) Rules(ctx context.Context) ([]*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rules != nil && time.Since(s.loadedAt) < s.ttl {
		return s.rules, nil
	}

	raw, err := s.lister.ListRules(ctx)
	if err != nil {
		if s.rules != nil {
			log.Warn().Err(err).Msg("rule refresh failed, serving cached rules")
			return s.rules, nil
		}
		return nil, err
	}
	s.rules = CompileAll(raw)
	s.loadedAt = time.Now()
	return s.rules, nil
}

// Invalidate forces the next call to reload.
func (s *DBSource) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

type fileRule struct {
	data.AlertRule `yaml:",inline"`
	Enabled        *bool `yaml:"enabled"`
}

type rulesFile struct {
	Rules []fileRule `yaml:"rules"`
}

// LoadFile reads a YAML rules file. Rules are enabled unless they say
// otherwise, and rules without created_at keep their file order.
func LoadFile(path string) ([]data.AlertRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Rules))
	base := time.Unix(0, 0).UTC()
	rules := make([]data.AlertRule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		r := fr.AlertRule
		r.Enabled = fr.Enabled == nil || *fr.Enabled
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if r.CreatedAt.IsZero() {
			r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

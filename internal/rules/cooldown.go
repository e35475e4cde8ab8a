package rules

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

type Acquisition int

const (
	// Acquired: the event matched and now holds the rule's cooldown.
	Acquired Acquisition = iota
	// Cooling: another event matched within the cooldown.
	Cooling
	// Repeat: this event already matched the rule earlier.
	Repeat
)

func (a Acquisition) String() string {
	switch a {
	case Acquired:
		return "acquired"
	case Cooling:
		return "cooldown"
	default:
		return "repeat"
	}
}

// Tracker performs the per-rule cooldown check-and-set. Acquire must be
// atomic per rule: of several events racing within one cooldown exactly one
// is Acquired. An event keeps its first outcome, so re-evaluating it never
// yields a fresh Acquired.
type Tracker interface {
	Acquire(ctx context.Context, ruleID string, eventID uuid.UUID, cooldown time.Duration, now time.Time) (Acquisition, error)
}

// Seeder is implemented by trackers whose state does not survive a restart.
type Seeder interface {
	Seed(ruleID string, at time.Time)
}

const trackerShards = 32

type holder struct {
	eventID uuid.UUID
	at      time.Time
}

type trackerShard struct {
	mu      sync.Mutex
	holders map[string]holder
	// seen holds the first outcome per rule and event.
	seen *lru.Cache[string, Acquisition]
}

// MemoryTracker is a single-process Tracker over sharded maps.
type MemoryTracker struct {
	shards [trackerShards]*trackerShard
}

func NewMemoryTracker(seenPerShard int) *MemoryTracker {
	if seenPerShard <= 0 {
		seenPerShard = 4096
	}
	t := &MemoryTracker{}
	for i := range t.shards {
		seen, _ := lru.New[string, Acquisition](seenPerShard)
		t.shards[i] = &trackerShard{holders: make(map[string]holder), seen: seen}
	}
	return t
}

func (t *MemoryTracker) shard(ruleID string) *trackerShard {
	h := fnv.New32a()
	h.Write([]byte(ruleID))
	return t.shards[h.Sum32()%trackerShards]
}

// Seed restores a rule's last match time, e.g. from the database after a
// restart. It never moves the holder backwards.
func (t *MemoryTracker) Seed(ruleID string, at time.Time) {
	s := t.shard(ruleID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.holders[ruleID]; ok && !h.at.Before(at) {
		return
	}
	s.holders[ruleID] = holder{at: at}
}

func (t *MemoryTracker) Acquire(_ context.Context, ruleID string, eventID uuid.UUID, cooldown time.Duration, now time.Time) (Acquisition, error) {
	s := t.shard(ruleID)
	key := ruleID + "|" + eventID.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.seen.Get(key); ok {
		if prev == Acquired {
			return Repeat, nil
		}
		return Cooling, nil
	}
	if h, ok := s.holders[ruleID]; ok && cooldown > 0 && now.Sub(h.at) < cooldown {
		s.seen.Add(key, Cooling)
		return Cooling, nil
	}
	s.holders[ruleID] = holder{eventID: eventID, at: now}
	s.seen.Add(key, Acquired)
	return Acquired, nil
}

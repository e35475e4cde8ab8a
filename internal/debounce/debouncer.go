// Package debounce decides which triggers are worth describing.
package debounce

import (
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/metrics"
)

type Decision int

const (
	Admit Decision = iota
	Suppress
)

func (d Decision) String() string {
	if d == Admit {
		return "admit"
	}
	return "suppress"
}

const shardCount = 32

// CooldownSource resolves the debounce window of a camera.
type CooldownSource interface {
	CooldownFor(cameraID string) time.Duration
}

type shard struct {
	mu   sync.Mutex
	last *lru.Cache[string, time.Time]
}

// Debouncer keeps the last admitted capture time per camera. Cameras hash to
// one of a fixed set of shards, each with its own lock and bounded LRU; an
// evicted camera is treated as never seen.
type Debouncer struct {
	shards   [shardCount]*shard
	cooldown CooldownSource
	now      func() time.Time
}

func New(cooldown CooldownSource, maxCameras int) *Debouncer {
	perShard := maxCameras / shardCount
	if perShard < 16 {
		perShard = 16
	}
	d := &Debouncer{cooldown: cooldown, now: time.Now}
	for i := range d.shards {
		c, _ := lru.New[string, time.Time](perShard)
		d.shards[i] = &shard{last: c}
	}
	return d
}

func (d *Debouncer) shardFor(cameraID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(cameraID))
	return d.shards[h.Sum32()%shardCount]
}

// Accept admits a trigger when its camera's cooldown has elapsed since the
// last admission. The trigger's capture time is the clock; triggers without
// one, or with one ahead of the wall clock, use the wall clock. Manual triggers are always admitted and leave the
// camera state untouched.
func (d *Debouncer) Accept(t data.Trigger) Decision {
	if t.IsManual() {
		metrics.RecordTrigger(string(t.Kind), true)
		return Admit
	}

	at := t.CapturedAt
	if now := d.now(); at.IsZero() || at.After(now) {
		at = now
	}
	window := d.cooldown.CooldownFor(t.CameraID)

	s := d.shardFor(t.CameraID)
	s.mu.Lock()
	last, seen := s.last.Get(t.CameraID)
	if seen && at.Sub(last) < window {
		s.mu.Unlock()
		metrics.RecordTrigger(string(t.Kind), false)
		return Suppress
	}
	s.last.Add(t.CameraID, at)
	s.mu.Unlock()

	metrics.RecordTrigger(string(t.Kind), true)
	return Admit
}

// LastAdmitted reports the capture time of the camera's last admitted trigger.
func (d *Debouncer) LastAdmitted(cameraID string) (time.Time, bool) {
	s := d.shardFor(cameraID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Peek(cameraID)
}

// Reset forgets a camera so its next trigger is admitted.
func (d *Debouncer) Reset(cameraID string) {
	s := d.shardFor(cameraID)
	s.mu.Lock()
	s.last.Remove(cameraID)
	s.mu.Unlock()
}

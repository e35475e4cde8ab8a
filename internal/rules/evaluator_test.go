package rules

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-events/internal/data"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) MarkTriggered(ctx context.Context, ruleID string, at time.Time) error {
	args := m.Called(ctx, ruleID, at)
	return args.Error(0)
}

func packageRule() data.AlertRule {
	return data.AlertRule{
		ID:              "package-at-door",
		Name:            "Package at front door",
		Enabled:         true,
		Conditions:      data.ConditionSpec{ObjectTypes: []string{"package"}, Cameras: []string{"front-door"}},
		Actions:         []data.Action{{Type: data.ActionDashboard}},
		CooldownSeconds: 300,
		CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newEvent(types ...string) *data.Event {
	e := testEvent("front-door", 90, types...)
	e.ID = uuid.Must(uuid.NewV7())
	return e
}

func TestEvaluate_MatchAndCooldown(t *testing.T) {
	ev := NewEvaluator(NewStaticSource(packageRule()), NewMemoryTracker(0), nil)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	m := ev.EvaluateAt(context.Background(), newEvent("person", "package"), now)
	require.Len(t, m, 1)
	assert.Equal(t, "package-at-door", m[0].Rule.ID)
	assert.False(t, m[0].Repeat)

	assert.Empty(t, ev.EvaluateAt(context.Background(), newEvent("package"), now.Add(4*time.Minute)))
	assert.Len(t, ev.EvaluateAt(context.Background(), newEvent("package"), now.Add(5*time.Minute)), 1)
	assert.Empty(t, ev.EvaluateAt(context.Background(), newEvent("person"), now.Add(20*time.Minute)))
}

func TestEvaluate_CreationOrder(t *testing.T) {
	early := packageRule()
	early.ID = "b-early"
	early.CooldownSeconds = 0
	late := packageRule()
	late.ID = "a-late"
	late.CooldownSeconds = 0
	late.CreatedAt = early.CreatedAt.Add(time.Hour)

	ev := NewEvaluator(NewStaticSource(late, early), nil, nil)
	m := ev.Evaluate(context.Background(), newEvent("package"))
	require.Len(t, m, 2)
	assert.Equal(t, "b-early", m[0].Rule.ID)
	assert.Equal(t, "a-late", m[1].Rule.ID)
}

func TestEvaluate_SkipsDisabledAndBrokenRules(t *testing.T) {
	disabled := packageRule()
	disabled.ID = "disabled"
	disabled.Enabled = false

	broken := packageRule()
	broken.ID = "broken"
	broken.Conditions.ConfidenceMin = intp(500)

	good := packageRule()
	good.ID = "good"

	ev := NewEvaluator(NewStaticSource(disabled, broken, good), nil, nil)
	m := ev.Evaluate(context.Background(), newEvent("package"))
	require.Len(t, m, 1)
	assert.Equal(t, "good", m[0].Rule.ID)

	var re *RuleEvaluationError
	src := NewStaticSource(broken)
	assert.True(t, errors.As(src[0].Err, &re))
	assert.Equal(t, "broken", re.RuleID)
}

func TestEvaluate_Idempotent(t *testing.T) {
	rec := new(MockRecorder)
	done := make(chan struct{}, 1)
	rec.On("MarkTriggered", mock.Anything, "package-at-door", mock.Anything).
		Return(nil).Run(func(mock.Arguments) {
			select {
			case done <- struct{}{}:
			default:
			}
		})

	ev := NewEvaluator(NewStaticSource(packageRule()), NewMemoryTracker(0), rec)
	e := newEvent("package")
	now := time.Now()

	first := ev.EvaluateAt(context.Background(), e, now)
	require.Len(t, first, 1)
	assert.False(t, first[0].Repeat)

	again := ev.EvaluateAt(context.Background(), e, now.Add(10*time.Minute))
	require.Len(t, again, 1)
	assert.True(t, again[0].Repeat)

	// The repeat did not re-take the cooldown: a new event 6 minutes after the
	// first still matches.
	assert.Len(t, ev.EvaluateAt(context.Background(), newEvent("package"), now.Add(6*time.Minute)), 1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MarkTriggered not called")
	}
}

func TestEvaluate_ConcurrentEventsSingleMatch(t *testing.T) {
	ev := NewEvaluator(NewStaticSource(packageRule()), NewMemoryTracker(0), nil)
	now := time.Now()

	var matched atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := ev.EvaluateAt(context.Background(), newEvent("package"), now.Add(time.Duration(i)*time.Millisecond))
			matched.Add(int32(len(m)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), matched.Load())
}

func TestDryRun_LeavesCooldownUntouched(t *testing.T) {
	ev := NewEvaluator(NewStaticSource(packageRule()), NewMemoryTracker(0), nil)
	e := newEvent("package")

	m, err := ev.DryRun(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, m, 1)

	live := ev.Evaluate(context.Background(), e)
	require.Len(t, live, 1)
	assert.False(t, live[0].Repeat)
}

func TestEvaluate_CooledEventNeverFiresLater(t *testing.T) {
	ev := NewEvaluator(NewStaticSource(packageRule()), NewMemoryTracker(0), nil)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	require.Len(t, ev.EvaluateAt(context.Background(), newEvent("package"), now), 1)

	late := newEvent("package")
	assert.Empty(t, ev.EvaluateAt(context.Background(), late, now.Add(time.Minute)))
	assert.Empty(t, ev.EvaluateAt(context.Background(), late, now.Add(time.Hour)))
}

func TestEvaluate_CooldownSurvivesRestart(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	rule := packageRule()
	last := now.Add(-10 * time.Second)
	rule.LastTriggeredAt = &last

	ev := NewEvaluator(NewStaticSource(rule), NewMemoryTracker(0), nil)
	assert.Empty(t, ev.EvaluateAt(context.Background(), newEvent("package"), now))
	assert.Len(t, ev.EvaluateAt(context.Background(), newEvent("package"), last.Add(5*time.Minute)), 1)
}

func TestMemoryTracker_SeedNeverMovesBack(t *testing.T) {
	tr := NewMemoryTracker(0)
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	a, err := tr.Acquire(ctx, "r1", uuid.New(), time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, Acquired, a)

	tr.Seed("r1", now.Add(-time.Hour))
	a, err = tr.Acquire(ctx, "r1", uuid.New(), time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Cooling, a)
}

func setupRedisTracker(t *testing.T) (*RedisTracker, *miniredis.Miniredis) {
	mini := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisTracker(rdb, "test"), mini
}

func TestRedisTracker_Acquire(t *testing.T) {
	tr, _ := setupRedisTracker(t)
	ctx := context.Background()
	now := time.Now()
	first, second := uuid.New(), uuid.New()

	a, err := tr.Acquire(ctx, "r1", first, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, Acquired, a)

	a, err = tr.Acquire(ctx, "r1", second, time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Cooling, a)

	a, err = tr.Acquire(ctx, "r1", first, time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Repeat, a)

	// An event that was held back by the cooldown stays held back.
	a, err = tr.Acquire(ctx, "r1", second, time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Cooling, a)

	a, err = tr.Acquire(ctx, "r1", uuid.New(), time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Acquired, a)

	a, err = tr.Acquire(ctx, "r2", uuid.New(), 0, now)
	require.NoError(t, err)
	assert.Equal(t, Acquired, a)
}

func TestRedisTracker_ConcurrentSingleMatch(t *testing.T) {
	tr, _ := setupRedisTracker(t)
	ev := NewEvaluator(NewStaticSource(packageRule()), tr, nil)
	now := time.Now()

	var matched atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matched.Add(int32(len(ev.EvaluateAt(context.Background(), newEvent("package"), now))))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), matched.Load())
}

func TestRedisTracker_Unavailable(t *testing.T) {
	tr, mini := setupRedisTracker(t)
	mini.Close()

	ev := NewEvaluator(NewStaticSource(packageRule()), tr, nil)
	assert.Empty(t, ev.Evaluate(context.Background(), newEvent("package")))
}

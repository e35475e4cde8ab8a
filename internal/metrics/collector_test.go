package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gaugeValues flattens gathered gauges to "name" or "name{label}" keys.
func gaugeValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetValue() + "}"
			}
			out[key] = m.GetGauge().GetValue()
		}
	}
	return out
}

func TestCollector_ProbesAndState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(CollectorConfig{
		Probes: map[string]Probe{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
		State: func(context.Context) State {
			return State{CamerasTotal: 3, CamerasEnabled: 2, Inflight: 1, ThumbnailsCached: 7, RulesLoaded: 4}
		},
	}, reg)

	c.collect(context.Background())

	got := gaugeValues(t, reg)
	assert.Equal(t, 1.0, got["events_component_up{database}"])
	assert.Equal(t, 0.0, got["events_component_up{redis}"])
	assert.Equal(t, 3.0, got["events_cameras"])
	assert.Equal(t, 2.0, got["events_cameras_enabled"])
	assert.Equal(t, 1.0, got["events_triggers_inflight"])
	assert.Equal(t, 7.0, got["events_thumbnails_cached"])
	assert.Equal(t, 4.0, got["events_rules_loaded"])
	assert.False(t, c.LastSnapshot().IsZero())
}

func TestCollector_ProbeTimeout(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(CollectorConfig{
		ProbeTimeout: 20 * time.Millisecond,
		Probes: map[string]Probe{
			"nats": func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}, reg)

	start := time.Now()
	c.collect(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0.0, gaugeValues(t, reg)["events_component_up{nats}"])
}

func TestCollector_StartStopsOnCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(CollectorConfig{Interval: 10 * time.Millisecond}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !c.LastSnapshot().IsZero() }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

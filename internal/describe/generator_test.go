package describe

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/retry"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type fakeProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, n int) (string, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (string, error) {
	n := int(f.calls.Add(1))
	return f.fn(ctx, n)
}

func hangs(ctx context.Context, _ int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

const goodAnswer = `{"description":"A courier places a package on the porch","who":"a courier","what":"a package","where":"porch","action":"placing it down","confidence":91,"detections":[{"type":"Person"},{"type":"package","box":{"x":0.4,"y":0.6,"w":0.2,"h":0.2}}]}`

func answers(text string) func(context.Context, int) (string, error) {
	return func(context.Context, int) (string, error) { return text, nil }
}

func testGenerator(providers ...ProviderConfig) *Generator {
	g := NewGenerator(Preprocessor{}, NewMemoryUsage(), providers...)
	g.retryOpts = []retry.Option{retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })}
	return g
}

func testTrigger(t *testing.T) data.Trigger {
	return data.Trigger{
		CameraID:   "front-door",
		CapturedAt: time.Now(),
		Kind:       data.TriggerMotion,
		Frames:     []data.Frame{{Data: jpegBytes(t, 64, 48)}},
	}
}

var frontDoor = data.CameraSource{ID: "front-door", Name: "Front Door", Enabled: true}

func TestDescribe_PrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: answers(goodAnswer)}
	secondary := &fakeProvider{name: "secondary", fn: answers(goodAnswer)}
	g := testGenerator(ProviderConfig{Provider: primary}, ProviderConfig{Provider: secondary})

	d, err := g.Describe(context.Background(), frontDoor, testTrigger(t))
	require.NoError(t, err)

	assert.Equal(t, "primary", d.Provider)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, 91, d.Confidence)
	assert.NotEmpty(t, d.Thumbnail)
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestDescribe_FallbackAfterPrimaryTimeouts(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: hangs}
	secondary := &fakeProvider{name: "secondary", fn: answers(goodAnswer)}
	g := testGenerator(
		ProviderConfig{Provider: primary, Timeout: 20 * time.Millisecond, Attempts: 2},
		ProviderConfig{Provider: secondary, Timeout: time.Second},
	)

	d, err := g.Describe(context.Background(), frontDoor, testTrigger(t))
	require.NoError(t, err)

	assert.Equal(t, "secondary", d.Provider)
	assert.Equal(t, 3, d.Attempts, "primary retries plus one")
	assert.Equal(t, int32(2), primary.calls.Load())
}

func TestDescribe_PermanentErrorAdvancesImmediately(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(context.Context, int) (string, error) {
		return "", &ProviderError{Provider: "primary", StatusCode: http.StatusUnauthorized}
	}}
	secondary := &fakeProvider{name: "secondary", fn: answers(goodAnswer)}
	g := testGenerator(ProviderConfig{Provider: primary, Attempts: 3}, ProviderConfig{Provider: secondary})

	d, err := g.Describe(context.Background(), frontDoor, testTrigger(t))
	require.NoError(t, err)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, 2, d.Attempts)
}

func TestDescribe_MalformedAdvances(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: answers(`{"description":"","confidence":150}`)}
	secondary := &fakeProvider{name: "secondary", fn: answers(goodAnswer)}
	g := testGenerator(ProviderConfig{Provider: primary}, ProviderConfig{Provider: secondary})

	d, err := g.Describe(context.Background(), frontDoor, testTrigger(t))
	require.NoError(t, err)
	assert.Equal(t, "secondary", d.Provider)
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestDescribe_AllExhausted(t *testing.T) {
	failing := func(name string) *fakeProvider {
		return &fakeProvider{name: name, fn: func(context.Context, int) (string, error) {
			return "", &ProviderError{Provider: name, StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
		}}
	}
	g := testGenerator(ProviderConfig{Provider: failing("a")}, ProviderConfig{Provider: failing("b")})

	d, err := g.Describe(context.Background(), frontDoor, testTrigger(t))
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "b", pe.Provider)
}

func TestDescribe_QuotaReserveSkipsProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: answers(goodAnswer)}
	secondary := &fakeProvider{name: "secondary", fn: answers(goodAnswer)}
	quota := Quota{Limit: 3, Period: time.Hour, Reserve: 1}
	g := testGenerator(ProviderConfig{Provider: primary, Quota: quota}, ProviderConfig{Provider: secondary})

	var used []string
	for i := 0; i < 4; i++ {
		d, err := g.Describe(context.Background(), frontDoor, testTrigger(t))
		require.NoError(t, err)
		used = append(used, d.Provider)
	}

	assert.Equal(t, []string{"primary", "primary", "secondary", "secondary"}, used)
}

func TestDescribe_NoFrames(t *testing.T) {
	g := testGenerator(ProviderConfig{Provider: &fakeProvider{name: "p", fn: answers(goodAnswer)}})
	_, err := g.Describe(context.Background(), frontDoor, data.Trigger{CameraID: "front-door"})
	assert.ErrorIs(t, err, ErrCaptureFailure)
}

func TestDescribe_CancelledContext(t *testing.T) {
	g := testGenerator(ProviderConfig{Provider: &fakeProvider{name: "p", fn: hangs}, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := g.Describe(ctx, frontDoor, testTrigger(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAllProvidersExhausted)
}

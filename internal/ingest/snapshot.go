// Package ingest converts external camera events into pipeline triggers.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/describe"
)

// Submitter accepts triggers, e.g. *pipeline.Pipeline.
type Submitter interface {
	Submit(t data.Trigger) error
}

// SnapshotClient downloads still images over HTTP. Relative references are
// resolved against BaseURL.
type SnapshotClient struct {
	BaseURL  string
	MaxBytes int64
	client   *http.Client
}

func NewSnapshotClient(baseURL string, timeout time.Duration) *SnapshotClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SnapshotClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		MaxBytes: 8 << 20,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *SnapshotClient) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return ref, nil
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("relative snapshot reference %q without base url", ref)
	}
	return c.BaseURL + "/" + strings.TrimLeft(ref, "/"), nil
}

// Fetch returns the image bytes behind ref. Any failure wraps
// describe.ErrCaptureFailure.
func (c *SnapshotClient) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", describe.ErrCaptureFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", describe.ErrCaptureFailure, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", describe.ErrCaptureFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: snapshot returned status %d", describe.ErrCaptureFailure, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", describe.ErrCaptureFailure, err)
	}
	if int64(len(b)) > c.MaxBytes {
		return nil, fmt.Errorf("%w: snapshot larger than %d bytes", describe.ErrCaptureFailure, c.MaxBytes)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", describe.ErrCaptureFailure)
	}
	return b, nil
}

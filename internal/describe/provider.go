package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is what every provider receives: one instruction and the images.
type Request struct {
	Prompt string
	Images []Image
}

// Provider is a vision-language backend. Complete returns the model's raw text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

type ProviderKind string

const (
	KindOpenAI    ProviderKind = "openai"
	KindAnthropic ProviderKind = "anthropic"
	KindGemini    ProviderKind = "gemini"
)

// HTTPConfig is shared by the HTTP providers.
type HTTPConfig struct {
	Name      string
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
	Client    *http.Client
}

func (c HTTPConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c HTTPConfig) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 600
}

// NewProvider builds a provider of the given kind.
func NewProvider(kind ProviderKind, cfg HTTPConfig) (Provider, error) {
	switch kind {
	case KindOpenAI:
		return NewOpenAI(cfg), nil
	case KindAnthropic:
		return NewAnthropic(cfg), nil
	case KindGemini:
		return NewGemini(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// postJSON sends body and decodes a 2xx response into out. Other statuses
// become a ProviderError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProviderError{Provider: provider, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return &ProviderError{Provider: provider, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Transient:  transientStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s", bytes.TrimSpace(msg)),
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return &ProviderError{Provider: provider, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return nil
}

package describe

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Anthropic speaks the Messages API.
type Anthropic struct {
	cfg HTTPConfig
}

func NewAnthropic(cfg HTTPConfig) *Anthropic {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Anthropic{cfg: cfg}
}

func (p *Anthropic) Name() string { return p.cfg.Name }

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
}

func (p *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	var blocks []anthropicBlock
	for _, img := range req.Images {
		blocks = append(blocks, anthropicBlock{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	blocks = append(blocks, anthropicBlock{Type: "text", Text: req.Prompt})

	body := anthropicRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.maxTokens(),
		Messages:  []anthropicMessage{{Role: "user", Content: blocks}},
	}

	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var out anthropicResponse
	if err := postJSON(ctx, p.cfg.client(), p.cfg.Name, p.cfg.BaseURL+"/v1/messages", headers, body, &out); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, b := range out.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("%w: no text content", ErrMalformedResponse)}
	}
	return sb.String(), nil
}

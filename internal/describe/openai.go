package describe

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// OpenAI speaks the chat completions API. It also serves xAI, Ollama and
// other compatible gateways through BaseURL.
type OpenAI struct {
	cfg HTTPConfig
}

func NewOpenAI(cfg HTTPConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg}
}

func (p *OpenAI) Name() string { return p.cfg.Name }

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIMessage struct {
	Role    string       `json:"role"`
	Content []openAIPart `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	parts := []openAIPart{{Type: "text", Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, openAIPart{
			Type: "image_url",
			ImageURL: &openAIImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", img.MediaType, base64.StdEncoding.EncodeToString(img.Data)),
				Detail: "auto",
			},
		})
	}

	body := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    []openAIMessage{{Role: "user", Content: parts}},
		MaxTokens:   p.cfg.maxTokens(),
		Temperature: 0.2,
	}
	headers := map[string]string{}
	if p.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.cfg.APIKey
	}

	var out openAIResponse
	if err := postJSON(ctx, p.cfg.client(), p.cfg.Name, p.cfg.BaseURL+"/chat/completions", headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("%w: no choices", ErrMalformedResponse)}
	}
	return out.Choices[0].Message.Content, nil
}

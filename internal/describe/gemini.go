package describe

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Gemini speaks the generateContent API.
type Gemini struct {
	cfg HTTPConfig
}

func NewGemini(cfg HTTPConfig) *Gemini {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gemini{cfg: cfg}
}

func (p *Gemini) Name() string { return p.cfg.Name }

type geminiInline struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string  `json:"responseMimeType"`
		MaxOutputTokens  int     `json:"maxOutputTokens"`
		Temperature      float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	parts := []geminiPart{{Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, geminiPart{InlineData: &geminiInline{
			MimeType: img.MediaType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	var body geminiRequest
	body.Contents = []geminiContent{{Parts: parts}}
	body.GenerationConfig.ResponseMimeType = "application/json"
	body.GenerationConfig.MaxOutputTokens = p.cfg.maxTokens()
	body.GenerationConfig.Temperature = 0.2

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.cfg.BaseURL, url.PathEscape(p.cfg.Model))
	headers := map[string]string{"x-goog-api-key": p.cfg.APIKey}

	var out geminiResponse
	if err := postJSON(ctx, p.cfg.client(), p.cfg.Name, endpoint, headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("%w: no candidates", ErrMalformedResponse)}
	}

	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: p.cfg.Name, Err: fmt.Errorf("%w: empty candidate", ErrMalformedResponse)}
	}
	return sb.String(), nil
}

package describe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testReq = Request{Prompt: "describe", Images: []Image{{Data: []byte{0xff, 0xd8}, MediaType: "image/jpeg"}}}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 1)
		require.Len(t, body.Messages[0].Content, 2)
		assert.Contains(t, body.Messages[0].Content[1].ImageURL.URL, "data:image/jpeg;base64,")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"description\":\"ok\",\"what\":\"nothing unusual\",\"confidence\":50}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(HTTPConfig{BaseURL: srv.URL + "/v1/", Model: "gpt-4o-mini", APIKey: "sk-test"})
	text, err := p.Complete(context.Background(), testReq)
	require.NoError(t, err)

	d, err := ParseResponse(text)
	require.NoError(t, err)
	assert.Equal(t, "ok", d.Text)
}

func TestAnthropic_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages[0].Content, 2)
		assert.Equal(t, "image", body.Messages[0].Content[0].Type)
		assert.Equal(t, "text", body.Messages[0].Content[1].Type)

		w.Write([]byte(`{"content":[{"type":"text","text":"{\"description\":\"dog\",\"confidence\":77}"}]}`))
	}))
	defer srv.Close()

	text, err := NewAnthropic(HTTPConfig{BaseURL: srv.URL, APIKey: "key", Model: "vision-large"}).Complete(context.Background(), testReq)
	require.NoError(t, err)
	assert.Contains(t, text, "dog")
}

func TestGemini_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "gk", r.Header.Get("x-goog-api-key"))
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"description\":\"car\",\"confidence\":66}"}]}}]}`))
	}))
	defer srv.Close()

	text, err := NewGemini(HTTPConfig{BaseURL: srv.URL, APIKey: "gk", Model: "gemini-2.0-flash"}).Complete(context.Background(), testReq)
	require.NoError(t, err)
	assert.Contains(t, text, "car")
}

func TestProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte("nope"))
			}))
			defer srv.Close()

			_, err := NewOpenAI(HTTPConfig{BaseURL: srv.URL}).Complete(context.Background(), testReq)
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, tc.transient, pe.Transient)
		})
	}
}

func TestNewProvider_UnknownKind(t *testing.T) {
	_, err := NewProvider("bard", HTTPConfig{})
	assert.Error(t, err)

	p, err := NewProvider(KindGemini, HTTPConfig{Name: "backup"})
	require.NoError(t, err)
	assert.Equal(t, "backup", p.Name())
}

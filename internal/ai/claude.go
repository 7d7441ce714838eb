package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// Claude is a provider backed by the Anthropic messages API.
type Claude struct {
	apiKey  string
	client  HTTPClient
	timeout time.Duration
}

// NewClaude creates a provider for the given API key.
func NewClaude(apiKey string, client HTTPClient) *Claude {
	if client == nil {
		client = http.DefaultClient
	}
	return &Claude{apiKey: apiKey, client: client, timeout: 120 * time.Second}
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Process sends the prompt (and any images, base64-inlined) to the
// messages API and returns the concatenated text blocks.
func (c *Claude) Process(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content := []claudeContent{{Type: "text", Text: req.Prompt}}
	for _, p := range req.ImagePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		content = append(content, claudeContent{
			Type: "image",
			Source: &claudeSource{
				Type:      "base64",
				MediaType: mimeByExtension(filepath.Ext(p)),
				Data:      base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	body, err := json.Marshal(claudeRequest{
		Model:     req.Model,
		MaxTokens: 4096,
		Messages:  []claudeMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", &ProviderError{Provider: "claude", Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Provider: "claude", Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Provider: "claude", Err: fmt.Errorf("http post: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", &ProviderError{Provider: "claude", Err: fmt.Errorf("read body: %w", err)}
	}

	var parsed claudeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &ProviderError{Provider: "claude", Err: fmt.Errorf("parse response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &ProviderError{Provider: "claude", Err: fmt.Errorf("api error: %s", parsed.Error.Message)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Provider: "claude", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var out string
	for _, block := range parsed.Content {
		out += block.Text
	}
	return out, nil
}

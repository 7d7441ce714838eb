package ai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini is a provider backed by the Google generative AI SDK.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a provider for the given API key.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Process sends the prompt (and any images) to the model and returns the
// concatenated text parts of the first candidate.
func (g *Gemini) Process(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(req.Model)

	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, p := range req.ImagePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		format := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
		if format == "" || format == "jpg" {
			format = "jpeg"
		}
		parts = append(parts, genai.ImageData(format, data))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", &ProviderError{Provider: "gemini", Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &ProviderError{Provider: "gemini", Err: fmt.Errorf("empty response")}
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return out.String(), nil
}

// Package ai defines the text-processing capability and its providers.
// Providers are selected by model name through a registry: "gemini-*"
// models go to Gemini, "claude-*" to Claude, everything else to the
// OpenAI-compatible endpoint.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// MessagePlaceholder is substituted with the message text in prompts.
const MessagePlaceholder = "{Message}"

// Request is one text-processing call. ImagePaths are optional local files
// uploaded alongside the prompt when the provider supports it.
type Request struct {
	Model      string
	Prompt     string
	ImagePaths []string
}

// Provider processes a text+optional-images prompt and returns text.
type Provider interface {
	Process(ctx context.Context, req Request) (string, error)
}

// ProviderError wraps a provider failure; pipeline stages treat it as
// recoverable and keep the original text.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Registry maps model-name prefixes to providers.
type Registry struct {
	fallback Provider
	prefixes []prefixEntry
}

type prefixEntry struct {
	prefix   string
	provider Provider
}

// NewRegistry creates a registry with the given default provider.
func NewRegistry(fallback Provider) *Registry {
	return &Registry{fallback: fallback}
}

// Register routes models starting with prefix to the provider.
func (r *Registry) Register(prefix string, p Provider) {
	r.prefixes = append(r.prefixes, prefixEntry{prefix: prefix, provider: p})
}

// Resolve returns the provider responsible for the model name.
func (r *Registry) Resolve(modelName string) Provider {
	for _, e := range r.prefixes {
		if strings.HasPrefix(modelName, e.prefix) {
			return e.provider
		}
	}
	return r.fallback
}

// Process dispatches the request to the provider matching its model.
func (r *Registry) Process(ctx context.Context, req Request) (string, error) {
	p := r.Resolve(req.Model)
	if p == nil {
		return "", &ProviderError{Provider: "registry", Err: fmt.Errorf("no provider for model %q", req.Model)}
	}
	return p.Process(ctx, req)
}

// RenderPrompt substitutes the message placeholder in a prompt template.
// A template without the placeholder gets the message appended.
func RenderPrompt(template, message string) string {
	if strings.Contains(template, MessagePlaceholder) {
		return strings.ReplaceAll(template, MessagePlaceholder, message)
	}
	return template + "\n\n" + message
}

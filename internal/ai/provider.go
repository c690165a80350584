package ai

import (
	"context"
	"fmt"
)

// Provider abstracts a chat-completion backend. Two providers are supported
// (an OpenAI-compatible endpoint and Gemini), selected via configuration and
// normalized to the same response shape: the assistant's message text.
type Provider interface {
	// Name returns the provider identifier ("openai" or "gemini").
	Name() string

	// Chat sends messages to the given model and returns the assistant's
	// response. When jsonSchema is non-nil, structured JSON output is
	// requested from the provider.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema. Items carries the
// element schema for array-typed fields.
type SchemaProperty struct {
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Items       *Schema `json:"items,omitempty"`
}

// Config holds the parameters needed to construct a provider.
type Config struct {
	Provider      string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	GeminiAPIKey  string
}

// New returns the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), nil
	case "gemini":
		return NewGeminiClient(cfg.GeminiAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

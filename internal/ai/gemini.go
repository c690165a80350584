package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiTimeout        = 60 * time.Second
)

// GeminiClient talks to the Gemini generateContent REST API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient creates a Gemini client with the given API key.
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: defaultGeminiBaseURL,
		httpClient: &http.Client{
			Timeout: geminiTimeout,
		},
	}
}

// NewGeminiClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewGeminiClientWithBaseURL(apiKey, baseURL string) *GeminiClient {
	c := NewGeminiClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *GeminiClient) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
	ResponseSchema   any    `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Chat sends messages to the given model and returns the first candidate's
// text. System messages become the systemInstruction; assistant messages map
// to the "model" role. When jsonSchema is non-nil the response is constrained
// to JSON via responseMimeType and responseSchema.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	gr := geminiRequest{}

	for _, m := range messages {
		switch m.Role {
		case "system":
			gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case "assistant":
			gr.Contents = append(gr.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			gr.Contents = append(gr.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	if jsonSchema != nil {
		gr.GenerationConfig = &geminiGenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   toGeminiSchema(jsonSchema),
		}
	}

	body, err := json.Marshal(gr)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("response contained no candidates")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

// toGeminiSchema converts a Schema to the uppercase OpenAPI type names the
// Gemini API expects.
func toGeminiSchema(s *Schema) map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{
		"type": strings.ToUpper(s.Type),
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			prop := map[string]any{
				"type": strings.ToUpper(p.Type),
			}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			if p.Items != nil {
				prop["items"] = toGeminiSchema(p.Items)
			}
			props[name] = prop
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

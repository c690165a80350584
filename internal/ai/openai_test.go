package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func openAIResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestOpenAIChat(t *testing.T) {
	var gotAuth string
	var gotBody openAIChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Write([]byte(openAIResponse(`{"actions":[]}`)))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL)
	got, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{
		{Role: "system", Content: "extract"},
		{Role: "user", Content: "dentist tuesday"},
	}, &Schema{Type: "object"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got != `{"actions":[]}` {
		t.Errorf("content = %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if gotBody.ResponseFormat == nil {
		t.Error("response_format not set for schema request")
	}
}

func TestOpenAIChatNoSchemaOmitsResponseFormat(t *testing.T) {
	var raw map[string]json.RawMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Write([]byte(openAIResponse("ok")))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL)
	if _, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if _, ok := raw["response_format"]; ok {
		t.Error("response_format present without schema")
	}
}

func TestOpenAIChatRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(openAIResponse("recovered")))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL)
	got, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "recovered" {
		t.Errorf("content = %q, want recovered", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestOpenAIChatDoesNotRetryServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL)
	if _, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 500)", calls.Load())
	}
}

func TestOpenAIChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL)
	if _, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

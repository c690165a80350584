package config

import (
	"errors"
	"testing"
)

// mockBackend is an in-memory ConfigBackend for tests.
type mockBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mockBackend) SetString(key, val string) error {
	if m.strings == nil {
		m.strings = make(map[string]string)
	}
	m.strings[key] = val
	return nil
}

func (m *mockBackend) SetInt(key string, val int) error {
	if m.ints == nil {
		m.ints = make(map[string]int)
	}
	m.ints[key] = val
	return nil
}

func (m *mockBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[account], nil
}

func TestDefaults(t *testing.T) {
	t.Setenv("CALSCRIBE_OPENAI_API_KEY", "env-key")

	cfg, err := loadWith(&mockBackend{}, mockKeychain{err: errors.New("no keychain")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.AI.Provider != "openai" {
		t.Errorf("AI.Provider = %q, want openai", cfg.AI.Provider)
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("AI.Model = %q, want gpt-4o-mini", cfg.AI.Model)
	}
	if cfg.Calendar.ID != "primary" {
		t.Errorf("Calendar.ID = %q, want primary", cfg.Calendar.ID)
	}
	if cfg.Reconcile.AutoAcceptThreshold != 0.8 {
		t.Errorf("Reconcile.AutoAcceptThreshold = %v, want 0.8", cfg.Reconcile.AutoAcceptThreshold)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValuesApplied(t *testing.T) {
	t.Setenv("CALSCRIBE_OPENAI_API_KEY", "env-key")

	b := &mockBackend{
		strings: map[string]string{
			"ai.model":                        "gpt-4o",
			"calendar.id":                     "work@example.com",
			"reconcile.auto_accept_threshold": "0.95",
		},
		ints: map[string]int{"server.port": 9999},
	}

	cfg, err := loadWith(b, mockKeychain{err: errors.New("no keychain")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Errorf("AI.Model = %q, want gpt-4o", cfg.AI.Model)
	}
	if cfg.Calendar.ID != "work@example.com" {
		t.Errorf("Calendar.ID = %q", cfg.Calendar.ID)
	}
	if cfg.Reconcile.AutoAcceptThreshold != 0.95 {
		t.Errorf("AutoAcceptThreshold = %v, want 0.95", cfg.Reconcile.AutoAcceptThreshold)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("CALSCRIBE_OPENAI_API_KEY", "env-key")
	t.Setenv("CALSCRIBE_AI_MODEL", "env-model")

	b := &mockBackend{strings: map[string]string{"ai.model": "backend-model"}}

	cfg, err := loadWith(b, mockKeychain{err: errors.New("no keychain")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.Model != "env-model" {
		t.Errorf("AI.Model = %q, want env-model", cfg.AI.Model)
	}
}

func TestMissingProviderKeyFails(t *testing.T) {
	t.Setenv("CALSCRIBE_OPENAI_API_KEY", "")
	t.Setenv("CALSCRIBE_GEMINI_API_KEY", "")

	_, err := loadWith(&mockBackend{}, mockKeychain{err: errors.New("no keychain")})
	if err == nil {
		t.Fatal("expected error for missing OpenAI API key")
	}
}

func TestGeminiProviderRequiresGeminiKey(t *testing.T) {
	t.Setenv("CALSCRIBE_OPENAI_API_KEY", "")
	t.Setenv("CALSCRIBE_GEMINI_API_KEY", "")
	t.Setenv("CALSCRIBE_AI_PROVIDER", "gemini")

	if _, err := loadWith(&mockBackend{}, mockKeychain{err: errors.New("no keychain")}); err == nil {
		t.Fatal("expected error for missing Gemini API key")
	}

	t.Setenv("CALSCRIBE_GEMINI_API_KEY", "g-key")
	cfg, err := loadWith(&mockBackend{}, mockKeychain{err: errors.New("no keychain")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.GeminiAPIKey != "g-key" {
		t.Errorf("GeminiAPIKey = %q, want g-key", cfg.AI.GeminiAPIKey)
	}
}

func TestKeychainFallbackForAPIKey(t *testing.T) {
	t.Setenv("CALSCRIBE_OPENAI_API_KEY", "")
	t.Setenv("CALSCRIBE_GEMINI_API_KEY", "")

	kc := mockKeychain{values: map[string]string{"openai_api_key": "kc-key"}}
	cfg, err := loadWith(&mockBackend{}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.OpenAIAPIKey != "kc-key" {
		t.Errorf("OpenAIAPIKey = %q, want kc-key", cfg.AI.OpenAIAPIKey)
	}
}

func TestUnknownProviderFails(t *testing.T) {
	t.Setenv("CALSCRIBE_OPENAI_API_KEY", "key")
	t.Setenv("CALSCRIBE_AI_PROVIDER", "llama-farm")

	if _, err := loadWith(&mockBackend{}, mockKeychain{err: errors.New("no keychain")}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidKeysExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "ai.openai_api_key" || k == "ai.gemini_api_key" {
			t.Errorf("secret key %q exposed in ValidKeys", k)
		}
	}
}

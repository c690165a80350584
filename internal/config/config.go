package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Calendar  CalendarConfig
	Reconcile ReconcileConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

// AIConfig selects and configures the extraction provider. Provider is
// "openai" (any OpenAI-compatible endpoint) or "gemini"; both are normalized
// to the same response shape by the ai package.
type AIConfig struct {
	Provider      string
	Model         string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	GeminiAPIKey  string
}

type CalendarConfig struct {
	ID string
}

type ReconcileConfig struct {
	// AutoAcceptThreshold is the minimum confidence for an action to be
	// applied without explicit confirmation.
	AutoAcceptThreshold float64
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		AI: AIConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			OpenAIBaseURL: "https://api.openai.com/v1",
		},
		Calendar: CalendarConfig{
			ID: "primary",
		},
		Reconcile: ReconcileConfig{
			AutoAcceptThreshold: 0.8,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.calscribe.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/calscribe/config.json
// and secrets live in a secrets file under the XDG data dir.
//
// Environment variables (CALSCRIBE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for provider keys if still empty.
	if cfg.AI.OpenAIAPIKey == "" {
		if key, err := kc.Get("calscribe", "openai_api_key"); err == nil && key != "" {
			cfg.AI.OpenAIAPIKey = key
		}
	}
	if cfg.AI.GeminiAPIKey == "" {
		if key, err := kc.Get("calscribe", "gemini_api_key"); err == nil && key != "" {
			cfg.AI.GeminiAPIKey = key
		}
	}

	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("missing required config: OpenAI API key. "+
				"Set it via environment variable CALSCRIBE_OPENAI_API_KEY%s", apiKeyHint("openai_api_key"))
		}
	case "gemini":
		if cfg.AI.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("missing required config: Gemini API key. "+
				"Set it via environment variable CALSCRIBE_GEMINI_API_KEY%s", apiKeyHint("gemini_api_key"))
		}
	default:
		return Config{}, fmt.Errorf("unknown AI provider %q (expected openai or gemini)", cfg.AI.Provider)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

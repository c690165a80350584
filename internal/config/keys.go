package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CALSCRIBE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ai.provider", typ: kString, env: "CALSCRIBE_AI_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.AI.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Provider },
	},
	{
		key: "ai.model", typ: kString, env: "CALSCRIBE_AI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Model },
	},
	{
		key: "ai.openai_base_url", typ: kString, env: "CALSCRIBE_AI_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AI.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.OpenAIBaseURL },
	},
	{
		key: "ai.openai_api_key", typ: kString, env: "CALSCRIBE_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.OpenAIAPIKey },
	},
	{
		key: "ai.gemini_api_key", typ: kString, env: "CALSCRIBE_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.GeminiAPIKey },
	},
	{
		key: "calendar.id", typ: kString, env: "CALSCRIBE_CALENDAR_ID",
		apply:   func(cfg *Config, v any) { cfg.Calendar.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.ID },
	},
	{
		key: "reconcile.auto_accept_threshold", typ: kFloat, env: "CALSCRIBE_RECONCILE_AUTO_ACCEPT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Reconcile.AutoAcceptThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reconcile.AutoAcceptThreshold },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CALSCRIBE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CALSCRIBE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if fv, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, fv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

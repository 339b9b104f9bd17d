// Package config loads engine configuration from the environment and
// translates it into the component configs the rest of the engine
// consumes.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/llm"
	"github.com/fk219/VoxiHub-sub002/pkg/provider"
	"github.com/fk219/VoxiHub-sub002/pkg/session"
	"github.com/fk219/VoxiHub-sub002/pkg/voice"
)

// EngineConfig is the full set of recognized engine options. Defaults
// match production behavior; any option can be overridden through the
// environment.
type EngineConfig struct {
	// Provider credentials. Empty keys leave the provider unconfigured.
	OpenAIKey     string
	GroqKey       string
	AzureKey      string
	AzureEndpoint string
	GoogleKey     string
	DeepgramKey   string
	ElevenLabsKey string

	DefaultSTT provider.Provider
	DefaultTTS provider.Provider

	// STTFallback and TTSFallback order providers for retry on
	// transient failure, comma separated in the environment.
	STTFallback []provider.Provider
	TTSFallback []provider.Provider

	// LLM settings.
	LLMModel   string
	LLMBaseURL string

	// Conversation behavior.
	EnableBargeIn         bool
	InterruptionThreshold float64
	InterruptionCooldown  time.Duration
	VADThreshold          float64
	SilenceTimeout        time.Duration
	MaxCallDuration       time.Duration
	StreamingSynthesis    bool
	SystemPrompt          string
	Greeting              string

	// Cache settings.
	CacheTTL     time.Duration
	MaxCacheSize int

	// Server addresses.
	WidgetAddr string
	SIPAddr    string

	LogLevel slog.Level
}

// FromEnv reads configuration from the environment, applying defaults
// for anything unset. Unknown provider names in fallback lists are an
// error; everything else degrades to its default.
func FromEnv() (*EngineConfig, error) {
	cfg := &EngineConfig{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		GroqKey:       os.Getenv("GROQ_API_KEY"),
		AzureKey:      os.Getenv("AZURE_OPENAI_API_KEY"),
		AzureEndpoint: os.Getenv("AZURE_OPENAI_ENDPOINT"),
		GoogleKey:     os.Getenv("GOOGLE_API_KEY"),
		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		ElevenLabsKey: os.Getenv("ELEVENLABS_API_KEY"),

		DefaultSTT: provider.Provider(os.Getenv("DEFAULT_STT_PROVIDER")),
		DefaultTTS: provider.Provider(os.Getenv("DEFAULT_TTS_PROVIDER")),

		LLMModel:   os.Getenv("LLM_MODEL"),
		LLMBaseURL: os.Getenv("LLM_BASE_URL"),

		EnableBargeIn:         envBool("ENABLE_BARGE_IN", true),
		InterruptionThreshold: envFloat("INTERRUPTION_THRESHOLD", 0.7),
		InterruptionCooldown:  envMillis("INTERRUPTION_COOLDOWN_MS", 1000),
		VADThreshold:          envFloat("VAD_THRESHOLD", 0.5),
		SilenceTimeout:        envMillis("SILENCE_TIMEOUT_MS", 1500),
		MaxCallDuration:       envMillis("MAX_CALL_DURATION_MS", 0),
		StreamingSynthesis:    envBool("STREAMING_SYNTHESIS", false),
		SystemPrompt:          os.Getenv("SYSTEM_PROMPT"),
		Greeting:              os.Getenv("GREETING"),

		CacheTTL:     envMillis("CACHE_TTL_MS", int(time.Hour/time.Millisecond)),
		MaxCacheSize: envInt("MAX_CACHE_SIZE", 500),

		WidgetAddr: envString("WIDGET_ADDR", ":8080"),
		SIPAddr:    envString("SIP_RTP_ADDR", ":5004"),

		LogLevel: parseLogLevel(os.Getenv("LOG_LEVEL")),
	}

	var err error
	if cfg.STTFallback, err = parseProviders(os.Getenv("STT_FALLBACK")); err != nil {
		return nil, fmt.Errorf("STT_FALLBACK: %w", err)
	}
	if cfg.TTSFallback, err = parseProviders(os.Getenv("TTS_FALLBACK")); err != nil {
		return nil, fmt.Errorf("TTS_FALLBACK: %w", err)
	}

	if cfg.DefaultSTT != "" && !cfg.DefaultSTT.Valid() {
		return nil, fmt.Errorf("DEFAULT_STT_PROVIDER: unknown provider %q", cfg.DefaultSTT)
	}
	if cfg.DefaultTTS != "" && !cfg.DefaultTTS.Valid() {
		return nil, fmt.Errorf("DEFAULT_TTS_PROVIDER: unknown provider %q", cfg.DefaultTTS)
	}
	return cfg, nil
}

// GatewayConfig assembles provider credentials into gateway form. Only
// providers with a key present are included.
func (c *EngineConfig) GatewayConfig() provider.GatewayConfig {
	providers := make(map[provider.Provider]provider.Config)
	if c.OpenAIKey != "" {
		providers[provider.ProviderOpenAI] = provider.Config{APIKey: c.OpenAIKey}
	}
	if c.GroqKey != "" {
		providers[provider.ProviderGroq] = provider.Config{APIKey: c.GroqKey}
	}
	if c.AzureKey != "" {
		providers[provider.ProviderAzure] = provider.Config{APIKey: c.AzureKey, Endpoint: c.AzureEndpoint}
	}
	if c.GoogleKey != "" {
		providers[provider.ProviderGoogle] = provider.Config{APIKey: c.GoogleKey}
	}
	if c.DeepgramKey != "" {
		providers[provider.ProviderDeepgram] = provider.Config{APIKey: c.DeepgramKey}
	}
	if c.ElevenLabsKey != "" {
		providers[provider.ProviderElevenLabs] = provider.Config{APIKey: c.ElevenLabsKey}
	}
	return provider.GatewayConfig{
		Providers:  providers,
		DefaultSTT: c.DefaultSTT,
		DefaultTTS: c.DefaultTTS,
	}
}

// LLMConfig builds the chat model client configuration.
func (c *EngineConfig) LLMConfig() llm.OpenAIConfig {
	return llm.OpenAIConfig{
		APIKey:  c.OpenAIKey,
		Model:   c.LLMModel,
		BaseURL: c.LLMBaseURL,
	}
}

// CacheConfig builds the response cache configuration.
func (c *EngineConfig) CacheConfig() llm.CacheConfig {
	return llm.CacheConfig{
		TTL:        c.CacheTTL,
		MaxEntries: c.MaxCacheSize,
	}
}

// ManagerConfig builds the per-call defaults for the session manager.
func (c *EngineConfig) ManagerConfig() session.ManagerConfig {
	return session.ManagerConfig{
		Ingest: voice.IngestConfig{
			VADEnabled:     true,
			VADThreshold:   c.VADThreshold,
			SilenceTimeout: c.SilenceTimeout,
		},
		Interrupt: voice.InterruptConfig{
			EnableBargeIn: c.EnableBargeIn,
			Threshold:     c.InterruptionThreshold,
			Cooldown:      c.InterruptionCooldown,
		},
		Synth: voice.SynthConfig{
			Streaming: c.StreamingSynthesis,
		},
		Orchestrator: voice.OrchestratorConfig{
			SystemPrompt: c.SystemPrompt,
			Streaming:    c.StreamingSynthesis,
		},
		STTFallback:     c.STTFallback,
		TTSFallback:     c.TTSFallback,
		MaxCallDuration: c.MaxCallDuration,
	}
}

// DefaultAgent builds the agent applied to calls with no tenant
// override.
func (c *EngineConfig) DefaultAgent() session.AgentConfig {
	return session.AgentConfig{
		Name:          "assistant",
		SystemPrompt:  c.SystemPrompt,
		Greeting:      c.Greeting,
		EnableBargeIn: c.EnableBargeIn,
	}
}

func parseProviders(raw string) ([]provider.Provider, error) {
	if raw == "" {
		return nil, nil
	}
	var out []provider.Provider
	for _, part := range strings.Split(raw, ",") {
		p := provider.Provider(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		if !p.Valid() {
			return nil, fmt.Errorf("unknown provider %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envMillis(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}

package config

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/fk219/VoxiHub-sub002/pkg/provider"
)

func TestFromEnv_Defaults(t *testing.T) {
	is := is.New(t)

	cfg, err := FromEnv()
	is.NoErr(err)

	is.Equal(cfg.EnableBargeIn, true)
	is.Equal(cfg.InterruptionThreshold, 0.7)
	is.Equal(cfg.InterruptionCooldown, time.Second)
	is.Equal(cfg.VADThreshold, 0.5)
	is.Equal(cfg.SilenceTimeout, 1500*time.Millisecond)
	is.Equal(cfg.CacheTTL, time.Hour)
	is.Equal(cfg.MaxCacheSize, 500)
	is.Equal(cfg.WidgetAddr, ":8080")
}

func TestFromEnv_Overrides(t *testing.T) {
	is := is.New(t)

	t.Setenv("ENABLE_BARGE_IN", "false")
	t.Setenv("INTERRUPTION_THRESHOLD", "0.85")
	t.Setenv("SILENCE_TIMEOUT_MS", "800")
	t.Setenv("DEFAULT_STT_PROVIDER", "deepgram")
	t.Setenv("STT_FALLBACK", "deepgram, openai")

	cfg, err := FromEnv()
	is.NoErr(err)

	is.Equal(cfg.EnableBargeIn, false)
	is.Equal(cfg.InterruptionThreshold, 0.85)
	is.Equal(cfg.SilenceTimeout, 800*time.Millisecond)
	is.Equal(cfg.DefaultSTT, provider.ProviderDeepgram)
	is.Equal(cfg.STTFallback, []provider.Provider{provider.ProviderDeepgram, provider.ProviderOpenAI})
}

func TestFromEnv_RejectsUnknownProviders(t *testing.T) {
	is := is.New(t)

	t.Setenv("DEFAULT_STT_PROVIDER", "whisperworks")
	_, err := FromEnv()
	is.True(err != nil) // unknown provider names fail fast

	t.Setenv("DEFAULT_STT_PROVIDER", "")
	t.Setenv("TTS_FALLBACK", "elevenlabs,nosuch")
	_, err = FromEnv()
	is.True(err != nil)
}

func TestFromEnv_MalformedNumbersFallBack(t *testing.T) {
	is := is.New(t)

	t.Setenv("VAD_THRESHOLD", "not a number")
	t.Setenv("MAX_CACHE_SIZE", "many")

	cfg, err := FromEnv()
	is.NoErr(err)
	is.Equal(cfg.VADThreshold, 0.5) // malformed values degrade to defaults
	is.Equal(cfg.MaxCacheSize, 500)
}

func TestGatewayConfig_OnlyConfiguredProviders(t *testing.T) {
	is := is.New(t)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DEEPGRAM_API_KEY", "dg-test")

	cfg, err := FromEnv()
	is.NoErr(err)

	gw := cfg.GatewayConfig()
	is.Equal(len(gw.Providers), 2)
	is.Equal(gw.Providers[provider.ProviderOpenAI].APIKey, "sk-test")
	is.Equal(gw.Providers[provider.ProviderDeepgram].APIKey, "dg-test")

	_, hasGoogle := gw.Providers[provider.ProviderGoogle]
	is.True(!hasGoogle) // providers without keys stay out
}

func TestManagerConfig_CarriesConversationSettings(t *testing.T) {
	is := is.New(t)

	t.Setenv("MAX_CALL_DURATION_MS", "60000")
	t.Setenv("SYSTEM_PROMPT", "be helpful")

	cfg, err := FromEnv()
	is.NoErr(err)

	mc := cfg.ManagerConfig()
	is.Equal(mc.MaxCallDuration, time.Minute)
	is.Equal(mc.Orchestrator.SystemPrompt, "be helpful")
	is.Equal(mc.Ingest.VADThreshold, 0.5)
	is.Equal(mc.Interrupt.Threshold, 0.7)
}

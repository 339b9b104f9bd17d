package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fk219/VoxiHub-sub002/internal/ratelimit"
	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// GatewayConfig configures the gateway at construction time.
type GatewayConfig struct {
	// Providers maps each configured provider to its credentials.
	// Providers with invalid configuration are omitted from the available
	// set at construction, not treated as fatal.
	Providers map[Provider]Config

	// DefaultSTT and DefaultTTS are the per-deployment defaults used when
	// a request carries no explicit override.
	DefaultSTT Provider
	DefaultTTS Provider
}

// Gateway dispatches transcribe and synthesize calls to the configured
// vendor adapters. It holds no mutable state after construction besides
// the shared rate limiter, so one instance serves all sessions.
type Gateway struct {
	adapters map[Provider]adapter
	defSTT   Provider
	defTTS   Provider
	limiter  *ratelimit.Limiter
	limits   map[Provider]float64
	logger   *slog.Logger
}

// NewGateway builds a gateway from cfg. Misconfigured providers are
// logged and skipped. The limiter is owned by the caller's lifecycle:
// the gateway starts it and Close stops it.
func NewGateway(cfg GatewayConfig, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		adapters: make(map[Provider]adapter),
		defSTT:   cfg.DefaultSTT,
		defTTS:   cfg.DefaultTTS,
		limiter:  ratelimit.New(ratelimit.Config{}),
		limits:   make(map[Provider]float64),
		logger:   logger,
	}

	for p, pc := range cfg.Providers {
		a, err := buildAdapter(p, pc)
		if err != nil {
			// ConfigurationInvalid omits the provider, never kills startup.
			logger.Warn("skipping misconfigured provider",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()))
			continue
		}
		g.adapters[p] = a
		g.limits[p] = pc.RateLimit
	}

	if len(g.adapters) == 0 {
		return nil, fmt.Errorf("no providers configured: %w", ai.ErrConfigurationInvalid)
	}
	if g.defSTT == "" {
		g.defSTT = firstWith(g.adapters, func(a adapter) bool { return a.transcriber != nil })
	}
	if g.defTTS == "" {
		g.defTTS = firstWith(g.adapters, func(a adapter) bool { return a.synthesizer != nil })
	}

	g.limiter.Start()
	return g, nil
}

// AdapterSet pairs preconstructed implementations for one provider.
// Used to assemble a gateway without vendor credentials (tests, custom
// deployments fronting their own adapters).
type AdapterSet struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
}

// NewGatewayFromAdapters builds a gateway from ready-made adapters,
// bypassing credential validation.
func NewGatewayFromAdapters(sets map[Provider]AdapterSet, defSTT, defTTS Provider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		adapters: make(map[Provider]adapter),
		defSTT:   defSTT,
		defTTS:   defTTS,
		limiter:  ratelimit.New(ratelimit.Config{}),
		limits:   make(map[Provider]float64),
		logger:   logger,
	}
	for p, set := range sets {
		g.adapters[p] = adapter{provider: p, transcriber: set.Transcriber, synthesizer: set.Synthesizer}
	}
	if g.defSTT == "" {
		g.defSTT = firstWith(g.adapters, func(a adapter) bool { return a.transcriber != nil })
	}
	if g.defTTS == "" {
		g.defTTS = firstWith(g.adapters, func(a adapter) bool { return a.synthesizer != nil })
	}
	g.limiter.Start()
	return g
}

func buildAdapter(p Provider, cfg Config) (adapter, error) {
	if !p.Valid() {
		return adapter{}, fmt.Errorf("unknown provider %q: %w", p, ai.ErrConfigurationInvalid)
	}
	if err := validateKey(p, cfg.APIKey); err != nil {
		return adapter{}, fmt.Errorf("%w: %w", ai.ErrConfigurationInvalid, err)
	}

	switch p {
	case ProviderOpenAI:
		return newOpenAIAdapter(cfg), nil
	case ProviderGroq:
		return newGroqAdapter(cfg), nil
	case ProviderAzure:
		return newAzureAdapter(cfg)
	case ProviderGoogle:
		return newGoogleAdapter(cfg), nil
	case ProviderDeepgram:
		return newDeepgramAdapter(cfg), nil
	case ProviderElevenLabs:
		return newElevenLabsAdapter(cfg), nil
	}
	return adapter{}, fmt.Errorf("unknown provider %q: %w", p, ai.ErrConfigurationInvalid)
}

func firstWith(m map[Provider]adapter, ok func(adapter) bool) Provider {
	// deterministic order across runs
	keys := make([]Provider, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if ok(m[k]) {
			return k
		}
	}
	return ""
}

// Close stops the gateway's shared rate limiter.
func (g *Gateway) Close() {
	g.limiter.Stop()
}

// Available lists configured providers with their capabilities.
func (g *Gateway) Available() map[Provider]Capabilities {
	out := make(map[Provider]Capabilities, len(g.adapters))
	for p, a := range g.adapters {
		out[p] = a.capabilities()
	}
	return out
}

// DefaultSTT returns the provider used for transcription when a request
// carries no override.
func (g *Gateway) DefaultSTT() Provider { return g.defSTT }

// DefaultTTS returns the provider used for synthesis when a request
// carries no override.
func (g *Gateway) DefaultTTS() Provider { return g.defTTS }

// Transcribe converts one utterance of audio into text using the
// requested provider, or the deployment default. An unconfigured or
// unreachable provider yields ErrProviderUnavailable; the caller decides
// whether to fall back.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte, format media.Format, opts TranscribeOptions) (Transcription, error) {
	p := opts.Provider
	if p == "" {
		p = g.defSTT
	}

	a, ok := g.adapters[p]
	if !ok || a.transcriber == nil {
		return Transcription{}, ai.NewUnavailable(string(p), "transcribe", 0,
			fmt.Errorf("provider not configured for transcription"))
	}
	if !g.limiter.Allow("stt:"+string(p), g.limits[p], rateBurst) {
		return Transcription{}, ai.NewUnavailable(string(p), "transcribe", 0,
			fmt.Errorf("rate limit exceeded"))
	}

	start := time.Now()
	result, err := a.transcriber.Transcribe(ctx, audio, format, opts)
	if err != nil {
		return Transcription{}, err
	}

	g.logger.Debug("transcription complete",
		slog.String("provider", string(p)),
		slog.Int("audio_bytes", len(audio)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Synthesize converts text into a whole audio buffer.
func (g *Gateway) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (Synthesis, error) {
	a, p, err := g.synthesizerFor(opts.Provider)
	if err != nil {
		return Synthesis{}, err
	}
	if !g.limiter.Allow("tts:"+string(p), g.limits[p], rateBurst) {
		return Synthesis{}, ai.NewUnavailable(string(p), "synthesize", 0,
			fmt.Errorf("rate limit exceeded"))
	}

	start := time.Now()
	result, err := a.synthesizer.Synthesize(ctx, text, opts)
	if err != nil {
		return Synthesis{}, err
	}

	g.logger.Debug("synthesis complete",
		slog.String("provider", string(p)),
		slog.Int("text_len", len(text)),
		slog.Int("audio_bytes", len(result.Audio)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// SynthesizeStream converts text into audio delivered incrementally.
// The channel closes when synthesis completes or ctx is cancelled.
func (g *Gateway) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (<-chan media.Frame, error) {
	a, p, err := g.synthesizerFor(opts.Provider)
	if err != nil {
		return nil, err
	}
	if !g.limiter.Allow("tts:"+string(p), g.limits[p], rateBurst) {
		return nil, ai.NewUnavailable(string(p), "synthesize", 0,
			fmt.Errorf("rate limit exceeded"))
	}
	return a.synthesizer.Stream(ctx, text, opts)
}

func (g *Gateway) synthesizerFor(override Provider) (adapter, Provider, error) {
	p := override
	if p == "" {
		p = g.defTTS
	}
	a, ok := g.adapters[p]
	if !ok || a.synthesizer == nil {
		return adapter{}, p, ai.NewUnavailable(string(p), "synthesize", 0,
			fmt.Errorf("provider not configured for synthesis"))
	}
	return a, p, nil
}

const rateBurst = 10

// TranscribeWithFallback tries each provider in order until one succeeds
// or returns a non-unavailable error. Fallback stays caller-driven; this
// helper just packages the priority loop.
func (g *Gateway) TranscribeWithFallback(ctx context.Context, audio []byte, format media.Format, opts TranscribeOptions, order []Provider) (Transcription, error) {
	if len(order) == 0 {
		order = []Provider{opts.Provider}
	}
	var lastErr error
	for _, p := range order {
		o := opts
		o.Provider = p
		result, err := g.Transcribe(ctx, audio, format, o)
		if err == nil {
			return result, nil
		}
		if !ai.IsUnavailable(err) {
			return Transcription{}, err
		}
		g.logger.Warn("transcription provider unavailable, trying next",
			slog.String("provider", string(p)),
			slog.String("error", err.Error()))
		lastErr = err
	}
	return Transcription{}, lastErr
}

// SynthesizeWithFallback is the synthesis counterpart of
// TranscribeWithFallback.
func (g *Gateway) SynthesizeWithFallback(ctx context.Context, text string, opts SynthesizeOptions, order []Provider) (Synthesis, error) {
	if len(order) == 0 {
		order = []Provider{opts.Provider}
	}
	var lastErr error
	for _, p := range order {
		o := opts
		o.Provider = p
		result, err := g.Synthesize(ctx, text, o)
		if err == nil {
			return result, nil
		}
		if !ai.IsUnavailable(err) {
			return Synthesis{}, err
		}
		g.logger.Warn("synthesis provider unavailable, trying next",
			slog.String("provider", string(p)),
			slog.String("error", err.Error()))
		lastErr = err
	}
	return Synthesis{}, lastErr
}

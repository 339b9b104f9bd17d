// Package provider implements the speech provider gateway: a uniform
// transcribe/synthesize contract over the configured vendor adapters.
// Providers form a closed set selected by explicit dispatch; fallback
// across providers is caller-driven so cost and latency decisions stay
// with the caller.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// Provider identifies one vendor in the closed set.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderGroq       Provider = "groq"
	ProviderAzure      Provider = "azure"
	ProviderGoogle     Provider = "google"
	ProviderDeepgram   Provider = "deepgram"
	ProviderElevenLabs Provider = "elevenlabs"
)

// All lists every known provider in default priority order.
func All() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderDeepgram,
		ProviderGoogle,
		ProviderGroq,
		ProviderAzure,
		ProviderElevenLabs,
	}
}

// Valid reports whether p names a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderGroq, ProviderAzure, ProviderGoogle, ProviderDeepgram, ProviderElevenLabs:
		return true
	}
	return false
}

// Config holds per-provider credentials and capabilities. Immutable after
// construction; safe for concurrent read by many sessions.
type Config struct {
	APIKey   string
	Endpoint string // optional override (Azure resource URL, proxies)
	Model    string
	Language string
	Voice    string

	// RateLimit caps outbound requests per second; zero means unlimited.
	RateLimit float64
}

// TranscribeOptions override per-call behavior. Zero values fall back to
// the provider's configured defaults.
type TranscribeOptions struct {
	Provider Provider // explicit override, else gateway default
	Language string
	Model    string
}

// Transcription is the normalized STT result.
type Transcription struct {
	Text       string
	Confidence float64
	Duration   time.Duration
	Language   string
}

// SynthesizeOptions override per-call synthesis behavior.
type SynthesizeOptions struct {
	Provider Provider
	Voice    string
	Model    string
	Speed    float32
}

// Synthesis is the normalized TTS result for whole-buffer mode.
type Synthesis struct {
	Audio  []byte
	Format media.Format
}

// Transcriber converts one utterance of audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format media.Format, opts TranscribeOptions) (Transcription, error)
}

// Synthesizer converts text into audio. Stream delivers audio
// incrementally through the returned channel, which closes when synthesis
// completes or ctx is cancelled. Adapters without native streaming fall
// back to chunking the whole buffer.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (Synthesis, error)
	Stream(ctx context.Context, text string, opts SynthesizeOptions) (<-chan media.Frame, error)
}

// Capabilities describes what a configured adapter can do, surfaced by
// the CLI and used by the gateway to validate defaults.
type Capabilities struct {
	Transcribe bool
	Synthesize bool
	Streaming  bool
}

// adapter couples a provider identity with its implementations. An
// adapter may implement only one side of the contract (ElevenLabs has no
// STT, Groq has no TTS).
type adapter struct {
	provider    Provider
	transcriber Transcriber
	synthesizer Synthesizer
}

func (a adapter) capabilities() Capabilities {
	caps := Capabilities{
		Transcribe: a.transcriber != nil,
		Synthesize: a.synthesizer != nil,
	}
	caps.Streaming = caps.Synthesize
	return caps
}

// chunkFrames splits a whole synthesis buffer into frames of roughly
// chunkMs of audio each, used by adapters without native streaming.
func chunkFrames(ctx context.Context, audio []byte, format media.Format, chunkMs int) <-chan media.Frame {
	out := make(chan media.Frame, 8)
	go func() {
		defer close(out)
		chunkBytes := format.BytesPerSecond() * chunkMs / 1000
		if chunkBytes < 2 {
			chunkBytes = 2
		}
		// keep chunks sample-aligned
		chunkBytes -= chunkBytes % 2

		var seq uint64
		for off := 0; off < len(audio); off += chunkBytes {
			end := off + chunkBytes
			if end > len(audio) {
				end = len(audio)
			}
			frame := media.NewFrame(audio[off:end], format, seq)
			seq++
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func validateKey(p Provider, key string) error {
	if key == "" {
		return fmt.Errorf("%s: missing API key", p)
	}
	return nil
}

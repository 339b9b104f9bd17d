// Package fake provides deterministic provider implementations for tests.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
	"github.com/fk219/VoxiHub-sub002/pkg/provider"
)

// Transcriber returns a fixed transcript and confidence, optionally
// failing every call to exercise fallback paths.
type Transcriber struct {
	Transcript string
	Confidence float64
	Fail       bool

	mu    sync.Mutex
	calls int
}

func NewTranscriber(transcript string, confidence float64) *Transcriber {
	return &Transcriber{Transcript: transcript, Confidence: confidence}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, format media.Format, opts provider.TranscribeOptions) (provider.Transcription, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()

	if t.Fail {
		return provider.Transcription{}, ai.NewUnavailable("fake", "transcribe", 503, errors.New("simulated outage"))
	}
	if len(audio) == 0 || t.Transcript == "" {
		return provider.Transcription{}, ai.ErrTranscriptionEmpty
	}
	return provider.Transcription{
		Text:       t.Transcript,
		Confidence: t.Confidence,
		Language:   "en-US",
	}, nil
}

// Calls returns how many times Transcribe has been invoked.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Synthesizer emits a fixed amount of silence per character of input
// text, delivered as one buffer or as a sequence of 100 ms frames.
type Synthesizer struct {
	Fail bool

	// ChunkDelay slows streaming delivery so tests can cancel mid-flight.
	ChunkDelay time.Duration

	mu    sync.Mutex
	calls int
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts provider.SynthesizeOptions) (provider.Synthesis, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.Fail {
		return provider.Synthesis{}, ai.NewUnavailable("fake", "synthesize", 503, errors.New("simulated outage"))
	}

	format := media.Format16kHz16BitMono
	// 50 ms of audio per character keeps buffers small but proportional.
	audio := make([]byte, len(text)*format.BytesPerSecond()/20)
	return provider.Synthesis{Audio: audio, Format: format}, nil
}

func (s *Synthesizer) Stream(ctx context.Context, text string, opts provider.SynthesizeOptions) (<-chan media.Frame, error) {
	result, err := s.Synthesize(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	format := result.Format
	chunkBytes := format.BytesPerSecond() / 10 // 100 ms

	out := make(chan media.Frame)
	go func() {
		defer close(out)
		var seq uint64
		for off := 0; off < len(result.Audio); off += chunkBytes {
			end := off + chunkBytes
			if end > len(result.Audio) {
				end = len(result.Audio)
			}
			if s.ChunkDelay > 0 {
				select {
				case <-time.After(s.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- media.NewFrame(result.Audio[off:end], format, seq):
				seq++
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Calls returns how many times Synthesize has been invoked.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// openAISTT transcribes with the Whisper upload endpoint. The same
// adapter serves Groq and Azure since both expose the OpenAI surface;
// the provider name keeps error attribution honest.
type openAISTT struct {
	name     Provider
	client   *openai.Client
	model    string
	language string
}

// openAITTS synthesizes with the OpenAI speech endpoint, requesting raw
// PCM so no decode step is needed before delivery. Output is 24 kHz
// 16-bit mono.
type openAITTS struct {
	name   Provider
	client *openai.Client
	model  openai.SpeechModel
	voice  string
}

func newOpenAIAdapter(cfg Config) adapter {
	client := openai.NewClient(cfg.APIKey)
	return buildOpenAICompatible(ProviderOpenAI, client, cfg, true)
}

func newGroqAdapter(cfg Config) adapter {
	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = "https://api.groq.com/openai/v1"
	if cfg.Endpoint != "" {
		conf.BaseURL = cfg.Endpoint
	}
	client := openai.NewClientWithConfig(conf)
	// Groq exposes Whisper but no speech synthesis.
	return buildOpenAICompatible(ProviderGroq, client, cfg, false)
}

func newAzureAdapter(cfg Config) (adapter, error) {
	if cfg.Endpoint == "" {
		return adapter{}, fmt.Errorf("%w: azure requires a resource endpoint", ai.ErrConfigurationInvalid)
	}
	conf := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	client := openai.NewClientWithConfig(conf)
	return buildOpenAICompatible(ProviderAzure, client, cfg, true), nil
}

func buildOpenAICompatible(name Provider, client *openai.Client, cfg Config, withTTS bool) adapter {
	sttModel := cfg.Model
	if sttModel == "" {
		sttModel = openai.Whisper1
		if name == ProviderGroq {
			sttModel = "whisper-large-v3"
		}
	}

	a := adapter{
		provider: name,
		transcriber: &openAISTT{
			name:     name,
			client:   client,
			model:    sttModel,
			language: cfg.Language,
		},
	}
	if withTTS {
		voice := cfg.Voice
		if voice == "" {
			voice = "alloy"
		}
		a.synthesizer = &openAITTS{
			name:   name,
			client: client,
			model:  openai.TTSModel1HD,
			voice:  voice,
		}
	}
	return a
}

func (o *openAISTT) Transcribe(ctx context.Context, audio []byte, format media.Format, opts TranscribeOptions) (Transcription, error) {
	if len(audio) == 0 {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}
	language := o.language
	if opts.Language != "" {
		language = opts.Language
	}

	req := openai.AudioRequest{
		Model:    model,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Reader:   bytes.NewReader(media.EncodeWAV(audio, format)),
		FilePath: "utterance.wav", // upload endpoint requires a filename
	}

	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return Transcription{}, ai.NewUnavailable(string(o.name), "transcribe", 0, err)
	}
	if resp.Text == "" {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	// Whisper has no direct confidence; derive one from segment
	// no-speech probabilities when present.
	confidence := 0.95
	if len(resp.Segments) > 0 {
		total := 0.0
		for _, seg := range resp.Segments {
			total += 1.0 - seg.NoSpeechProb
		}
		confidence = total / float64(len(resp.Segments))
	}

	return Transcription{
		Text:       resp.Text,
		Confidence: confidence,
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
		Language:   resp.Language,
	}, nil
}

func (o *openAITTS) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (Synthesis, error) {
	voice := o.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	model := o.model
	if opts.Model != "" {
		model = openai.SpeechModel(opts.Model)
	}
	speed := float64(opts.Speed)
	if speed == 0 {
		speed = 1.0
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return Synthesis{}, ai.NewUnavailable(string(o.name), "synthesize", 0, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return Synthesis{}, ai.NewUnavailable(string(o.name), "synthesize", 0,
			fmt.Errorf("reading speech response: %w", err))
	}

	return Synthesis{Audio: audio, Format: media.Format24kHz16BitMono}, nil
}

// Stream synthesizes the whole buffer then delivers it in 100 ms chunks.
// The speech endpoint returns a single body, so chunking happens locally;
// cancellation still takes effect between chunks.
func (o *openAITTS) Stream(ctx context.Context, text string, opts SynthesizeOptions) (<-chan media.Frame, error) {
	result, err := o.Synthesize(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	return chunkFrames(ctx, result.Audio, result.Format, 100), nil
}

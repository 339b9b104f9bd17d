package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// googleAdapter maps the Cloud Speech-to-Text and Text-to-Speech REST
// surfaces. Audio travels base64-encoded inside JSON in both directions.
type googleAdapter struct {
	apiKey   string
	client   *http.Client
	sttURL   string
	ttsURL   string
	language string
	voice    string
}

func newGoogleAdapter(cfg Config) adapter {
	g := &googleAdapter{
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		sttURL:   "https://speech.googleapis.com/v1/speech:recognize",
		ttsURL:   "https://texttospeech.googleapis.com/v1/text:synthesize",
		language: cfg.Language,
		voice:    cfg.Voice,
	}
	if g.language == "" {
		g.language = "en-US"
	}
	if g.voice == "" {
		g.voice = "en-US-Neural2-C"
	}
	if cfg.Endpoint != "" {
		g.sttURL = cfg.Endpoint + "/v1/speech:recognize"
		g.ttsURL = cfg.Endpoint + "/v1/text:synthesize"
	}
	return adapter{provider: ProviderGoogle, transcriber: g, synthesizer: g}
}

type googleRecognizeRequest struct {
	Config googleRecognitionConfig `json:"config"`
	Audio  googleRecognitionAudio  `json:"audio"`
}

type googleRecognitionConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

type googleRecognitionAudio struct {
	Content string `json:"content"`
}

type googleRecognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (g *googleAdapter) Transcribe(ctx context.Context, audio []byte, format media.Format, opts TranscribeOptions) (Transcription, error) {
	if len(audio) == 0 {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	language := g.language
	if opts.Language != "" {
		language = opts.Language
	}

	body, err := json.Marshal(googleRecognizeRequest{
		Config: googleRecognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: format.SampleRate,
			LanguageCode:    language,
		},
		Audio: googleRecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(audio),
		},
	})
	if err != nil {
		return Transcription{}, fmt.Errorf("encoding recognize request: %w", err)
	}

	respBody, err := g.post(ctx, "transcribe", g.sttURL, body)
	if err != nil {
		return Transcription{}, err
	}

	var resp googleRecognizeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Transcription{}, ai.NewUnavailable(string(ProviderGoogle), "transcribe", 0,
			fmt.Errorf("decoding recognize response: %w", err))
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Alternatives) == 0 {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	alt := resp.Results[0].Alternatives[0]
	if alt.Transcript == "" {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	return Transcription{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Language:   language,
	}, nil
}

type googleSynthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding   string  `json:"audioEncoding"`
		SampleRateHertz int     `json:"sampleRateHertz"`
		SpeakingRate    float64 `json:"speakingRate,omitempty"`
	} `json:"audioConfig"`
}

type googleSynthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

func (g *googleAdapter) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (Synthesis, error) {
	voice := g.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}

	var req googleSynthesizeRequest
	req.Input.Text = text
	req.Voice.LanguageCode = g.language
	req.Voice.Name = voice
	req.AudioConfig.AudioEncoding = "LINEAR16"
	req.AudioConfig.SampleRateHertz = media.Format16kHz16BitMono.SampleRate
	if opts.Speed != 0 {
		req.AudioConfig.SpeakingRate = float64(opts.Speed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Synthesis{}, fmt.Errorf("encoding synthesize request: %w", err)
	}

	respBody, err := g.post(ctx, "synthesize", g.ttsURL, body)
	if err != nil {
		return Synthesis{}, err
	}

	var resp googleSynthesizeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Synthesis{}, ai.NewUnavailable(string(ProviderGoogle), "synthesize", 0,
			fmt.Errorf("decoding synthesize response: %w", err))
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return Synthesis{}, ai.NewUnavailable(string(ProviderGoogle), "synthesize", 0,
			fmt.Errorf("decoding audio content: %w", err))
	}

	// LINEAR16 responses arrive as WAV; strip the 44-byte header.
	if len(audio) > 44 && bytes.HasPrefix(audio, []byte("RIFF")) {
		audio = audio[44:]
	}

	return Synthesis{Audio: audio, Format: media.Format16kHz16BitMono}, nil
}

func (g *googleAdapter) Stream(ctx context.Context, text string, opts SynthesizeOptions) (<-chan media.Frame, error) {
	result, err := g.Synthesize(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	return chunkFrames(ctx, result.Audio, result.Format, 100), nil
}

func (g *googleAdapter) post(ctx context.Context, operation, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"?key="+g.apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, ai.NewUnavailable(string(ProviderGoogle), operation, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ai.NewUnavailable(string(ProviderGoogle), operation, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ai.NewUnavailable(string(ProviderGoogle), operation, resp.StatusCode,
			fmt.Errorf("%s", string(respBody)))
	}
	return respBody, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// deepgramAdapter maps the Deepgram pre-recorded listen endpoint and the
// speak endpoint. Raw PCM goes up with encoding/sample_rate query
// parameters; nova models return per-alternative confidence directly.
type deepgramAdapter struct {
	apiKey   string
	client   *http.Client
	baseURL  string
	model    string
	language string
	voice    string
}

func newDeepgramAdapter(cfg Config) adapter {
	d := &deepgramAdapter{
		apiKey:   cfg.APIKey,
		client:   newPooledHTTPClient(),
		baseURL:  "https://api.deepgram.com",
		model:    cfg.Model,
		language: cfg.Language,
		voice:    cfg.Voice,
	}
	if cfg.Endpoint != "" {
		d.baseURL = cfg.Endpoint
	}
	if d.model == "" {
		d.model = "nova-2"
	}
	if d.language == "" {
		d.language = "en"
	}
	if d.voice == "" {
		d.voice = "aura-asteria-en"
	}
	return adapter{provider: ProviderDeepgram, transcriber: d, synthesizer: d}
}

// newPooledHTTPClient keeps connections warm across turns; every turn in
// a long call hits the same host.
func newPooledHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
}

type deepgramListenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
}

func (d *deepgramAdapter) Transcribe(ctx context.Context, audio []byte, format media.Format, opts TranscribeOptions) (Transcription, error) {
	if len(audio) == 0 {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	model := d.model
	if opts.Model != "" {
		model = opts.Model
	}
	language := d.language
	if opts.Language != "" {
		language = opts.Language
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", format.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", format.Channels))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/v1/listen?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return Transcription{}, fmt.Errorf("building listen request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/raw")

	respBody, status, err := d.do(req)
	if err != nil {
		return Transcription{}, ai.NewUnavailable(string(ProviderDeepgram), "transcribe", status, err)
	}

	var resp deepgramListenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Transcription{}, ai.NewUnavailable(string(ProviderDeepgram), "transcribe", 0,
			fmt.Errorf("decoding listen response: %w", err))
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	if alt.Transcript == "" {
		return Transcription{}, ai.ErrTranscriptionEmpty
	}

	return Transcription{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Duration:   time.Duration(resp.Metadata.Duration * float64(time.Second)),
		Language:   language,
	}, nil
}

func (d *deepgramAdapter) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (Synthesis, error) {
	voice := d.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}

	q := url.Values{}
	q.Set("model", voice)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", media.Format24kHz16BitMono.SampleRate))

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Synthesis{}, fmt.Errorf("encoding speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/v1/speak?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return Synthesis{}, fmt.Errorf("building speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := d.do(req)
	if err != nil {
		return Synthesis{}, ai.NewUnavailable(string(ProviderDeepgram), "synthesize", status, err)
	}

	return Synthesis{Audio: respBody, Format: media.Format24kHz16BitMono}, nil
}

func (d *deepgramAdapter) Stream(ctx context.Context, text string, opts SynthesizeOptions) (<-chan media.Frame, error) {
	result, err := d.Synthesize(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	return chunkFrames(ctx, result.Audio, result.Format, 100), nil
}

func (d *deepgramAdapter) do(req *http.Request) ([]byte, int, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("%s", string(body))
	}
	return body, resp.StatusCode, nil
}

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

	"github.com/gorilla/websocket"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// elevenLabsAdapter synthesizes through the ElevenLabs REST endpoint in
// whole-buffer mode and the stream-input websocket in streaming mode.
// ElevenLabs has no transcription surface.
type elevenLabsAdapter struct {
	apiKey  string
	client  *http.Client
	baseURL string
	wsURL   string
	voice   string
	model   string
}

func newElevenLabsAdapter(cfg Config) adapter {
	e := &elevenLabsAdapter{
		apiKey:  cfg.APIKey,
		client:  newPooledHTTPClient(),
		baseURL: "https://api.elevenlabs.io",
		wsURL:   "wss://api.elevenlabs.io",
		voice:   cfg.Voice,
		model:   cfg.Model,
	}
	if cfg.Endpoint != "" {
		e.baseURL = cfg.Endpoint
	}
	if e.voice == "" {
		e.voice = "21m00Tcm4TlvDq8ikWAM" // Rachel
	}
	if e.model == "" {
		e.model = "eleven_turbo_v2"
	}
	return adapter{provider: ProviderElevenLabs, synthesizer: e}
}

const elevenLabsOutputFormat = "pcm_16000"

func (e *elevenLabsAdapter) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (Synthesis, error) {
	voice := e.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	model := e.model
	if opts.Model != "" {
		model = opts.Model
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": model,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return Synthesis{}, fmt.Errorf("encoding synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", e.baseURL, voice, elevenLabsOutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Synthesis{}, fmt.Errorf("building synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Synthesis{}, ai.NewUnavailable(string(ProviderElevenLabs), "synthesize", 0, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return Synthesis{}, ai.NewUnavailable(string(ProviderElevenLabs), "synthesize", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Synthesis{}, ai.NewUnavailable(string(ProviderElevenLabs), "synthesize", resp.StatusCode,
			fmt.Errorf("%s", string(audio)))
	}

	return Synthesis{Audio: audio, Format: media.Format16kHz16BitMono}, nil
}

type elevenLabsStreamMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
}

// Stream opens the stream-input websocket, pushes the text, and relays
// decoded audio chunks until the service marks the stream final. The
// reader goroutine exits on ctx cancellation, which also tears the
// socket down.
func (e *elevenLabsAdapter) Stream(ctx context.Context, text string, opts SynthesizeOptions) (<-chan media.Frame, error) {
	voice := e.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	model := e.model
	if opts.Model != "" {
		model = opts.Model
	}

	wsURL := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		e.wsURL, voice, model, elevenLabsOutputFormat)

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, ai.NewUnavailable(string(ProviderElevenLabs), "synthesize", 0, err)
	}

	// Prime the stream, push the text, then signal end of input.
	messages := []map[string]any{
		{"text": " ", "voice_settings": map[string]any{"stability": 0.5, "similarity_boost": 0.75}},
		{"text": text, "try_trigger_generation": true},
		{"text": ""},
	}
	for _, msg := range messages {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, ai.NewUnavailable(string(ProviderElevenLabs), "synthesize", 0, err)
		}
	}

	out := make(chan media.Frame, 8)
	go func() {
		defer close(out)
		defer conn.Close()

		// Close the socket when the caller cancels so ReadMessage unblocks.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		var seq uint64
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg elevenLabsStreamMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Audio != "" {
				audio, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err != nil {
					continue
				}
				frame := media.NewFrame(audio, media.Format16kHz16BitMono, seq)
				seq++
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
			if msg.IsFinal {
				return
			}
		}
	}()

	return out, nil
}

package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
	"github.com/fk219/VoxiHub-sub002/pkg/provider"
	"github.com/fk219/VoxiHub-sub002/pkg/provider/fake"
)

func testGateway(sets map[provider.Provider]provider.AdapterSet) *provider.Gateway {
	return provider.NewGatewayFromAdapters(sets, "", "", nil)
}

func TestGateway_ExplicitProviderDispatch(t *testing.T) {
	is := is.New(t)

	deepgram := fake.NewTranscriber("from deepgram", 0.9)
	openai := fake.NewTranscriber("from openai", 0.9)
	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderDeepgram: {Transcriber: deepgram},
		provider.ProviderOpenAI:   {Transcriber: openai},
	})
	defer gw.Close()

	result, err := gw.Transcribe(context.Background(), make([]byte, 640), media.Format16kHz16BitMono,
		provider.TranscribeOptions{Provider: provider.ProviderDeepgram})
	is.NoErr(err)
	is.Equal(result.Text, "from deepgram") // explicit override is honored
	is.Equal(openai.Calls(), 0)
}

func TestGateway_UnknownProviderRejected(t *testing.T) {
	is := is.New(t)

	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderOpenAI: {Transcriber: fake.NewTranscriber("x", 0.9)},
	})
	defer gw.Close()

	_, err := gw.Transcribe(context.Background(), make([]byte, 640), media.Format16kHz16BitMono,
		provider.TranscribeOptions{Provider: provider.ProviderDeepgram})
	is.True(ai.IsUnavailable(err)) // unconfigured provider reads as unavailable
}

func TestGateway_FallbackOnTransientFailure(t *testing.T) {
	is := is.New(t)

	broken := fake.NewTranscriber("never", 0.9)
	broken.Fail = true
	working := fake.NewTranscriber("recovered text", 0.85)
	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderDeepgram: {Transcriber: broken},
		provider.ProviderOpenAI:   {Transcriber: working},
	})
	defer gw.Close()

	result, err := gw.TranscribeWithFallback(context.Background(), make([]byte, 640), media.Format16kHz16BitMono,
		provider.TranscribeOptions{},
		[]provider.Provider{provider.ProviderDeepgram, provider.ProviderOpenAI})
	is.NoErr(err)
	is.Equal(result.Text, "recovered text") // second provider served the call
	is.Equal(broken.Calls(), 1)
	is.Equal(working.Calls(), 1)
}

func TestGateway_FallbackStopsOnNonTransientError(t *testing.T) {
	is := is.New(t)

	empty := fake.NewTranscriber("", 0) // returns ErrTranscriptionEmpty
	next := fake.NewTranscriber("should not run", 0.9)
	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderDeepgram: {Transcriber: empty},
		provider.ProviderOpenAI:   {Transcriber: next},
	})
	defer gw.Close()

	_, err := gw.TranscribeWithFallback(context.Background(), make([]byte, 640), media.Format16kHz16BitMono,
		provider.TranscribeOptions{},
		[]provider.Provider{provider.ProviderDeepgram, provider.ProviderOpenAI})

	is.True(errors.Is(err, ai.ErrTranscriptionEmpty)) // the real error surfaces
	is.Equal(next.Calls(), 0)                         // empty audio is not a vendor outage
}

func TestGateway_FallbackExhausted(t *testing.T) {
	is := is.New(t)

	a := fake.NewTranscriber("x", 0.9)
	a.Fail = true
	b := fake.NewTranscriber("y", 0.9)
	b.Fail = true
	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderDeepgram: {Transcriber: a},
		provider.ProviderOpenAI:   {Transcriber: b},
	})
	defer gw.Close()

	_, err := gw.TranscribeWithFallback(context.Background(), make([]byte, 640), media.Format16kHz16BitMono,
		provider.TranscribeOptions{},
		[]provider.Provider{provider.ProviderDeepgram, provider.ProviderOpenAI})

	is.True(ai.IsUnavailable(err)) // every provider down surfaces the last failure
	is.Equal(a.Calls(), 1)
	is.Equal(b.Calls(), 1)
}

func TestGateway_SynthesizeFallback(t *testing.T) {
	is := is.New(t)

	broken := fake.NewSynthesizer()
	broken.Fail = true
	working := fake.NewSynthesizer()
	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderElevenLabs: {Synthesizer: broken},
		provider.ProviderOpenAI:     {Synthesizer: working},
	})
	defer gw.Close()

	result, err := gw.SynthesizeWithFallback(context.Background(), "hello",
		provider.SynthesizeOptions{},
		[]provider.Provider{provider.ProviderElevenLabs, provider.ProviderOpenAI})
	is.NoErr(err)
	is.True(len(result.Audio) > 0)
	is.Equal(working.Calls(), 1)
}

func TestGateway_DefaultsPickCapableProviders(t *testing.T) {
	is := is.New(t)

	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderDeepgram:   {Transcriber: fake.NewTranscriber("x", 0.9)},
		provider.ProviderElevenLabs: {Synthesizer: fake.NewSynthesizer()},
	})
	defer gw.Close()

	is.Equal(gw.DefaultSTT(), provider.ProviderDeepgram)   // only STT-capable provider
	is.Equal(gw.DefaultTTS(), provider.ProviderElevenLabs) // only TTS-capable provider

	caps := gw.Available()
	is.True(caps[provider.ProviderDeepgram].Transcribe)
	is.True(!caps[provider.ProviderDeepgram].Synthesize)
	is.True(caps[provider.ProviderElevenLabs].Synthesize)
}

func TestGateway_StreamDeliversFrames(t *testing.T) {
	is := is.New(t)

	gw := testGateway(map[provider.Provider]provider.AdapterSet{
		provider.ProviderOpenAI: {Synthesizer: fake.NewSynthesizer()},
	})
	defer gw.Close()

	frames, err := gw.SynthesizeStream(context.Background(), "stream me", provider.SynthesizeOptions{})
	is.NoErr(err)

	var total int
	for frame := range frames {
		total += len(frame.Data)
	}
	is.True(total > 0) // streamed audio arrives in frames
}

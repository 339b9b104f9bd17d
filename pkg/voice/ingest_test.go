package voice

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
	"github.com/fk219/VoxiHub-sub002/pkg/provider"
)

// tone generates n bytes of loud 16-bit PCM that passes the VAD.
func tone(n int) []byte {
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		v := int16(0.9 * math.MaxInt16 * math.Sin(2*math.Pi*float64(i)/64))
		binary.LittleEndian.PutUint16(out[i:], uint16(v))
	}
	return out
}

type stubSTT struct {
	mu    sync.Mutex
	calls [][]byte
	text  string
	err   error
}

func (s *stubSTT) Transcribe(ctx context.Context, audio []byte, format media.Format, opts provider.TranscribeOptions) (provider.Transcription, error) {
	s.mu.Lock()
	s.calls = append(s.calls, audio)
	s.mu.Unlock()
	if s.err != nil {
		return provider.Transcription{}, s.err
	}
	return provider.Transcription{Text: s.text, Confidence: 0.9}, nil
}

func (s *stubSTT) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type collectSink struct {
	mu     sync.Mutex
	chunks []TranscriptionChunk
	ended  bool
}

func (c *collectSink) OnTranscription(chunk TranscriptionChunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
}

func (c *collectSink) OnEnd() {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
}

func (c *collectSink) hasEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *collectSink) snapshot() []TranscriptionChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscriptionChunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestIngest_SilenceEmitsExactlyOneFinal(t *testing.T) {
	is := is.New(t)

	stt := &stubSTT{text: "hello there"}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{
		VADEnabled:     true,
		SilenceTimeout: 50 * time.Millisecond,
	}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 1))
	p.Push(media.NewFrame(make([]byte, 640), media.Format16kHz16BitMono, 2))

	waitFor(t, func() bool { return len(sink.snapshot()) > 0 })
	time.Sleep(100 * time.Millisecond) // the timer must not fire again

	chunks := sink.snapshot()
	is.Equal(len(chunks), 1)   // exactly one final chunk per utterance
	is.True(chunks[0].IsFinal) // silence timeout produces a final
	is.Equal(chunks[0].Text, "hello there")
	is.Equal(p.BufferedBytes(), 0) // buffer cleared after finalize
}

func TestIngest_SpeechResetsSilenceTimer(t *testing.T) {
	is := is.New(t)

	stt := &stubSTT{text: "ok"}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{
		VADEnabled:     true,
		SilenceTimeout: 80 * time.Millisecond,
	}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 1))
	p.Push(media.NewFrame(make([]byte, 640), media.Format16kHz16BitMono, 2))
	time.Sleep(40 * time.Millisecond)
	// Speech before the timeout elapses keeps the utterance open.
	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 3))
	time.Sleep(40 * time.Millisecond)

	is.Equal(len(sink.snapshot()), 0) // timer was reset, nothing finalized yet
}

func TestIngest_PartialRetainsTrailingContext(t *testing.T) {
	is := is.New(t)

	format := media.Format16kHz16BitMono
	stt := &stubSTT{text: "partial words"}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{
		VADEnabled:      true,
		PartialBytes:    4 * 640,
		TrailingContext: 20 * time.Millisecond,
		SilenceTimeout:  time.Hour,
	}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	for i := 1; i <= 4; i++ {
		p.Push(media.NewFrame(tone(640), format, uint64(i)))
	}

	waitFor(t, func() bool { return len(sink.snapshot()) > 0 })
	chunks := sink.snapshot()
	is.True(!chunks[0].IsFinal) // mid-utterance result is a partial

	// 20ms at 16kHz 16-bit is 640 bytes of retained context.
	is.Equal(p.BufferedBytes(), 640)
}

func TestIngest_EmptyTranscriptionTreatedAsSilence(t *testing.T) {
	is := is.New(t)

	stt := &stubSTT{err: ai.ErrTranscriptionEmpty}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{
		VADEnabled:     true,
		SilenceTimeout: 50 * time.Millisecond,
	}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 1))
	p.Push(media.NewFrame(make([]byte, 640), media.Format16kHz16BitMono, 2))

	waitFor(t, func() bool { return stt.callCount() > 0 })
	time.Sleep(50 * time.Millisecond)

	is.Equal(len(sink.snapshot()), 0) // no chunk for an empty transcription
}

func TestIngest_OutOfOrderFramesDropped(t *testing.T) {
	is := is.New(t)

	stt := &stubSTT{text: "x"}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{SilenceTimeout: time.Hour}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 5))
	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 3)) // stale, dropped
	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 5)) // duplicate, dropped

	is.Equal(p.BufferedBytes(), 640)
}

func TestIngest_FinalizeFlushesAndSignalsEnd(t *testing.T) {
	is := is.New(t)

	stt := &stubSTT{text: "goodbye"}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{SilenceTimeout: time.Hour}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, 1))
	p.Finalize()

	waitFor(t, func() bool { return sink.hasEnded() })
	chunks := sink.snapshot()
	is.Equal(len(chunks), 1)
	is.True(chunks[0].IsFinal) // flush delivers before the end signal

	// Finalize is idempotent.
	p.Finalize()
}

// blockingSTT holds every Transcribe call until released.
type blockingSTT struct {
	stubSTT
	release chan struct{}
}

func (b *blockingSTT) Transcribe(ctx context.Context, audio []byte, format media.Format, opts provider.TranscribeOptions) (provider.Transcription, error) {
	<-b.release
	return b.stubSTT.Transcribe(ctx, audio, format, opts)
}

func TestIngest_FinalizeFlushesAudioBufferedDuringInFlightPartial(t *testing.T) {
	is := is.New(t)

	format := media.Format16kHz16BitMono
	stt := &blockingSTT{stubSTT: stubSTT{text: "words"}, release: make(chan struct{})}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{
		VADEnabled:     true,
		PartialBytes:   2 * 640,
		SilenceTimeout: time.Hour,
	}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	// Enough speech to start a partial transcription, which blocks.
	p.Push(media.NewFrame(tone(640), format, 1))
	p.Push(media.NewFrame(tone(640), format, 2))

	// More speech arrives while the partial is in flight, then the call
	// ends before the partial returns.
	p.Push(media.NewFrame(tone(640), format, 3))
	p.Finalize()

	close(stt.release)
	waitFor(t, func() bool { return sink.hasEnded() })

	chunks := sink.snapshot()
	var sawFinal bool
	for _, c := range chunks {
		if c.IsFinal {
			sawFinal = true
		}
	}
	is.True(sawFinal)              // buffered audio must be flushed as a final chunk
	is.Equal(stt.callCount(), 2)   // the deferred flush re-enters transcription
	is.True(!chunks[0].IsFinal)    // the in-flight partial still delivers first
	is.Equal(p.BufferedBytes(), 0) // nothing left behind after the flush
}

func TestIngest_FinalizeWhileInFlightWithNoNewAudioStillEnds(t *testing.T) {
	_ = is.New(t)

	format := media.Format16kHz16BitMono
	stt := &blockingSTT{stubSTT: stubSTT{text: "words"}, release: make(chan struct{})}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{
		VADEnabled:     true,
		PartialBytes:   2 * 640,
		SilenceTimeout: time.Hour,
	}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	p.Push(media.NewFrame(tone(640), format, 1))
	p.Push(media.NewFrame(tone(640), format, 2))
	p.Finalize()

	close(stt.release)
	waitFor(t, func() bool { return sink.hasEnded() })
}

func TestIngest_MaxBufferFinalizesEarly(t *testing.T) {
	is := is.New(t)

	stt := &stubSTT{text: "long speech"}
	sink := &collectSink{}
	p := NewIngestPipeline(IngestConfig{
		VADEnabled:     true,
		PartialBytes:   1 << 20,
		MaxBufferBytes: 3 * 640,
		SilenceTimeout: time.Hour,
	}, stt, provider.TranscribeOptions{}, sink, nil)
	defer p.Close()

	for i := 1; i <= 3; i++ {
		p.Push(media.NewFrame(tone(640), media.Format16kHz16BitMono, uint64(i)))
	}

	waitFor(t, func() bool { return len(sink.snapshot()) > 0 })
	is.True(sink.snapshot()[0].IsFinal) // buffer cap closes the utterance
}

package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/ai"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
	"github.com/fk219/VoxiHub-sub002/pkg/provider"
)

// IngestConfig tunes the per-session audio ingest pipeline. Zero values
// take the documented defaults.
type IngestConfig struct {
	Format media.Format

	// VADEnabled gates energy-based speech classification. When off,
	// every frame counts as speech and only explicit Finalize ends an
	// utterance.
	VADEnabled bool

	// VADThreshold is the normalized RMS energy cutoff (0-1).
	VADThreshold float64

	// SilenceTimeout is how long silence must persist before the
	// buffered utterance is finalized.
	SilenceTimeout time.Duration

	// PartialBytes triggers a non-final transcription once this much
	// audio is buffered while the user keeps speaking.
	PartialBytes int

	// TrailingContext is how much audio is retained after a partial
	// transcription so the next one keeps acoustic context. Heuristic;
	// boundary clipping is tolerated.
	TrailingContext time.Duration

	// MaxBufferBytes bounds buffer growth: when reached the utterance
	// is finalized early rather than growing without limit.
	MaxBufferBytes int
}

func (c *IngestConfig) applyDefaults() {
	if c.Format.SampleRate == 0 {
		c.Format = media.Format16kHz16BitMono
	}
	if c.VADThreshold == 0 {
		c.VADThreshold = 0.5
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = 1500 * time.Millisecond
	}
	if c.PartialBytes == 0 {
		c.PartialBytes = c.Format.BytesPerSecond() // 1 second of audio
	}
	if c.TrailingContext == 0 {
		c.TrailingContext = 500 * time.Millisecond
	}
	if c.MaxBufferBytes == 0 {
		c.MaxBufferBytes = 30 * c.Format.BytesPerSecond()
	}
}

// Transcriber is the slice of the provider gateway the pipeline needs.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format media.Format, opts provider.TranscribeOptions) (provider.Transcription, error)
}

// IngestPipeline accumulates inbound audio for one session, segments it
// into utterances with energy VAD and a silence timer, and emits
// transcription chunks to its sink. At most one transcription call is in
// flight at a time; frames arriving mid-transcription keep buffering.
type IngestPipeline struct {
	cfg    IngestConfig
	stt    Transcriber
	opts   provider.TranscribeOptions
	sink   TranscriptionSink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	buf           []byte
	lastSeq       uint64
	haveSeq       bool
	silenceTimer  *time.Timer
	inFlight      bool
	pendingFinal  bool
	pendingEnd    bool
	finalized     bool
	utteranceOpen bool
}

// NewIngestPipeline builds a pipeline bound to one session's transcriber
// options and sink.
func NewIngestPipeline(cfg IngestConfig, stt Transcriber, opts provider.TranscribeOptions, sink TranscriptionSink, logger *slog.Logger) *IngestPipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestPipeline{
		cfg:    cfg,
		stt:    stt,
		opts:   opts,
		sink:   sink,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Push ingests one frame. Ownership of the frame transfers to the
// pipeline. Out-of-order frames (sequence not strictly increasing) are
// dropped.
func (p *IngestPipeline) Push(frame media.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return
	}
	if p.haveSeq && frame.Seq <= p.lastSeq {
		p.logger.Debug("dropping out-of-order frame",
			slog.Uint64("seq", frame.Seq),
			slog.Uint64("last_seq", p.lastSeq))
		return
	}
	p.lastSeq = frame.Seq
	p.haveSeq = true

	p.buf = append(p.buf, frame.Data...)
	p.utteranceOpen = true

	// A running silence timer is always superseded by a new frame.
	p.stopSilenceTimerLocked()

	speech := true
	if p.cfg.VADEnabled {
		speech = media.IsSpeech(frame.Data, p.cfg.VADThreshold)
	}

	if speech {
		if len(p.buf) >= p.cfg.MaxBufferBytes {
			// Bounded buffer: close the utterance rather than grow.
			p.triggerLocked(true)
			return
		}
		if len(p.buf) >= p.cfg.PartialBytes {
			p.triggerLocked(false)
		}
		return
	}

	p.silenceTimer = time.AfterFunc(p.cfg.SilenceTimeout, p.onSilenceTimeout)
}

// Finalize flushes any buffered audio as a final chunk and emits the end
// signal. Used at explicit end-of-call; idempotent. The end signal waits
// for the flushed final to deliver, including audio that buffered while
// a transcription was in flight.
func (p *IngestPipeline) Finalize() {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return
	}
	p.finalized = true
	p.stopSilenceTimerLocked()

	if p.inFlight {
		p.pendingFinal = true
		p.pendingEnd = true
		p.mu.Unlock()
		return
	}
	if len(p.buf) > 0 {
		p.pendingEnd = true
		p.triggerLocked(true)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.sink.OnEnd()
}

// Close tears the pipeline down without flushing.
func (p *IngestPipeline) Close() {
	p.mu.Lock()
	p.finalized = true
	p.pendingFinal = false
	p.pendingEnd = false
	p.stopSilenceTimerLocked()
	p.buf = nil
	p.mu.Unlock()
	p.cancel()
}

// BufferedBytes reports current buffer occupancy.
func (p *IngestPipeline) BufferedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *IngestPipeline) onSilenceTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized || !p.utteranceOpen {
		return
	}
	p.triggerLocked(true)
}

// triggerLocked starts a transcription of the current buffer. Final
// triggers clear the buffer; partial triggers retain the trailing
// context window. If a call is already in flight the trigger is deferred
// (finals) or skipped (partials) until it completes.
func (p *IngestPipeline) triggerLocked(isFinal bool) {
	if p.inFlight {
		if isFinal {
			p.pendingFinal = true
		}
		return
	}
	if len(p.buf) == 0 {
		if isFinal {
			p.utteranceOpen = false
		}
		return
	}

	snapshot := make([]byte, len(p.buf))
	copy(snapshot, p.buf)

	if isFinal {
		p.buf = p.buf[:0]
		p.utteranceOpen = false
	} else {
		tail := int(p.cfg.TrailingContext.Seconds() * float64(p.cfg.Format.BytesPerSecond()))
		tail -= tail % 2
		if tail < len(p.buf) {
			p.buf = append(p.buf[:0], p.buf[len(p.buf)-tail:]...)
		}
	}

	p.inFlight = true
	go p.transcribe(snapshot, isFinal)
}

func (p *IngestPipeline) transcribe(audio []byte, isFinal bool) {
	result, err := p.stt.Transcribe(p.ctx, audio, p.cfg.Format, p.opts)

	var chunk *TranscriptionChunk
	switch {
	case err == nil && result.Text != "":
		chunk = &TranscriptionChunk{
			Text:       result.Text,
			IsFinal:    isFinal,
			Confidence: result.Confidence,
			Timestamp:  time.Now(),
		}
	case err == nil || ai.IsEmptyTranscription(err):
		// No usable text. Treated as silence, not an error.
	default:
		p.logger.Warn("transcription failed",
			slog.Bool("final", isFinal),
			slog.String("error", err.Error()))
	}

	if chunk != nil {
		p.sink.OnTranscription(*chunk)
	}

	p.mu.Lock()
	p.inFlight = false
	redo := p.pendingFinal
	p.pendingFinal = false
	if redo && len(p.buf) > 0 {
		p.triggerLocked(true)
	}
	end := p.pendingEnd && !p.inFlight
	if end {
		p.pendingEnd = false
	}
	p.mu.Unlock()

	if end {
		p.sink.OnEnd()
	}
}

func (p *IngestPipeline) stopSilenceTimerLocked() {
	if p.silenceTimer != nil {
		p.silenceTimer.Stop()
		p.silenceTimer = nil
	}
}

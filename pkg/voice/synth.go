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

// SpeechSynthesizer is the slice of the provider gateway the synthesis
// pipeline needs.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, opts provider.SynthesizeOptions) (provider.Synthesis, error)
	SynthesizeStream(ctx context.Context, text string, opts provider.SynthesizeOptions) (<-chan media.Frame, error)
}

// AudioSink receives synthesized audio for playback. Implemented by the
// session transports.
type AudioSink interface {
	SendAudio(frame media.Frame) error
}

// SpeakingListener observes agent speaking state transitions. Satisfied
// by *InterruptController.
type SpeakingListener interface {
	AgentSpeakingStarted()
	AgentSpeakingStopped()
}

// SynthesisJob tracks one utterance being spoken. Cancellation is
// idempotent; Wait blocks until playback ends for any reason.
type SynthesisJob struct {
	Text      string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	err       error
}

// Cancel stops the job. Safe to call any number of times, including
// after the job already completed.
func (j *SynthesisJob) Cancel() {
	j.once.Do(func() {
		j.mu.Lock()
		j.cancelled = true
		j.mu.Unlock()
		j.cancel()
	})
}

// Cancelled reports whether the job was cut off before finishing.
func (j *SynthesisJob) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Wait blocks until the job finishes, returning nil on natural
// completion, ErrSynthesisCancelled on cancellation, or the synthesis
// failure otherwise.
func (j *SynthesisJob) Wait() error {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return ai.ErrSynthesisCancelled
	}
	return j.err
}

// Done exposes the completion channel for select loops.
func (j *SynthesisJob) Done() <-chan struct{} { return j.done }

func (j *SynthesisJob) fail(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

// SynthConfig tunes the synthesis pipeline.
type SynthConfig struct {
	// Streaming selects incremental provider delivery; off means the
	// whole utterance is synthesized before the first frame plays.
	Streaming bool

	// PacingInterval throttles frame writes to roughly real time so a
	// barge-in can land mid-utterance. Zero disables pacing.
	PacingInterval time.Duration
}

// SynthesisPipeline converts agent text into audio on the session's
// transport. At most one job is active; starting a new one cancels its
// predecessor (last writer wins).
type SynthesisPipeline struct {
	cfg      SynthConfig
	tts      SpeechSynthesizer
	opts     provider.SynthesizeOptions
	sink     AudioSink
	listener SpeakingListener
	logger   *slog.Logger

	mu     sync.Mutex
	active *SynthesisJob
	closed bool
}

// NewSynthesisPipeline builds a pipeline for one session. listener may
// be nil.
func NewSynthesisPipeline(cfg SynthConfig, tts SpeechSynthesizer, opts provider.SynthesizeOptions, sink AudioSink, listener SpeakingListener, logger *slog.Logger) *SynthesisPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &SynthesisPipeline{
		cfg:      cfg,
		tts:      tts,
		opts:     opts,
		sink:     sink,
		listener: listener,
		logger:   logger,
	}
}

// SetListener replaces the speaking-state listener. Call before the
// first Speak.
func (p *SynthesisPipeline) SetListener(l SpeakingListener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// Speak starts speaking text, cancelling any job already in progress.
// The returned job can be waited on or cancelled by the caller.
func (p *SynthesisPipeline) Speak(ctx context.Context, text string) *SynthesisJob {
	jobCtx, jobCancel := context.WithCancel(ctx)
	job := &SynthesisJob{
		Text:      text,
		StartedAt: time.Now(),
		ctx:       jobCtx,
		cancel:    jobCancel,
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		job.fail(ai.ErrSessionSetupFailed)
		job.cancel()
		close(job.done)
		return job
	}
	prev := p.active
	p.active = job
	p.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		<-prev.done
	}

	go p.run(job)
	return job
}

// CancelActive cancels the in-progress job, if any. No-op otherwise.
func (p *SynthesisPipeline) CancelActive() {
	p.mu.Lock()
	job := p.active
	p.mu.Unlock()
	if job != nil {
		job.Cancel()
	}
}

// Active returns the current job, or nil when the agent is silent.
func (p *SynthesisPipeline) Active() *SynthesisJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Close cancels any active job and rejects future Speak calls.
func (p *SynthesisPipeline) Close() {
	p.mu.Lock()
	p.closed = true
	job := p.active
	p.mu.Unlock()
	if job != nil {
		job.Cancel()
		<-job.done
	}
}

func (p *SynthesisPipeline) run(job *SynthesisJob) {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.active == job {
			p.active = nil
		}
		p.mu.Unlock()
		if listener != nil {
			listener.AgentSpeakingStopped()
		}
		close(job.done)
	}()

	if listener != nil {
		listener.AgentSpeakingStarted()
	}

	var err error
	if p.cfg.Streaming {
		err = p.runStreaming(job)
	} else {
		err = p.runBuffered(job)
	}

	switch {
	case err == nil:
	case job.ctx.Err() != nil:
		// Cancellation surfaced through the provider or sink error.
		job.Cancel()
	default:
		job.fail(err)
		p.logger.Warn("synthesis failed", slog.String("error", err.Error()))
	}
}

func (p *SynthesisPipeline) runStreaming(job *SynthesisJob) error {
	frames, err := p.tts.SynthesizeStream(job.ctx, job.Text, p.opts)
	if err != nil {
		return err
	}
	for {
		select {
		case <-job.ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := p.sink.SendAudio(frame); err != nil {
				return err
			}
		}
	}
}

func (p *SynthesisPipeline) runBuffered(job *SynthesisJob) error {
	result, err := p.tts.Synthesize(job.ctx, job.Text, p.opts)
	if err != nil {
		return err
	}

	// Frame the buffer in 100ms slices so cancellation takes effect
	// between writes, not after the whole utterance.
	chunk := result.Format.BytesPerSecond() / 10
	chunk -= chunk % 2
	if chunk < 2 {
		chunk = 2
	}

	var pacer *time.Ticker
	if p.cfg.PacingInterval > 0 {
		pacer = time.NewTicker(p.cfg.PacingInterval)
		defer pacer.Stop()
	}

	var seq uint64
	for off := 0; off < len(result.Audio); off += chunk {
		select {
		case <-job.ctx.Done():
			return nil
		default:
		}

		end := off + chunk
		if end > len(result.Audio) {
			end = len(result.Audio)
		}
		frame := media.NewFrame(result.Audio[off:end], result.Format, seq)
		seq++
		if err := p.sink.SendAudio(frame); err != nil {
			return err
		}

		if pacer != nil {
			select {
			case <-job.ctx.Done():
				return nil
			case <-pacer.C:
			}
		}
	}
	return nil
}

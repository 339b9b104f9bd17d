package voice

import (
	"log/slog"
	"sync"
	"time"
)

// JobCanceller cancels whatever the agent is currently saying. Satisfied
// by *SynthesisPipeline.
type JobCanceller interface {
	CancelActive()
}

// InterruptConfig tunes barge-in detection.
type InterruptConfig struct {
	// EnableBargeIn allows user speech to cut off agent playback. When
	// false, user speech during agent speech is recorded but never
	// interrupts.
	EnableBargeIn bool

	// Threshold is the minimum transcription confidence that counts as
	// an intentional interruption.
	Threshold float64

	// Cooldown is the minimum gap between two interruptions. Speech
	// inside the window is treated as continuation, not a new barge-in.
	Cooldown time.Duration

	// HistorySize bounds the rolling interruption record.
	HistorySize int
}

func (c *InterruptConfig) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
	if c.Cooldown == 0 {
		c.Cooldown = time.Second
	}
	if c.HistorySize == 0 {
		c.HistorySize = 32
	}
}

// InterruptController watches transcriptions against agent speaking
// state and decides when user speech becomes a barge-in. It owns the
// rolling interruption history for the session.
type InterruptController struct {
	cfg       InterruptConfig
	canceller JobCanceller
	sink      InterruptionSink
	logger    *slog.Logger

	mu            sync.Mutex
	agentSpeaking bool
	lastInterrupt time.Time
	history       []InterruptionEvent
}

// NewInterruptController wires detection to the given canceller and
// event sink. Either may be nil.
func NewInterruptController(cfg InterruptConfig, canceller JobCanceller, sink InterruptionSink, logger *slog.Logger) *InterruptController {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &InterruptController{
		cfg:       cfg,
		canceller: canceller,
		sink:      sink,
		logger:    logger,
	}
}

// SetSink replaces the event sink. Call before audio starts flowing.
func (c *InterruptController) SetSink(sink InterruptionSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// AgentSpeakingStarted marks the start of agent playback.
func (c *InterruptController) AgentSpeakingStarted() {
	c.mu.Lock()
	c.agentSpeaking = true
	c.mu.Unlock()
}

// AgentSpeakingStopped marks the end of agent playback, whether it
// completed or was cancelled.
func (c *InterruptController) AgentSpeakingStopped() {
	c.mu.Lock()
	c.agentSpeaking = false
	c.mu.Unlock()
}

// AgentSpeaking reports whether agent playback is in progress.
func (c *InterruptController) AgentSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentSpeaking
}

// OnTranscription classifies one transcription chunk. If it qualifies as
// a barge-in the active synthesis job is cancelled and an interruption
// event is emitted; otherwise a plain user-speaking event is emitted.
// Returns true when the chunk interrupted the agent.
func (c *InterruptController) OnTranscription(chunk TranscriptionChunk) bool {
	now := time.Now()

	c.mu.Lock()
	interrupts := c.cfg.EnableBargeIn &&
		c.agentSpeaking &&
		chunk.Confidence >= c.cfg.Threshold &&
		now.Sub(c.lastInterrupt) >= c.cfg.Cooldown

	ev := InterruptionEvent{
		Type:       EventUserSpeaking,
		Text:       chunk.Text,
		Confidence: chunk.Confidence,
		Timestamp:  now,
	}
	if interrupts {
		ev.Type = EventUserInterrupted
		c.lastInterrupt = now
		c.history = append(c.history, ev)
		if len(c.history) > c.cfg.HistorySize {
			c.history = c.history[len(c.history)-c.cfg.HistorySize:]
		}
	}
	sink := c.sink
	c.mu.Unlock()

	if interrupts {
		c.logger.Info("user barge-in",
			slog.Float64("confidence", chunk.Confidence),
			slog.Int("text_len", len(chunk.Text)))
		if c.canceller != nil {
			c.canceller.CancelActive()
		}
	}
	if sink != nil {
		sink.OnInterruption(ev)
	}
	return interrupts
}

// AgentInterrupted records a cut-off of agent playback by something other
// than user speech (hold, transfer, shutdown) and cancels the active job.
// No-op when the agent is not speaking. Returns true when playback was
// actually cut off.
func (c *InterruptController) AgentInterrupted(cause string) bool {
	c.mu.Lock()
	if !c.agentSpeaking {
		c.mu.Unlock()
		return false
	}
	ev := InterruptionEvent{
		Type:      EventAgentInterrupted,
		Text:      cause,
		Timestamp: time.Now(),
	}
	c.history = append(c.history, ev)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
	sink := c.sink
	c.mu.Unlock()

	c.logger.Info("agent speech cut off", slog.String("cause", cause))
	if c.canceller != nil {
		c.canceller.CancelActive()
	}
	if sink != nil {
		sink.OnInterruption(ev)
	}
	return true
}

// RecentInterruptions returns a copy of the rolling interruption record,
// oldest first.
func (c *InterruptController) RecentInterruptions() []InterruptionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InterruptionEvent, len(c.history))
	copy(out, c.history)
	return out
}

// Reset clears interruption history and cooldown state. Used when a call
// transitions between segments.
func (c *InterruptController) Reset() {
	c.mu.Lock()
	c.history = nil
	c.lastInterrupt = time.Time{}
	c.mu.Unlock()
}

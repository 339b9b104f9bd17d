package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/audit"
	"github.com/fk219/VoxiHub-sub002/pkg/llm"
	"github.com/fk219/VoxiHub-sub002/pkg/media"
	"github.com/fk219/VoxiHub-sub002/pkg/provider"
	"github.com/fk219/VoxiHub-sub002/pkg/transport"
	"github.com/fk219/VoxiHub-sub002/pkg/voice"
)

// ManagerConfig carries the engine-wide defaults applied to every call.
type ManagerConfig struct {
	Ingest    voice.IngestConfig
	Interrupt voice.InterruptConfig
	Synth     voice.SynthConfig

	Orchestrator voice.OrchestratorConfig

	TranscribeOpts provider.TranscribeOptions
	SynthesizeOpts provider.SynthesizeOptions

	// STTFallback and TTSFallback order providers for retry on
	// transient failure. Empty means no fallback beyond the default.
	STTFallback []provider.Provider
	TTSFallback []provider.Provider

	// MaxCallDuration force-ends calls that run too long. Zero
	// disables the cap.
	MaxCallDuration time.Duration
}

// Gateway is the slice of the provider gateway the manager needs.
type Gateway interface {
	TranscribeWithFallback(ctx context.Context, audio []byte, format media.Format, opts provider.TranscribeOptions, order []provider.Provider) (provider.Transcription, error)
	SynthesizeWithFallback(ctx context.Context, text string, opts provider.SynthesizeOptions, order []provider.Provider) (provider.Synthesis, error)
	SynthesizeStream(ctx context.Context, text string, opts provider.SynthesizeOptions) (<-chan media.Frame, error)
}

// Manager owns every live call: it wires a transport to the ingest,
// interruption, synthesis, and orchestration pipelines and tears the
// whole assembly down exactly once when the call ends.
type Manager struct {
	cfg      ManagerConfig
	gateway  Gateway
	model    llm.LLM
	cache    *llm.ResponseCache
	executor voice.FunctionExecutor
	recorder audit.Recorder
	logger   *slog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	session   *Session
	trans     transport.Transport
	ingest    *voice.IngestPipeline
	synth     *voice.SynthesisPipeline
	interrupt *voice.InterruptController
	orch      *voice.Orchestrator
	timer     *time.Timer

	teardown sync.Once
}

// NewManager builds a manager. cache, executor, and recorder may be nil.
func NewManager(cfg ManagerConfig, gw Gateway, model llm.LLM, cache *llm.ResponseCache, executor voice.FunctionExecutor, recorder audit.Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Manager{
		cfg:      cfg,
		gateway:  gw,
		model:    model,
		cache:    cache,
		executor: executor,
		recorder: recorder,
		logger:   logger,
		calls:    make(map[string]*call),
	}
}

// Start answers a call on the given transport with the given agent. The
// session is Active and greeting playback has begun when Start returns.
func (m *Manager) Start(t transport.Transport, agent AgentConfig) (*Session, error) {
	sess := New(t.Channel(), agent)
	logger := m.logger.With(
		slog.String("session_id", sess.ID),
		slog.String("channel", string(t.Channel())))

	synthOpts := m.cfg.SynthesizeOpts
	if agent.Voice != "" {
		synthOpts.Voice = agent.Voice
	}
	sttOpts := m.cfg.TranscribeOpts
	if agent.Language != "" {
		sttOpts.Language = agent.Language
	}

	interruptCfg := m.cfg.Interrupt
	interruptCfg.EnableBargeIn = agent.EnableBargeIn

	orchCfg := m.cfg.Orchestrator
	if agent.SystemPrompt != "" {
		orchCfg.SystemPrompt = agent.SystemPrompt
	}

	gate := &voice.AudioGate{}
	synth := voice.NewSynthesisPipeline(m.cfg.Synth,
		&synthGateway{gw: m.gateway, fallback: m.cfg.TTSFallback},
		synthOpts, t, nil, logger)

	interrupt := voice.NewInterruptController(interruptCfg, synth, nil, logger)

	// With barge-in off, inbound audio is discarded during playback so
	// the agent cannot transcribe its own echo.
	listeners := []voice.SpeakingListener{interrupt}
	if !agent.EnableBargeIn {
		listeners = append(listeners, gateListener{gate})
	}
	synth.SetListener(multiListener(listeners))

	speaker := textEchoSpeaker{synth: synth, trans: t}
	orch := voice.NewOrchestrator(orchCfg, m.model, m.cache,
		speaker, m.executor, m.recorder, sess.ID, logger)
	interrupt.SetSink(orch)

	ingest := voice.NewIngestPipeline(m.cfg.Ingest,
		&sttGateway{gw: m.gateway, fallback: m.cfg.STTFallback},
		sttOpts,
		&transcriptionRouter{interrupt: interrupt, orch: orch},
		logger)

	c := &call{
		session:   sess,
		trans:     t,
		ingest:    ingest,
		synth:     synth,
		interrupt: interrupt,
		orch:      orch,
	}

	sess.OnTransition(func(_, to State) {
		if to == StateEnded {
			m.finish(c)
		}
	})

	if m.cfg.MaxCallDuration > 0 {
		c.timer = time.AfterFunc(m.cfg.MaxCallDuration, func() {
			logger.Info("max call duration reached")
			sess.End("max_duration")
		})
	}

	m.mu.Lock()
	m.calls[sess.ID] = c
	m.mu.Unlock()

	if err := sess.Transition(StateRinging); err != nil {
		sess.End("setup_failed")
		return nil, err
	}
	if err := sess.Transition(StateActive); err != nil {
		sess.End("setup_failed")
		return nil, err
	}

	go m.pumpFrames(c, gate, logger)
	go m.pumpTexts(c, logger)

	logger.Info("call started", slog.String("agent", agent.Name))
	if agent.Greeting != "" {
		speaker.Speak(context.Background(), agent.Greeting)
	}
	return sess, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, false
	}
	return c.session, true
}

// Hold pauses a call: the agent stops speaking and inbound audio is
// ignored until Resume.
func (m *Manager) Hold(id string) error {
	c, ok := m.lookup(id)
	if !ok {
		return &InvalidTransitionError{From: StateEnded, To: StateOnHold}
	}
	if err := c.session.Transition(StateOnHold); err != nil {
		return err
	}
	if !c.interrupt.AgentInterrupted("hold") {
		c.synth.CancelActive()
	}
	return nil
}

// Resume returns a held call to Active.
func (m *Manager) Resume(id string) error {
	c, ok := m.lookup(id)
	if !ok {
		return &InvalidTransitionError{From: StateEnded, To: StateActive}
	}
	return c.session.Transition(StateActive)
}

// End force-ends one call.
func (m *Manager) End(id, reason string) {
	if c, ok := m.lookup(id); ok {
		c.session.End(reason)
	}
}

// Shutdown ends every live call.
func (m *Manager) Shutdown(reason string) {
	m.mu.Lock()
	calls := make([]*call, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	m.mu.Unlock()
	for _, c := range calls {
		c.session.End(reason)
	}
}

// Active reports the number of live calls.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *Manager) lookup(id string) (*call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	return c, ok
}

// pumpFrames moves caller audio from the transport into the ingest
// pipeline, honoring the gate and the hold state. A closed frame stream
// means the caller hung up.
func (m *Manager) pumpFrames(c *call, gate *voice.AudioGate, logger *slog.Logger) {
	for frame := range c.trans.Frames() {
		if c.session.State() != StateActive {
			continue
		}
		if !gate.Pass() {
			continue
		}
		c.ingest.Push(frame)
	}
	logger.Info("caller audio stream ended")
	c.session.End("hangup")
}

// pumpTexts feeds typed widget input directly to the orchestrator,
// bypassing transcription.
func (m *Manager) pumpTexts(c *call, logger *slog.Logger) {
	texts := c.trans.Texts()
	if texts == nil {
		return
	}
	for text := range texts {
		if c.session.State() != StateActive {
			continue
		}
		logger.Debug("typed input", slog.Int("len", len(text)))
		c.orch.StartTurn(text, 1.0)
	}
}

// finish tears one call down exactly once.
func (m *Manager) finish(c *call) {
	c.teardown.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.interrupt.AgentInterrupted(c.session.EndReason())
		c.synth.Close()
		c.orch.Close()
		c.ingest.Close()
		c.trans.Close()

		m.mu.Lock()
		delete(m.calls, c.session.ID)
		m.mu.Unlock()

		m.recorder.Record(audit.Record{
			Type:      audit.RecordSessionClosed,
			SessionID: c.session.ID,
			Timestamp: time.Now(),
			Reason:    c.session.EndReason(),
			Duration:  c.session.Duration(),
		})
		m.logger.Info("call ended",
			slog.String("session_id", c.session.ID),
			slog.String("reason", c.session.EndReason()),
			slog.Duration("duration", c.session.Duration()))
	})
}

// sttGateway binds the manager's fallback order into the ingest
// pipeline's transcriber slot.
type sttGateway struct {
	gw       Gateway
	fallback []provider.Provider
}

func (g *sttGateway) Transcribe(ctx context.Context, audio []byte, format media.Format, opts provider.TranscribeOptions) (provider.Transcription, error) {
	return g.gw.TranscribeWithFallback(ctx, audio, format, opts, g.fallback)
}

// synthGateway does the same for synthesis. Streaming bypasses fallback:
// a broken stream mid-utterance cannot be transparently resumed.
type synthGateway struct {
	gw       Gateway
	fallback []provider.Provider
}

func (g *synthGateway) Synthesize(ctx context.Context, text string, opts provider.SynthesizeOptions) (provider.Synthesis, error) {
	return g.gw.SynthesizeWithFallback(ctx, text, opts, g.fallback)
}

func (g *synthGateway) SynthesizeStream(ctx context.Context, text string, opts provider.SynthesizeOptions) (<-chan media.Frame, error) {
	return g.gw.SynthesizeStream(ctx, text, opts)
}

// transcriptionRouter sends each chunk through interruption
// classification first, then to the orchestrator.
type transcriptionRouter struct {
	interrupt *voice.InterruptController
	orch      *voice.Orchestrator
}

func (r *transcriptionRouter) OnTranscription(chunk voice.TranscriptionChunk) {
	r.interrupt.OnTranscription(chunk)
	r.orch.OnTranscription(chunk)
}

func (r *transcriptionRouter) OnEnd() { r.orch.OnEnd() }

// textEchoSpeaker mirrors spoken agent text onto the transport's text
// channel so widget callers see a transcript.
type textEchoSpeaker struct {
	synth *voice.SynthesisPipeline
	trans transport.Transport
}

func (s textEchoSpeaker) Speak(ctx context.Context, text string) *voice.SynthesisJob {
	s.trans.SendText(text)
	return s.synth.Speak(ctx, text)
}

// gateListener closes the mic gate while the agent speaks.
type gateListener struct{ gate *voice.AudioGate }

func (g gateListener) AgentSpeakingStarted() { g.gate.Close() }
func (g gateListener) AgentSpeakingStopped() { g.gate.Open() }

// multiListener fans speaking transitions out to several listeners.
type multiListener []voice.SpeakingListener

func (m multiListener) AgentSpeakingStarted() {
	for _, l := range m {
		l.AgentSpeakingStarted()
	}
}

func (m multiListener) AgentSpeakingStopped() {
	for _, l := range m {
		l.AgentSpeakingStopped()
	}
}

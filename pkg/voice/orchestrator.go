package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fk219/VoxiHub-sub002/pkg/audit"
	"github.com/fk219/VoxiHub-sub002/pkg/llm"
)

// FunctionExecutor runs tool calls requested by the model. The result
// string is fed back to the model as a function message.
type FunctionExecutor interface {
	Execute(ctx context.Context, call llm.FunctionCall) (string, error)
}

// FunctionExecutorFunc adapts a function to FunctionExecutor.
type FunctionExecutorFunc func(ctx context.Context, call llm.FunctionCall) (string, error)

func (f FunctionExecutorFunc) Execute(ctx context.Context, call llm.FunctionCall) (string, error) {
	return f(ctx, call)
}

// OrchestratorConfig tunes turn handling.
type OrchestratorConfig struct {
	// SystemPrompt seeds the conversation. Always retained when history
	// is trimmed.
	SystemPrompt string

	// MaxHistory bounds the non-system message count kept between
	// turns. Oldest turns fall off first.
	MaxHistory int

	// MaxFunctionRounds bounds the tool-call loop within one turn.
	MaxFunctionRounds int

	// Streaming hands text to the synthesizer sentence by sentence as
	// the model produces it, instead of waiting for the full reply.
	Streaming bool

	// Temperature and MaxTokens pass through to the model.
	Temperature float32
	MaxTokens   int

	// ApologyText is spoken when a turn fails outright. Empty disables
	// the apology.
	ApologyText string

	// Functions advertises callable tools to the model.
	Functions []llm.FunctionDefinition
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.MaxHistory == 0 {
		c.MaxHistory = 20
	}
	if c.MaxFunctionRounds == 0 {
		c.MaxFunctionRounds = 4
	}
	if c.ApologyText == "" {
		c.ApologyText = "Sorry, I ran into a problem. Could you say that again?"
	}
}

// Speaker is the slice of the synthesis pipeline the orchestrator needs.
type Speaker interface {
	Speak(ctx context.Context, text string) *SynthesisJob
}

// Orchestrator drives the conversation: it turns final transcriptions
// into model calls, resolves tool invocations, and hands reply text to
// the synthesizer. A new user turn supersedes any turn still being
// generated or spoken.
type Orchestrator struct {
	cfg      OrchestratorConfig
	model    llm.LLM
	cache    *llm.ResponseCache
	speaker  Speaker
	executor FunctionExecutor
	recorder audit.Recorder
	logger   *slog.Logger

	sessionID string

	mu       sync.Mutex
	history  []llm.Message
	turnCtx  context.Context
	turnStop context.CancelFunc
	turnWG   sync.WaitGroup
	closed   bool
}

// NewOrchestrator wires a conversation loop. cache, executor, and
// recorder may be nil; a nil recorder discards audit records.
func NewOrchestrator(cfg OrchestratorConfig, model llm.LLM, cache *llm.ResponseCache, speaker Speaker, executor FunctionExecutor, recorder audit.Recorder, sessionID string, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	o := &Orchestrator{
		cfg:       cfg,
		model:     model,
		cache:     cache,
		speaker:   speaker,
		executor:  executor,
		recorder:  recorder,
		sessionID: sessionID,
		logger:    logger,
	}
	if cfg.SystemPrompt != "" {
		o.history = append(o.history, llm.Message{Role: llm.RoleSystem, Content: cfg.SystemPrompt})
	}
	return o
}

// OnTranscription implements TranscriptionSink. Only final chunks start
// a turn; partials are informational.
func (o *Orchestrator) OnTranscription(chunk TranscriptionChunk) {
	if !chunk.IsFinal || strings.TrimSpace(chunk.Text) == "" {
		return
	}
	o.StartTurn(chunk.Text, chunk.Confidence)
}

// OnEnd implements TranscriptionSink. The ingest side has stopped; any
// in-flight turn is allowed to finish.
func (o *Orchestrator) OnEnd() {}

// OnInterruption implements InterruptionSink. A barge-in aborts the turn
// being spoken; the interrupting speech itself arrives as a final
// transcription and starts the next turn normally.
func (o *Orchestrator) OnInterruption(ev InterruptionEvent) {
	if ev.Type != EventUserInterrupted {
		return
	}
	o.recorder.Record(audit.Record{
		Type:       audit.RecordInterruption,
		SessionID:  o.sessionID,
		Timestamp:  ev.Timestamp,
		Text:       ev.Text,
		Confidence: ev.Confidence,
	})
	o.cancelTurn()
}

// StartTurn begins handling one user utterance, superseding any turn in
// progress.
func (o *Orchestrator) StartTurn(text string, confidence float64) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.turnStop != nil {
		o.turnStop()
	}
	ctx, stop := context.WithCancel(context.Background())
	o.turnCtx = ctx
	o.turnStop = stop
	o.history = append(o.history, llm.Message{Role: llm.RoleUser, Content: text})
	o.trimHistoryLocked()
	o.turnWG.Add(1)
	o.mu.Unlock()

	o.recorder.Record(audit.Record{
		Type:       audit.RecordUserTurn,
		SessionID:  o.sessionID,
		Timestamp:  time.Now(),
		Text:       text,
		Confidence: confidence,
	})

	go func() {
		defer o.turnWG.Done()
		o.runTurn(ctx)
	}()
}

// Close aborts any in-flight turn and waits for it to unwind.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	if o.turnStop != nil {
		o.turnStop()
	}
	o.mu.Unlock()
	o.turnWG.Wait()
}

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]llm.Message, len(o.history))
	copy(out, o.history)
	return out
}

func (o *Orchestrator) cancelTurn() {
	o.mu.Lock()
	if o.turnStop != nil {
		o.turnStop()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) runTurn(ctx context.Context) {
	var reply string
	var err error
	var cached bool

	if o.cfg.Streaming {
		reply, err = o.generateStreaming(ctx)
	} else {
		reply, cached, err = o.generate(ctx)
	}

	if ctx.Err() != nil {
		return // superseded or interrupted, say nothing
	}
	if err != nil {
		o.logger.Error("turn failed", slog.String("error", err.Error()))
		if o.cfg.ApologyText != "" && o.speaker != nil {
			o.speaker.Speak(ctx, o.cfg.ApologyText)
		}
		return
	}
	if reply == "" {
		return
	}

	o.mu.Lock()
	// A superseding turn cancels under this mutex, so re-checking here
	// keeps its stale reply out of history.
	if ctx.Err() != nil {
		o.mu.Unlock()
		return
	}
	o.history = append(o.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
	o.trimHistoryLocked()
	o.mu.Unlock()

	o.recorder.Record(audit.Record{
		Type:      audit.RecordAgentTurn,
		SessionID: o.sessionID,
		Timestamp: time.Now(),
		Text:      reply,
		Cached:    cached,
	})

	if !o.cfg.Streaming && o.speaker != nil {
		o.speaker.Speak(ctx, reply)
	}
}

// generate runs the non-streaming turn: cache lookup, model call, and a
// bounded tool-call loop.
func (o *Orchestrator) generate(ctx context.Context) (string, bool, error) {
	messages := o.snapshotHistory()

	if o.cache != nil {
		key := llm.Key(messages)
		if resp, ok := o.cache.Get(key); ok {
			o.logger.Debug("cache hit", slog.String("key", key[:12]))
			return resp.Message.Content, true, nil
		}
	}

	cacheable := true
	for round := 0; ; round++ {
		resp, err := o.model.Chat(ctx, o.chatRequest(messages))
		if err != nil {
			return "", false, err
		}
		if resp.FunctionCall == nil {
			if o.cache != nil && cacheable {
				o.cache.Put(llm.Key(messages), resp)
			}
			return resp.Message.Content, false, nil
		}

		// Tool results are time-dependent; never cache past this point.
		cacheable = false
		if round >= o.cfg.MaxFunctionRounds {
			o.logger.Warn("function round limit reached",
				slog.String("function", resp.FunctionCall.Name))
			return resp.Message.Content, false, nil
		}
		result, err := o.callFunction(ctx, *resp.FunctionCall)
		if err != nil {
			return "", false, err
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content},
			llm.Message{Role: llm.RoleFunction, Name: resp.FunctionCall.Name, Content: result},
		)
	}
}

// generateStreaming speaks sentence by sentence as deltas arrive, so
// playback starts before the model finishes. Tool calls surface on the
// terminal delta and restart generation with the result appended.
func (o *Orchestrator) generateStreaming(ctx context.Context) (string, error) {
	messages := o.snapshotHistory()

	var full strings.Builder
	for round := 0; ; round++ {
		deltas, err := o.model.ChatStream(ctx, o.chatRequest(messages))
		if err != nil {
			return "", err
		}

		var pending strings.Builder
		var call *llm.FunctionCall
		for d := range deltas {
			if d.Err != nil {
				return "", d.Err
			}
			if d.Content != "" {
				pending.WriteString(d.Content)
				full.WriteString(d.Content)
				o.speakCompleteSentences(ctx, &pending)
			}
			if d.Done {
				call = d.FunctionCall
			}
		}
		if rest := strings.TrimSpace(pending.String()); rest != "" {
			o.speakAndWait(ctx, rest)
		}

		if call == nil {
			return full.String(), nil
		}
		if round >= o.cfg.MaxFunctionRounds {
			o.logger.Warn("function round limit reached",
				slog.String("function", call.Name))
			return full.String(), nil
		}
		result, err := o.callFunction(ctx, *call)
		if err != nil {
			return "", err
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: full.String()},
			llm.Message{Role: llm.RoleFunction, Name: call.Name, Content: result},
		)
	}
}

// speakCompleteSentences drains whole sentences out of pending and plays
// them back to back, leaving any trailing fragment buffered.
func (o *Orchestrator) speakCompleteSentences(ctx context.Context, pending *strings.Builder) {
	text := pending.String()
	for {
		idx := sentenceBoundary(text)
		if idx < 0 {
			break
		}
		sentence := strings.TrimSpace(text[:idx+1])
		text = text[idx+1:]
		if sentence != "" {
			o.speakAndWait(ctx, sentence)
		}
	}
	pending.Reset()
	pending.WriteString(text)
}

// speakAndWait plays one piece of text to completion so consecutive
// sentences do not cancel each other.
func (o *Orchestrator) speakAndWait(ctx context.Context, text string) {
	if o.speaker == nil || ctx.Err() != nil {
		return
	}
	job := o.speaker.Speak(ctx, text)
	select {
	case <-job.Done():
	case <-ctx.Done():
	}
}

func (o *Orchestrator) callFunction(ctx context.Context, call llm.FunctionCall) (string, error) {
	if o.executor == nil {
		return "function " + call.Name + " is not available", nil
	}
	result, err := o.executor.Execute(ctx, call)
	o.recorder.Record(audit.Record{
		Type:         audit.RecordFunctionCall,
		SessionID:    o.sessionID,
		Timestamp:    time.Now(),
		FunctionName: call.Name,
		Arguments:    call.Arguments,
		Result:       result,
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (o *Orchestrator) chatRequest(messages []llm.Message) llm.ChatRequest {
	return llm.ChatRequest{
		Messages:    messages,
		Functions:   o.cfg.Functions,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
}

func (o *Orchestrator) snapshotHistory() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]llm.Message, len(o.history))
	copy(out, o.history)
	return out
}

// trimHistoryLocked drops the oldest non-system messages once the bound
// is exceeded. System messages always survive.
func (o *Orchestrator) trimHistoryLocked() {
	var system, rest []llm.Message
	for _, m := range o.history {
		if m.Role == llm.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(rest) <= o.cfg.MaxHistory {
		return
	}
	rest = rest[len(rest)-o.cfg.MaxHistory:]
	o.history = append(system, rest...)
}

// sentenceBoundary returns the index of the first sentence-ending
// punctuation followed by whitespace or end of text, or -1.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\n' {
				return i
			}
		}
	}
	return -1
}

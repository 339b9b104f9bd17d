// Package voice implements the real-time conversation core: audio
// ingest with voice-activity segmentation, barge-in detection, cancellable
// response synthesis, and the orchestrator that sequences a turn.
package voice

import "time"

// TranscriptionChunk is one transcription result for a session. Exactly
// one final chunk is produced per utterance; non-final chunks are
// advisory and feed interruption detection.
type TranscriptionChunk struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Timestamp  time.Time
}

// TranscriptionSink receives chunks from the ingest pipeline. OnEnd
// fires once when the pipeline is finalized at call teardown.
type TranscriptionSink interface {
	OnTranscription(chunk TranscriptionChunk)
	OnEnd()
}

// InterruptionEventType classifies interruption controller output.
type InterruptionEventType string

const (
	// EventUserSpeaking surfaces user speech that did not interrupt
	// (agent silent, barge-in disabled, low confidence, or cooldown).
	EventUserSpeaking InterruptionEventType = "user_speaking"

	// EventUserInterrupted means the user barged in and the active
	// synthesis job was cancelled.
	EventUserInterrupted InterruptionEventType = "user_interrupted"

	// EventAgentInterrupted means the agent's speech was cut off by a
	// source other than user speech (hold, transfer, shutdown).
	EventAgentInterrupted InterruptionEventType = "agent_interrupted"
)

// InterruptionEvent is ephemeral; it lives only in the session's rolling
// interruption buffer and is never persisted beyond it.
type InterruptionEvent struct {
	Type       InterruptionEventType
	Text       string
	Confidence float64
	Timestamp  time.Time
}

// InterruptionSink receives interruption events, typically the
// orchestrator (to supersede the current turn) plus telemetry.
type InterruptionSink interface {
	OnInterruption(event InterruptionEvent)
}

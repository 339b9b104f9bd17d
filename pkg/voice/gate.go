package voice

import "sync/atomic"

// AudioGate drops inbound mic audio while the agent is speaking. Used
// when barge-in is disabled so agent playback cannot transcribe itself
// on echo-prone transports.
type AudioGate struct {
	closed atomic.Bool
}

// Close starts discarding inbound audio.
func (g *AudioGate) Close() { g.closed.Store(true) }

// Open resumes passing inbound audio through.
func (g *AudioGate) Open() { g.closed.Store(false) }

// Pass reports whether inbound audio should be processed.
func (g *AudioGate) Pass() bool { return !g.closed.Load() }

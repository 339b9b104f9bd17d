// Package audit records notable call events for offline review. The
// engine emits records through a Recorder; deployments plug in their own
// storage.
package audit

import (
	"sync"
	"time"
)

// RecordType enumerates the events the engine emits.
type RecordType string

const (
	RecordUserTurn      RecordType = "user_turn"
	RecordAgentTurn     RecordType = "agent_turn"
	RecordFunctionCall  RecordType = "function_call"
	RecordInterruption  RecordType = "interruption"
	RecordSessionClosed RecordType = "session_closed"
)

// Record is one audited event. Fields beyond Type and Timestamp are
// populated per type.
type Record struct {
	Type      RecordType
	SessionID string
	Timestamp time.Time

	// Turn records
	Text       string
	Confidence float64
	Cached     bool

	// Function call records
	FunctionName string
	Arguments    string
	Result       string

	// Session close records
	Reason   string
	Duration time.Duration
}

// Recorder accepts audit records. Implementations must be safe for
// concurrent use and must not block the calling goroutine for long.
type Recorder interface {
	Record(rec Record)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) Record(Record) {}

// MemoryRecorder keeps records in memory, oldest first. Intended for
// tests and short-lived tooling.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryRecorder returns an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(rec Record) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// ByType filters records matching t.
func (m *MemoryRecorder) ByType(t RecordType) []Record {
	var out []Record
	for _, r := range m.Records() {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

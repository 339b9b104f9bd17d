package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fk219/VoxiHub-sub002/pkg/transport"
)

// AgentConfig is the per-call agent personality and behavior, resolved
// by the caller of the manager (per phone number or widget tenant).
type AgentConfig struct {
	Name          string
	SystemPrompt  string
	Greeting      string
	Language      string
	Voice         string
	EnableBargeIn bool
}

// Session is one call. State changes go through Transition so the
// lifecycle graph and per-state hooks are enforced in one place.
type Session struct {
	ID        string
	Channel   transport.Channel
	Agent     AgentConfig
	StartedAt time.Time

	mu       sync.Mutex
	state    State
	endedAt  time.Time
	reason   string
	watchers []func(from, to State)
}

// New creates a session in the Idle state.
func New(channel transport.Channel, agent AgentConfig) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Channel:   channel,
		Agent:     agent,
		StartedAt: time.Now(),
		state:     StateIdle,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to a new state, rejecting moves the
// lifecycle graph does not allow. Transitioning to the current state is
// a no-op.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	s.state = to
	if to == StateEnded {
		s.endedAt = time.Now()
	}
	watchers := s.watchers
	s.mu.Unlock()

	for _, w := range watchers {
		w(from, to)
	}
	return nil
}

// OnTransition registers a watcher called after every successful state
// change. Register before the session starts moving.
func (s *Session) OnTransition(fn func(from, to State)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// End moves the session to Ended with a reason. Always succeeds; calling
// it twice keeps the first reason.
func (s *Session) End(reason string) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
	s.Transition(StateEnded)
}

// Ended reports whether the call is over.
func (s *Session) Ended() bool { return s.State() == StateEnded }

// EndReason returns why the call ended, or empty while live.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Duration is the call length so far, frozen once the call ends.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

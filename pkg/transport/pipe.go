package transport

import (
	"sync"

	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// Pipe is an in-memory Transport for tests and local tooling. Audio and
// text written by the engine are captured for inspection; the test feeds
// caller audio through PushFrame.
type Pipe struct {
	frames chan media.Frame
	texts  chan string

	mu        sync.Mutex
	sent      []media.Frame
	sentTexts []string
	closed    bool
}

// NewPipe returns an open pipe with buffered inbound channels.
func NewPipe() *Pipe {
	return &Pipe{
		frames: make(chan media.Frame, 64),
		texts:  make(chan string, 16),
	}
}

// PushFrame feeds caller audio into the engine. Returns false after
// Close.
func (p *Pipe) PushFrame(frame media.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames <- frame
	return true
}

// PushText feeds typed caller input into the engine.
func (p *Pipe) PushText(text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.texts <- text
	return true
}

func (p *Pipe) SendAudio(frame media.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrTransportClosed
	}
	p.sent = append(p.sent, frame)
	return nil
}

func (p *Pipe) SendText(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrTransportClosed
	}
	p.sentTexts = append(p.sentTexts, text)
	return nil
}

func (p *Pipe) Frames() <-chan media.Frame { return p.frames }
func (p *Pipe) Texts() <-chan string       { return p.texts }
func (p *Pipe) Channel() Channel           { return ChannelWidget }

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.frames)
	close(p.texts)
	return nil
}

// SentAudio returns a copy of everything the engine played.
func (p *Pipe) SentAudio() []media.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]media.Frame, len(p.sent))
	copy(out, p.sent)
	return out
}

// SentAudioBytes sums the payload size of everything the engine played.
func (p *Pipe) SentAudioBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, f := range p.sent {
		n += len(f.Data)
	}
	return n
}

// SentTexts returns a copy of the text the engine delivered.
func (p *Pipe) SentTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sentTexts))
	copy(out, p.sentTexts)
	return out
}

// Package transport carries call audio between the engine and the
// outside world. Each session owns exactly one Transport: a SIP media
// leg speaking RTP, a browser widget speaking websocket, or an
// in-memory pipe for tests.
package transport

import (
	"errors"

	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

// ErrTransportClosed is returned by writes after Close or remote
// hangup.
var ErrTransportClosed = errors.New("transport: closed")

// Channel identifies how a call reached the engine.
type Channel string

const (
	ChannelSIP    Channel = "sip"
	ChannelWidget Channel = "widget"
)

// Transport is the narrow boundary between a session and its caller.
// Frames delivers inbound caller audio and closes when the remote side
// hangs up. Texts delivers typed caller input on transports that support
// it; others return nil. All methods are safe for concurrent use.
type Transport interface {
	// SendAudio plays one frame of agent audio to the caller.
	SendAudio(frame media.Frame) error

	// SendText delivers agent text to the caller, on transports that
	// can display it. Others discard it and return nil.
	SendText(text string) error

	// Frames is the inbound caller audio stream.
	Frames() <-chan media.Frame

	// Texts is the inbound typed-text stream, or nil.
	Texts() <-chan string

	// Channel reports the transport kind.
	Channel() Channel

	// Close releases the transport. Idempotent.
	Close() error
}

package transport

import (
	"testing"

	"github.com/matryer/is"

	"github.com/fk219/VoxiHub-sub002/pkg/media"
)

func TestPipe_RoundTrip(t *testing.T) {
	is := is.New(t)

	p := NewPipe()

	is.True(p.PushFrame(media.NewFrame(make([]byte, 320), media.Format16kHz16BitMono, 1)))
	frame := <-p.Frames()
	is.Equal(frame.Seq, uint64(1))

	is.True(p.PushText("hello"))
	is.Equal(<-p.Texts(), "hello")

	is.NoErr(p.SendAudio(media.NewFrame(make([]byte, 320), media.Format16kHz16BitMono, 1)))
	is.NoErr(p.SendText("agent line"))
	is.Equal(p.SentAudioBytes(), 320)
	is.Equal(p.SentTexts(), []string{"agent line"})
}

func TestPipe_CloseEndsStreams(t *testing.T) {
	is := is.New(t)

	p := NewPipe()
	is.NoErr(p.Close())
	is.NoErr(p.Close()) // idempotent

	_, ok := <-p.Frames()
	is.True(!ok) // frame stream closed

	is.True(!p.PushFrame(media.NewFrame(nil, media.Format16kHz16BitMono, 1)))
	is.Equal(p.SendAudio(media.Frame{}), ErrTransportClosed)
	is.Equal(p.SendText("x"), ErrTransportClosed)
}

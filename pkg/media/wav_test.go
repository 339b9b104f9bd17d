package media

import (
	"encoding/binary"
	"testing"

	"github.com/matryer/is"
)

func TestEncodeWAV(t *testing.T) {
	is := is.New(t)

	pcm := make([]byte, 3200)
	out := EncodeWAV(pcm, Format16kHz16BitMono)

	is.Equal(len(out), 44+len(pcm))                                 // header plus payload
	is.Equal(string(out[0:4]), "RIFF")                              // RIFF magic
	is.Equal(string(out[8:12]), "WAVE")                             // WAVE magic
	is.Equal(binary.LittleEndian.Uint32(out[24:28]), uint32(16000)) // sample rate
	is.Equal(binary.LittleEndian.Uint16(out[22:24]), uint16(1))     // mono
	is.Equal(binary.LittleEndian.Uint32(out[40:44]), uint32(3200))  // data chunk size
}

func TestFrameDuration(t *testing.T) {
	is := is.New(t)

	f := NewFrame(make([]byte, 3200), Format16kHz16BitMono, 1)
	is.Equal(f.SampleCount(), 1600)                   // 3200 bytes of 16-bit audio
	is.Equal(f.Duration().Milliseconds(), int64(100)) // 100ms at 16kHz
}

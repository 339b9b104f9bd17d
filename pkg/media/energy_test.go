package media

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/matryer/is"
)

// sine generates n samples of a full-scale sine wave as 16-bit LE PCM.
func sine(n int, amplitude float64) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*float64(i)/64))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestRMS_Silence(t *testing.T) {
	is := is.New(t)

	silence := make([]byte, 640)
	is.Equal(RMS(silence), 0.0) // digital silence has zero energy
}

func TestRMS_FullScale(t *testing.T) {
	is := is.New(t)

	e := RMS(sine(320, 1.0))
	is.True(e > 0.6) // full-scale sine RMS is ~0.707
	is.True(e < 0.8)
}

func TestRMS_QuietVsLoud(t *testing.T) {
	is := is.New(t)

	quiet := RMS(sine(320, 0.05))
	loud := RMS(sine(320, 0.9))
	is.True(quiet < loud) // energy should track amplitude
}

func TestRMS_MalformedAssumesSpeech(t *testing.T) {
	is := is.New(t)

	// Odd-length buffers cannot be 16-bit samples.
	is.Equal(RMS([]byte{0x01}), 1.0)
	is.Equal(RMS(nil), 1.0)
}

func TestIsSpeech(t *testing.T) {
	is := is.New(t)

	is.True(IsSpeech(sine(320, 0.9), 0.5))     // loud audio passes the default threshold
	is.True(!IsSpeech(sine(320, 0.05), 0.5))   // quiet audio does not
	is.True(!IsSpeech(make([]byte, 640), 0.5)) // silence does not
	is.True(IsSpeech([]byte{0x01}, 0.5))       // malformed input is treated as speech
}

// Package media defines the audio frame and format types shared by the
// ingest pipeline, the provider adapters, and the channel transports.
package media

import (
	"fmt"
	"time"
)

// Format describes raw PCM audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Common formats used across the engine. Telephony legs carry 8 kHz audio,
// speech providers generally want 16 kHz, OpenAI TTS emits 24 kHz.
var (
	Format8kHz16BitMono  = Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	Format16kHz16BitMono = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	Format24kHz16BitMono = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
	Format48kHz16BitMono = Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16}
)

// BytesPerSecond returns the raw byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Frame is one chunk of raw PCM audio flowing through a session.
// Seq is assigned by the transport on ingest and is strictly increasing
// within a session. Ownership transfers to the ingest pipeline on Push.
type Frame struct {
	Data      []byte
	Format    Format
	Seq       uint64
	Timestamp time.Time
}

// NewFrame creates a frame stamped with the current time.
func NewFrame(data []byte, format Format, seq uint64) Frame {
	return Frame{
		Data:      data,
		Format:    format,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	out := f
	out.Data = data
	return out
}

// SampleCount returns the number of samples per channel in the frame.
func (f Frame) SampleCount() int {
	bytesPerSample := f.Format.BitsPerSample / 8
	if bytesPerSample == 0 || f.Format.Channels == 0 {
		return 0
	}
	return len(f.Data) / (bytesPerSample * f.Format.Channels)
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.Format.SampleRate == 0 {
		return 0
	}
	seconds := float64(f.SampleCount()) / float64(f.Format.SampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// IsEmpty reports whether the frame carries no audio data.
func (f Frame) IsEmpty() bool {
	return len(f.Data) == 0
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{seq=%d, samples=%d, rate=%d, dur=%v}",
		f.Seq, f.SampleCount(), f.Format.SampleRate, f.Duration())
}

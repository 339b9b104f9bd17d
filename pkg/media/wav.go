package media

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV wraps raw PCM data in a minimal RIFF/WAVE container.
// Speech providers that take file uploads (Whisper-style multipart
// endpoints) require a container; the engine otherwise moves bare PCM.
func EncodeWAV(data []byte, format Format) []byte {
	var buf bytes.Buffer

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")

	// fmt chunk (PCM)
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	byteRate := uint32(format.BytesPerSecond())
	binary.Write(&buf, binary.LittleEndian, byteRate)
	blockAlign := uint16(format.Channels * format.BitsPerSample / 8)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(format.BitsPerSample))

	// data chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

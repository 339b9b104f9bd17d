package media

import (
	"encoding/binary"
	"math"
)

// RMS computes the normalized root-mean-square energy of 16-bit
// little-endian PCM data on a 0-1 scale. Malformed input (odd length,
// empty) returns 1.0 so callers treat it as speech rather than silently
// dropping audio.
func RMS(data []byte) float64 {
	if len(data) < 2 || len(data)%2 != 0 {
		return 1.0
	}

	var sum float64
	n := len(data) / 2
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		v := float64(sample) / math.MaxInt16
		sum += v * v
	}

	return math.Sqrt(sum / float64(n))
}

// IsSpeech classifies PCM data against an energy threshold on the 0-1
// RMS scale. Exact thresholds are tunable, not a contract.
func IsSpeech(data []byte, threshold float64) bool {
	return RMS(data) >= threshold
}

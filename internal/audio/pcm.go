package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts float samples to little-endian signed 16-bit PCM.
// Samples are clamped to [-1,1] before scaling by math.MaxInt16, so the
// output never leaves [-32767, 32767]. NaN encodes as silence.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sampleToInt16(s)))
	}
	return out
}

func sampleToInt16(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * math.MaxInt16)
}

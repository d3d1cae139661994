// Package audio owns microphone capture: it turns device buffers into mono
// frames, reports loudness levels and hands frames to a single serial worker
// that encodes and ships them.
package audio

import (
	"errors"
	"math"
)

var (
	// ErrDeviceBusy is returned when another Capture still owns the input
	// device (including one whose teardown has not finished).
	ErrDeviceBusy = errors.New("audio: input device is owned by another capture session")

	// ErrNotOpen is returned by Start when Open has not succeeded.
	ErrNotOpen = errors.New("audio: capture session is not open")
)

// LevelScale is the gain applied to RMS before clamping so that normal
// speech fills the level meter.
const LevelScale = 5.0

// Frame is a block of mono float samples in [-1,1] at SampleRate Hz.
// A Frame is handed to exactly one consumer and must not be retained after
// the consumer returns.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Device is the capability interface for a platform audio input. Open
// claims the hardware identified by deviceID ("" = system default).
type Device interface {
	Name() string
	Open(deviceID string) (Stream, error)
}

// Stream is an opened input. Start installs the tap; onBuffer is invoked on
// the device's real-time thread with mono samples that are only valid for
// the duration of the call. Stop removes the tap and halts the engine.
type Stream interface {
	SampleRate() int
	Start(onBuffer func(samples []float32)) error
	Stop() error
}

// RMS returns the root mean square of samples. An empty slice has RMS 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level converts a frame to a display level in [0,1].
func Level(samples []float32) float32 {
	l := RMS(samples) * LevelScale
	switch {
	case math.IsNaN(l):
		return 0
	case l > 1:
		return 1
	}
	return float32(l)
}

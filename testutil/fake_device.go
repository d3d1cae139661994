package testutil

import (
	"errors"
	"sync"

	"github.com/tiroq/cuesync/internal/audio"
)

// FakeDevice is an in-memory audio.Device. Tests drive audio through the
// streams it opens.
type FakeDevice struct {
	Rate     int
	OpenErr  error
	StartErr error

	mu        sync.Mutex
	streams   []*FakeStream
	deviceIDs []string
}

// NewFakeDevice returns a device reporting the given sample rate.
func NewFakeDevice(rate int) *FakeDevice {
	return &FakeDevice{Rate: rate}
}

func (d *FakeDevice) Name() string { return "fake" }

func (d *FakeDevice) Open(deviceID string) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deviceIDs = append(d.deviceIDs, deviceID)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &FakeStream{rate: d.Rate, startErr: d.StartErr}
	d.streams = append(d.streams, s)
	return s, nil
}

// Opens returns the number of Open calls.
func (d *FakeDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deviceIDs)
}

// DeviceIDs returns the ids passed to Open, in order.
func (d *FakeDevice) DeviceIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deviceIDs...)
}

// Stream returns the i-th opened stream, or nil.
func (d *FakeDevice) Stream(i int) *FakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

// Last returns the most recently opened stream, or nil.
func (d *FakeDevice) Last() *FakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// FakeStream delivers buffers only when the test calls Emit.
type FakeStream struct {
	rate     int
	startErr error

	mu       sync.Mutex
	onBuffer func([]float32)
	started  bool
	stops    int
}

func (s *FakeStream) SampleRate() int { return s.rate }

func (s *FakeStream) Start(onBuffer func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	if s.stops > 0 {
		return errors.New("fake stream stopped")
	}
	s.onBuffer = onBuffer
	s.started = true
	return nil
}

func (s *FakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBuffer = nil
	s.started = false
	s.stops++
	return nil
}

// Emit hands samples to the installed tap as the device thread would.
// It reports false when no tap is installed.
func (s *FakeStream) Emit(samples []float32) bool {
	s.mu.Lock()
	cb := s.onBuffer
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(samples)
	return true
}

// Started reports whether a tap is installed.
func (s *FakeStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stops returns the number of Stop calls.
func (s *FakeStream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

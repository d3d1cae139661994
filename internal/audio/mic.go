package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrNoSuchDevice is returned when a requested input device id matches no
// capture device.
var ErrNoSuchDevice = errors.New("audio: no such input device")

// MicDevice is the system microphone, driven through miniaudio (malgo).
// The device id is matched against the capture device's id or name; an
// empty id opens the system default input.
type MicDevice struct {
	// BufferMillis is the period size requested from the driver; 0 leaves
	// the driver default.
	BufferMillis uint32
}

// Name returns the driver identifier.
func (d *MicDevice) Name() string { return "mic" }

// deviceEntry is what device matching needs from a malgo.DeviceInfo.
type deviceEntry struct {
	ID   string
	Name string
}

// matchDevice returns the index of the entry whose id equals want, or else
// the first whose name equals or contains want, ignoring case.
func matchDevice(entries []deviceEntry, want string) (int, bool) {
	for i, e := range entries {
		if e.ID == want {
			return i, true
		}
	}
	for i, e := range entries {
		if strings.EqualFold(e.Name, want) {
			return i, true
		}
	}
	lw := strings.ToLower(want)
	for i, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), lw) {
			return i, true
		}
	}
	return -1, false
}

// Open initialises a mono float32 capture device at its native rate. The
// device is not started until Start.
func (d *MicDevice) Open(deviceID string) (Stream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	s := &micStream{mctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = 0 // native
	cfg.PeriodSizeInMilliseconds = d.BufferMillis
	cfg.Alsa.NoMMap = 1

	if deviceID != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			s.release()
			return nil, fmt.Errorf("list input devices: %w", err)
		}
		entries := make([]deviceEntry, len(infos))
		for i, info := range infos {
			entries[i] = deviceEntry{ID: info.ID.String(), Name: info.Name()}
		}
		i, ok := matchDevice(entries, deviceID)
		if !ok {
			s.release()
			return nil, fmt.Errorf("%w: %q", ErrNoSuchDevice, deviceID)
		}
		s.id = infos[i].ID
		cfg.Capture.DeviceID = s.id.Pointer()
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.release()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	s.dev = dev
	return s, nil
}

type micStream struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
	id   malgo.DeviceID // kept alive while dev references it

	mu       sync.Mutex
	onBuffer func([]float32)
	buf      []float32
	started  bool
	closed   bool
}

func (s *micStream) SampleRate() int { return int(s.dev.SampleRate()) }

func (s *micStream) Start(onBuffer func([]float32)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("microphone stream already stopped")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.onBuffer = onBuffer
	s.started = true
	s.mu.Unlock()

	if err := s.dev.Start(); err != nil {
		s.mu.Lock()
		s.onBuffer, s.started = nil, false
		s.mu.Unlock()
		return fmt.Errorf("start capture device: %w", err)
	}
	return nil
}

// onData runs on the driver's real-time thread.
func (s *micStream) onData(_, input []byte, frames uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onBuffer == nil || frames == 0 {
		return
	}
	s.buf = decodeF32LE(s.buf, input)
	s.onBuffer(s.buf)
}

// Stop halts and uninitialises the device and its context. Safe to call
// repeatedly and without Start.
func (s *micStream) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	var err error
	if started {
		err = s.dev.Stop()
	}
	s.mu.Lock()
	s.onBuffer, s.started = nil, false
	s.mu.Unlock()
	s.dev.Uninit()
	s.release()
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

func (s *micStream) release() {
	_ = s.mctx.Uninit()
	s.mctx.Free()
}

// decodeF32LE decodes little-endian float32 samples from src into dst,
// reusing dst's storage. A trailing partial sample is ignored.
func decodeF32LE(dst []float32, src []byte) []float32 {
	n := len(src) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return dst
}

// NewDevice returns the input driver named by source: "mic" for the system
// microphone, "wav" for file replay (the device id is then the file path).
func NewDevice(source string) (Device, error) {
	switch source {
	case "", "mic":
		return &MicDevice{}, nil
	case "wav":
		return &WAVDevice{Realtime: true}, nil
	}
	return nil, fmt.Errorf("unknown audio source %q", source)
}

package deepgram

import (
	"context"
	"sync"
	"time"

	"github.com/tiroq/cuesync/internal/asr"
	"github.com/tiroq/cuesync/internal/audio"
)

// Backend is the cloud streaming transcriber: microphone capture feeding a
// Deepgram connection. One Backend serves one recording session.
type Backend struct {
	dev       audio.Device
	deviceID  string
	opts      Options
	newTicker func(time.Duration) ticker

	mu      sync.Mutex
	running bool
	capture *audio.Capture
	client  *Client
}

// NewBackend returns a stopped backend capturing from deviceID on dev.
func NewBackend(dev audio.Device, deviceID string, opts Options) *Backend {
	return &Backend{dev: dev, deviceID: deviceID, opts: opts, newTicker: newRealTicker}
}

func (b *Backend) Name() string { return "deepgram" }

// Start opens the microphone, connects and begins streaming. Any failure is
// reported as status and leaves nothing running.
func (b *Backend) Start(ctx context.Context, emit *asr.Emitter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if b.opts.APIKey == "" {
		emit.Status(MissingKeyStatus)
		return ErrMissingAPIKey
	}

	capture := audio.NewCapture(b.dev, audio.CaptureConfig{
		DeviceID: b.deviceID,
		OnLevel:  func(l float32) { emit.Level(l) },
		Logger:   b.opts.Logger,
	})
	if err := capture.Open(); err != nil {
		emit.Status("Audio error: %v", err)
		return err
	}

	client := NewClient(b.opts)
	client.newTicker = b.newTicker
	if err := client.Connect(ctx, capture.SampleRate(), emit); err != nil {
		_ = capture.Stop()
		emit.Status("Connection error: %v", err)
		return err
	}
	emit.Status("Listening…")

	// Send failures are surfaced by the client; capture keeps running.
	if err := capture.Start(func(f audio.Frame) {
		_ = client.SendAudio(audio.EncodePCM16(f.Samples))
	}); err != nil {
		_ = client.Close()
		emit.Status("Audio error: %v", err)
		return err
	}

	b.capture, b.client = capture, client
	b.running = true
	return nil
}

// Stop halts capture first so no audio races the CloseStream message, then
// closes the connection. Stop on a stopped backend is a no-op.
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.running = false
	capErr := b.capture.Stop()
	cliErr := b.client.Close()
	b.capture, b.client = nil, nil
	if capErr != nil {
		return capErr
	}
	return cliErr
}

package audio

import (
	"fmt"
	"sync"

	"github.com/tiroq/cuesync/internal/diaglog"
)

// defaultQueueSize bounds the hand-off between the device thread and the
// serial worker (~6s of 1024-sample buffers at 44.1kHz).
const defaultQueueSize = 256

// Process-wide ownership of input devices. A device is released only after
// its owner's teardown has completed.
var (
	ownersMu sync.Mutex
	owners   = make(map[string]*Capture)
)

func claim(key string, c *Capture) error {
	ownersMu.Lock()
	defer ownersMu.Unlock()
	if cur, ok := owners[key]; ok && cur != c {
		return ErrDeviceBusy
	}
	owners[key] = c
	return nil
}

func release(key string, c *Capture) {
	ownersMu.Lock()
	defer ownersMu.Unlock()
	if owners[key] == c {
		delete(owners, key)
	}
}

// CaptureConfig configures a Capture session.
type CaptureConfig struct {
	DeviceID  string          // "" = default input
	OnLevel   func(float32)   // called on the device thread before the frame is queued
	QueueSize int             // frames buffered for the worker; default 256
	Logger    *diaglog.Logger // optional
}

// Capture is one microphone session: it owns the device between Open and
// Stop, reports a level for every buffer and forwards a private copy of each
// buffer, in capture order, to a single worker goroutine.
type Capture struct {
	dev Device
	cfg CaptureConfig
	key string

	mu      sync.Mutex
	stream  Stream
	opened  bool
	running bool
	quit    chan struct{}
	frames  chan Frame
	done    chan struct{}
}

// NewCapture creates an idle capture session on dev.
func NewCapture(dev Device, cfg CaptureConfig) *Capture {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Capture{
		dev: dev,
		cfg: cfg,
		key: dev.Name() + "/" + cfg.DeviceID,
	}
}

// Open claims the device and prepares the input stream. It leaves the
// session untouched on failure.
func (c *Capture) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}
	if err := claim(c.key, c); err != nil {
		return err
	}
	stream, err := c.dev.Open(c.cfg.DeviceID)
	if err != nil {
		release(c.key, c)
		return fmt.Errorf("open input %q: %w", c.describe(), err)
	}
	c.stream = stream
	c.opened = true
	c.log(diaglog.EventCaptureOpen, map[string]interface{}{"device": c.describe(), "sample_rate": stream.SampleRate()})
	return nil
}

// SampleRate returns the native rate of the opened stream, or 0.
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return 0
	}
	return c.stream.SampleRate()
}

// Start installs the tap. handle runs on the capture worker goroutine, one
// frame at a time. If the device cannot start, the session is torn down and
// released before Start returns.
func (c *Capture) Start(handle func(Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if !c.opened {
		return ErrNotOpen
	}

	quit := make(chan struct{})
	frames := make(chan Frame, c.cfg.QueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range frames {
			handle(f)
		}
	}()

	rate := c.stream.SampleRate()
	onLevel := c.cfg.OnLevel
	err := c.stream.Start(func(samples []float32) {
		if onLevel != nil {
			onLevel(Level(samples))
		}
		f := Frame{Samples: make([]float32, len(samples)), SampleRate: rate}
		copy(f.Samples, samples)
		select {
		case frames <- f:
		case <-quit:
		}
	})
	if err != nil {
		close(quit)
		close(frames)
		<-done
		_ = c.stream.Stop()
		c.closeLocked()
		return fmt.Errorf("start input %q: %w", c.describe(), err)
	}

	c.quit, c.frames, c.done = quit, frames, done
	c.running = true
	return nil
}

// Stop removes the tap, halts the device, drains the worker and releases the
// device. It is safe to call any number of times.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	var err error
	if c.running {
		close(c.quit)
		err = c.stream.Stop()
		close(c.frames)
		<-c.done
		c.running = false
	} else {
		err = c.stream.Stop()
	}
	c.closeLocked()
	if err != nil {
		return fmt.Errorf("stop input %q: %w", c.describe(), err)
	}
	return nil
}

// Running reports whether the tap is installed.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Capture) closeLocked() {
	c.stream = nil
	c.opened = false
	release(c.key, c)
	c.log(diaglog.EventCaptureClose, map[string]interface{}{"device": c.describe()})
}

func (c *Capture) describe() string {
	if c.cfg.DeviceID == "" {
		return c.dev.Name() + ":default"
	}
	return c.dev.Name() + ":" + c.cfg.DeviceID
}

func (c *Capture) log(event string, payload map[string]interface{}) {
	c.cfg.Logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAudioCapture,
		Event:     event,
		Payload:   payload,
	})
}

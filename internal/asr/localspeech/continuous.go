package localspeech

import (
	"context"
	"fmt"
	"sync"

	"github.com/tiroq/cuesync/internal/asr"
	"github.com/tiroq/cuesync/internal/audio"
	"github.com/tiroq/cuesync/internal/diaglog"
	"github.com/tiroq/cuesync/internal/statemachine"
)

// Options configures a Continuous recognizer.
type Options struct {
	Locale    string
	DeviceID  string // applied to every session, including restarts
	Logger    *diaglog.Logger
	SessionID string
}

// Continuous splices consecutive recognizer sessions. When a session ends
// while recording, the visible text is frozen into a prefix and a fresh
// capture and session are started. Frozen text is never changed.
type Continuous struct {
	dev  audio.Device
	rec  Recognizer
	opts Options
	lc   *statemachine.Lifecycle

	mu        sync.Mutex
	recording bool
	stopping  bool
	prefix    string
	partial   string
	capture   *audio.Capture
	session   Session
	emit      *asr.Emitter
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New returns an idle recognizer capturing from dev.
func New(dev audio.Device, rec Recognizer, opts Options) *Continuous {
	return &Continuous{dev: dev, rec: rec, opts: opts, lc: statemachine.New(nil)}
}

func (c *Continuous) Name() string { return "local" }

// Start begins the first session. A recognizer or device failure is
// reported as status and nothing keeps running.
func (c *Continuous) Start(ctx context.Context, emit *asr.Emitter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return nil
	}
	if c.stopping {
		return ErrStopping
	}
	if err := c.rec.Available(); err != nil {
		emit.Status("Speech recognition unavailable: %v", err)
		return fmt.Errorf("%w: %v", ErrRecognizerUnavailable, err)
	}

	c.emit = emit
	c.prefix, c.partial = "", ""
	c.ctx, c.cancel = context.WithCancel(context.Background())
	if err := c.armLocked(); err != nil {
		c.cancel()
		emit.Status("Audio error: %v", err)
		return err
	}
	_ = c.lc.Start(ctx)
	c.recording = true
	c.log(diaglog.EventSessionStart, "", map[string]interface{}{"locale": c.opts.Locale})
	emit.Status("Listening…")
	return nil
}

// armLocked opens a capture and a recognizer session and wires them.
func (c *Continuous) armLocked() error {
	capture := audio.NewCapture(c.dev, audio.CaptureConfig{
		DeviceID: c.opts.DeviceID,
		OnLevel:  func(l float32) { c.emit.Level(l) },
		Logger:   c.opts.Logger,
	})
	if err := capture.Open(); err != nil {
		return err
	}
	sess, err := c.rec.NewSession(c.ctx, SessionOptions{Locale: c.opts.Locale, SampleRate: capture.SampleRate()})
	if err != nil {
		_ = capture.Stop()
		return fmt.Errorf("start recognizer session: %w", err)
	}
	if err := capture.Start(func(f audio.Frame) { _ = sess.Append(f) }); err != nil {
		_ = sess.Close()
		drain(sess)
		return err
	}
	c.capture, c.session = capture, sess
	c.wg.Add(1)
	go c.watch(sess)
	return nil
}

// drain consumes a session that never got a watcher.
func drain(sess Session) {
	go func() {
		for range sess.Results() {
		}
	}()
}

// watch applies results of sess and restarts when the recognizer ends it.
func (c *Continuous) watch(sess Session) {
	defer c.wg.Done()
	for r := range sess.Results() {
		if r.Err != nil {
			c.log(diaglog.EventSessionStop, r.Err.Error(), nil)
			continue
		}
		c.mu.Lock()
		if c.session != sess {
			c.mu.Unlock()
			continue
		}
		c.partial = r.Text
		text := c.visibleLocked()
		emit := c.emit
		c.mu.Unlock()
		emit.Transcript(text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording || c.session != sess {
		return
	}
	c.restartLocked()
}

// restartLocked freezes the visible text and re-arms on the same device.
// A failed re-arm is swallowed; the prefix stays visible.
func (c *Continuous) restartLocked() {
	c.prefix = c.visibleLocked()
	c.partial = ""
	_ = c.lc.Terminated(c.ctx)

	if c.capture != nil {
		_ = c.capture.Stop()
	}
	if c.session != nil {
		_ = c.session.Close()
	}
	c.capture, c.session = nil, nil

	if err := c.armLocked(); err != nil {
		c.lc.RestartFailed()
		c.log(diaglog.EventRecognizerRestartKO, err.Error(), map[string]interface{}{"prefix_chars": len(c.prefix)})
		return
	}
	_ = c.lc.Rearmed(c.ctx)
	c.log(diaglog.EventRecognizerRestart, "session limit", map[string]interface{}{"restarts": c.lc.Restarts()})
}

// Stop ends recording, lets the current session deliver its last result and
// waits for the watcher. Stop on a stopped recognizer is a no-op. The capture
// and session are torn down without holding c.mu, since both may wait on the
// watcher, which takes c.mu per result.
func (c *Continuous) Stop() error {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = false
	c.stopping = true
	capture, sess := c.capture, c.session
	_ = c.lc.Stop(c.ctx)
	c.mu.Unlock()

	var err error
	if capture != nil {
		err = capture.Stop()
	}
	if sess != nil {
		if cerr := sess.Close(); err == nil {
			err = cerr
		}
	}
	c.wg.Wait()

	c.mu.Lock()
	c.cancel()
	c.capture, c.session = nil, nil
	c.stopping = false
	c.log(diaglog.EventSessionStop, "", map[string]interface{}{"restarts": c.lc.Restarts(), "chars": len(c.visibleLocked())})
	c.mu.Unlock()
	return err
}

// Transcript returns the spliced text.
func (c *Continuous) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

// State returns the lifecycle state.
func (c *Continuous) State() statemachine.State { return c.lc.Current() }

// Restarts returns the number of successful session restarts.
func (c *Continuous) Restarts() int { return c.lc.Restarts() }

func (c *Continuous) visibleLocked() string {
	switch {
	case c.prefix == "":
		return c.partial
	case c.partial == "":
		return c.prefix
	}
	return c.prefix + " " + c.partial
}

func (c *Continuous) log(event, reason string, payload map[string]interface{}) {
	entry := diaglog.LogEntry{
		Component: diaglog.ComponentLocalSpeech,
		Event:     event,
		SessionID: c.opts.SessionID,
		Reason:    reason,
	}
	if payload != nil {
		entry.Payload = payload
	}
	c.opts.Logger.Log(entry)
}

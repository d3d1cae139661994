// Package deepgram streams microphone audio to Deepgram's live
// transcription websocket and decodes its incremental results.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tiroq/cuesync/internal/asr"
	"github.com/tiroq/cuesync/internal/diaglog"
)

const (
	// DefaultEndpoint is the production listen route.
	DefaultEndpoint = "wss://api.deepgram.com/v1/listen"
	// DefaultKeepAlive is the control-message cadence.
	DefaultKeepAlive = 10 * time.Second

	maxBackoff = 30 * time.Second
)

// backoffBase is the first reconnect delay. Overridden in tests.
var backoffBase = time.Second

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("deepgram: API key not set")

	errNotConnected = errors.New("deepgram: not connected")
)

// MissingKeyStatus is the status text shown when the key is absent.
const MissingKeyStatus = "Deepgram API key not set"

// ticker abstracts time.Ticker so keepalive cadence can be driven by tests.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) ticker { return realTicker{time.NewTicker(d)} }

// Options configures a Client.
type Options struct {
	APIKey            string
	Endpoint          string        // default DefaultEndpoint
	KeepAlive         time.Duration // default DefaultKeepAlive
	ReconnectAttempts int           // 0 = report the drop and give up
	Dialer            *websocket.Dialer
	Logger            *diaglog.Logger
	SessionID         string
}

// Client is one streaming connection. Binary audio, keepalives and control
// messages share the socket and are serialized by writeMu.
type Client struct {
	opts      Options
	newTicker func(time.Duration) ticker

	mu         sync.Mutex
	conn       *websocket.Conn
	url        string
	emit       *asr.Emitter
	connected  bool
	stopping   bool
	sendFailed bool
	done       chan struct{}
	cancel     context.CancelFunc
	dialCtx    context.Context

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewClient creates an unconnected client.
func NewClient(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{opts: opts, newTicker: newRealTicker}
}

// Connect dials the listen endpoint for audio at sampleRate and starts the
// receive loop and keepalive timer. Results and status go to emit.
func (c *Client) Connect(ctx context.Context, sampleRate int, emit *asr.Emitter) error {
	if c.opts.APIKey == "" {
		return ErrMissingAPIKey
	}
	u, err := ListenURL(c.opts.Endpoint, sampleRate)
	if err != nil {
		return fmt.Errorf("invalid Deepgram URL: %w", err)
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.url = u
	c.emit = emit
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.stopping = false
	c.done = make(chan struct{})
	c.dialCtx, c.cancel = context.WithCancel(context.Background())
	done := c.done
	c.mu.Unlock()

	c.log(diaglog.EventWSConnect, "", map[string]interface{}{"url": u})

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.keepAlive(done)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Token "+c.opts.APIKey)
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// SendAudio sends samples as one binary PCM16 message. A failure is
// reported as status once per outage and returned.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, pcm)
	c.writeMu.Unlock()

	c.mu.Lock()
	first := err != nil && !c.sendFailed
	c.sendFailed = err != nil
	emit, stopping := c.emit, c.stopping
	c.mu.Unlock()

	if first && !stopping {
		c.log(diaglog.EventWSSendError, err.Error(), nil)
		emit.Status("Stream error: %v", err)
	}
	return err
}

// readLoop handles messages until the connection fails. Text and binary
// messages are both decoded as UTF-8 JSON.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopping := c.stopping
			if c.conn == conn {
				c.conn = nil
			}
			emit := c.emit
			c.mu.Unlock()
			_ = conn.Close()
			if stopping {
				return
			}
			c.log(diaglog.EventWSDisconnect, err.Error(), nil)
			emit.Status("Connection error: %v", err)
			if c.opts.ReconnectAttempts > 0 {
				c.reconnect()
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	d, ok := decodeResult(data)
	if !ok {
		return
	}
	c.mu.Lock()
	emit := c.emit
	c.mu.Unlock()
	if len(d.words) > 0 {
		emit.Words(d.words)
	}
	if d.final != "" {
		emit.Final(d.final)
	}
}

// keepAlive sends the KeepAlive control message on every tick until done.
func (c *Client) keepAlive(done <-chan struct{}) {
	defer c.wg.Done()
	t := c.newTicker(c.opts.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C():
			err := c.writeText(keepAliveMessage)
			switch {
			case err == nil:
				c.log(diaglog.EventKeepAlive, "", nil)
			case !errors.Is(err, errNotConnected):
				c.log(diaglog.EventWSSendError, err.Error(), map[string]interface{}{"message": "KeepAlive"})
			}
		}
	}
}

func (c *Client) writeText(msg string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// reconnect redials with exponential backoff and jitter, at most
// ReconnectAttempts times, until Close.
func (c *Client) reconnect() {
	c.mu.Lock()
	done, emit, ctx := c.done, c.emit, c.dialCtx
	c.mu.Unlock()

	delay := backoffBase
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-done:
			return
		case <-time.After(delay):
		}
		c.log(diaglog.EventWSReconnectAttempt, "", map[string]interface{}{"attempt": attempt, "delay_ms": delay.Milliseconds()})

		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			if c.stopping {
				c.mu.Unlock()
				_ = conn.Close()
				return
			}
			c.conn = conn
			c.sendFailed = false
			c.wg.Add(1)
			c.mu.Unlock()

			c.log(diaglog.EventWSReconnectSuccess, "", map[string]interface{}{"attempt": attempt})
			emit.Status("Listening…")
			go c.readLoop(conn)
			return
		}
		c.log(diaglog.EventWSReconnectFailed, err.Error(), map[string]interface{}{"attempt": attempt})

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
		// ±10% jitter
		delay += time.Duration(float64(delay) * 0.2 * (rand.Float64() - 0.5))
		if delay < backoffBase {
			delay = backoffBase
		}
	}
	emit.Status("Connection error: gave up after %d reconnect attempts", c.opts.ReconnectAttempts)
}

// Close stops the keepalive timer, sends CloseStream, closes the socket with
// "going away" and waits for the receive loop. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.stopping = true
	close(c.done)
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage))
		if err == nil {
			c.log(diaglog.EventCloseStream, "", nil)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		// Give the server a moment to echo the close, then cut the socket.
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	}
	c.wg.Wait()
	if conn != nil {
		_ = conn.Close()
	}
	c.log(diaglog.EventWSDisconnect, "stop", nil)
	return err
}

func (c *Client) log(event, reason string, payload map[string]interface{}) {
	entry := diaglog.LogEntry{
		Component: diaglog.ComponentDeepgram,
		Event:     event,
		SessionID: c.opts.SessionID,
		Reason:    reason,
	}
	if payload != nil {
		entry.Payload = payload
	}
	c.opts.Logger.Log(entry)
}

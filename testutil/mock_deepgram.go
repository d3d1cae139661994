package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockDeepgram simulates the Deepgram live-transcription websocket. It
// records the handshake and every frame the client sends, and lets the test
// push result messages back.
type MockDeepgram struct {
	srv *httptest.Server

	mu          sync.Mutex
	writeMu     sync.Mutex
	conn        *websocket.Conn
	all         []*websocket.Conn
	query       url.Values
	header      http.Header
	binary      [][]byte
	text        []string
	closeCode   int
	connections int
	rejectAuth  bool
	connected   chan struct{}
	closed      chan struct{}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewMockDeepgram starts the server on a loopback port.
func NewMockDeepgram() *MockDeepgram {
	m := &MockDeepgram{
		connected: make(chan struct{}, 16),
		closed:    make(chan struct{}, 16),
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the ws:// endpoint of the listen route.
func (m *MockDeepgram) URL() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http") + "/v1/listen"
}

// RejectAuth makes subsequent handshakes fail with 401.
func (m *MockDeepgram) RejectAuth(reject bool) {
	m.mu.Lock()
	m.rejectAuth = reject
	m.mu.Unlock()
}

func (m *MockDeepgram) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.rejectAuth
	m.mu.Unlock()
	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.all = append(m.all, conn)
	m.query = r.URL.Query()
	m.header = r.Header.Clone()
	m.connections++
	m.mu.Unlock()
	m.connected <- struct{}{}

	defer func() {
		_ = conn.Close()
		m.closed <- struct{}{}
	}()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				m.mu.Lock()
				m.closeCode = ce.Code
				m.mu.Unlock()
			}
			return
		}
		m.mu.Lock()
		switch mt {
		case websocket.BinaryMessage:
			m.binary = append(m.binary, data)
		case websocket.TextMessage:
			m.text = append(m.text, string(data))
		}
		m.mu.Unlock()
	}
}

// WaitConnected blocks until a client completes the handshake.
func (m *MockDeepgram) WaitConnected(timeout time.Duration) bool {
	select {
	case <-m.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WaitClosed blocks until the server side of a connection has finished.
func (m *MockDeepgram) WaitClosed(timeout time.Duration) bool {
	select {
	case <-m.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Push sends v as a JSON text message to the connected client.
func (m *MockDeepgram) Push(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.PushRaw(websocket.TextMessage, data)
}

// PushRaw sends a raw message of the given websocket type.
func (m *MockDeepgram) PushRaw(messageType int, data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("no client connected")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// DropConnection closes the current connection without a close handshake.
func (m *MockDeepgram) DropConnection() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		_ = conn.UnderlyingConn().Close()
	}
}

// Query returns the query string of the last handshake.
func (m *MockDeepgram) Query() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.query
}

// Header returns the request headers of the last handshake.
func (m *MockDeepgram) Header() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

// BinaryFrames returns a copy of the audio frames received so far.
func (m *MockDeepgram) BinaryFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.binary...)
}

// TextFrames returns a copy of the control messages received so far.
func (m *MockDeepgram) TextFrames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.text...)
}

// CountText returns how many text frames equal msg.
func (m *MockDeepgram) CountText(msg string) int {
	n := 0
	for _, s := range m.TextFrames() {
		if s == msg {
			n++
		}
	}
	return n
}

// CloseCode returns the close code sent by the client, or 0.
func (m *MockDeepgram) CloseCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCode
}

// Connections returns the number of successful handshakes.
func (m *MockDeepgram) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections
}

// Close shuts the server down.
func (m *MockDeepgram) Close() {
	m.mu.Lock()
	conns := m.all
	m.all = nil
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.UnderlyingConn().Close()
	}
	m.srv.CloseClientConnections()
	m.srv.Close()
}

// Result builds a Deepgram-shaped result message.
func Result(transcript string, final bool, words ...string) map[string]interface{} {
	ws := make([]map[string]interface{}, 0, len(words))
	for i, w := range words {
		ws = append(ws, map[string]interface{}{
			"word":  w,
			"start": float64(i) * 0.5,
			"end":   float64(i)*0.5 + 0.4,
		})
	}
	return map[string]interface{}{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]interface{}{
			"alternatives": []map[string]interface{}{
				{"transcript": transcript, "words": ws},
			},
		},
	}
}

// Package diaglog provides structured NDJSON diagnostic logging for CueSync.
// Activated by CUESYNC_DEBUG=true or log.debug in the config file. When
// disabled, all Log calls are no-ops and no file is created.
package diaglog

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentAudioCapture = "audio-capture"
	ComponentDeepgram     = "deepgram-client"
	ComponentLocalSpeech  = "local-speech"
	ComponentResync       = "resync"
	ComponentOrchestrator = "orchestrator"
	ComponentLLM          = "llm"
	ComponentCore         = "cuesync-core"
	ComponentDiagExport   = "diag-export"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventCaptureOpen         = "capture_open"
	EventCaptureClose        = "capture_close"
	EventWSConnect           = "ws_connect"
	EventWSRecv              = "ws_recv"
	EventWSSendError         = "ws_send_error"
	EventWSDisconnect        = "ws_disconnect"
	EventWSReconnectAttempt  = "ws_reconnect_attempt"
	EventWSReconnectSuccess  = "ws_reconnect_success"
	EventWSReconnectFailed   = "ws_reconnect_failed"
	EventKeepAlive           = "keepalive"
	EventCloseStream         = "close_stream"
	EventSessionStart        = "session_start"
	EventSessionStop         = "session_stop"
	EventRecognizerRestart   = "recognizer_restart"
	EventRecognizerRestartKO = "recognizer_restart_failed"
	EventResyncRequest       = "resync_request"
	EventResyncResult        = "resync_result"
	EventResyncRejected      = "resync_rejected"
	EventLLMRequest          = "llm_request"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
// The timestamp ("ts") is stamped when the entry is written.
type LogEntry struct {
	Component string      // see Component* constants
	Event     string      // see Event* constants
	SessionID string      // recording session, if any
	Reason    string      // free-form cause
	Payload   interface{} // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values through a zap JSON core into a rolling
// NDJSON file. A nil or disabled Logger drops every entry.
type Logger struct {
	zl      *zap.Logger
	rw      *rollingWriter
	mu      sync.Mutex
	enabled bool
}

// MaxLogSize is the size at which the diagnostic file is rotated.
const MaxLogSize = 10 * 1024 * 1024

// New opens (or creates) the NDJSON log file at path when debug is true or
// CUESYNC_DEBUG=true. Otherwise path is ignored and a no-op logger is
// returned.
func New(path string, debug bool) (*Logger, error) {
	if !debug && !IsDebugEnabled() {
		return NewNoOp(), nil
	}
	rw, err := newRollingWriter(path, MaxLogSize)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), rw, zapcore.DebugLevel)
	return &Logger{zl: zap.New(core), rw: rw, enabled: true}, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339Nano),
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

// Log writes entry as one JSON line. Sensitive payload fields are redacted
// before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	fields := make([]zap.Field, 0, 4)
	fields = append(fields, zap.String("component", entry.Component))
	if entry.SessionID != "" {
		fields = append(fields, zap.String("session_id", entry.SessionID))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Payload != nil {
		fields = append(fields, zap.Any("payload", Redact(entry.Payload)))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Info(entry.Event, fields...)
}

// Enabled reports whether entries are written.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.zl.Sync()
	l.enabled = false
	return l.rw.close()
}

// IsDebugEnabled reports whether CUESYNC_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv("CUESYNC_DEBUG") == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}

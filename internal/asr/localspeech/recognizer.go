// Package localspeech keeps an on-device speech recognizer running past its
// per-session time limit by chaining sessions into one transcript.
package localspeech

import (
	"context"
	"errors"

	"github.com/tiroq/cuesync/internal/audio"
)

// ErrRecognizerUnavailable is returned when the platform recognizer cannot
// be used (missing helper, no permission, unsupported locale).
var ErrRecognizerUnavailable = errors.New("localspeech: speech recognizer unavailable")

// ErrStopping is returned by Start while a previous Stop is still draining.
var ErrStopping = errors.New("localspeech: recognizer is stopping")

// SessionOptions configures one recognizer session.
type SessionOptions struct {
	Locale     string
	SampleRate int
}

// Result is a recognizer update. Text is the session's whole hypothesis so
// far, not a delta.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Recognizer is the capability interface of an on-device recognizer.
type Recognizer interface {
	// Available reports why the recognizer cannot run, or nil.
	Available() error
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is one bounded recognition run. Results is closed when the
// recognizer ends the session, on its own or after Close.
type Session interface {
	Append(f audio.Frame) error
	Results() <-chan Result
	Close() error
}

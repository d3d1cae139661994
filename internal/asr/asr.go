// Package asr holds the types shared by the live transcription backends and
// the registry the orchestrator selects them from.
package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBackend is returned for a selection with no registered factory.
var ErrUnknownBackend = errors.New("asr: unknown backend")

// Selection names the backend used for a recording session. It is chosen
// once at start and does not change while the session runs.
type Selection string

const (
	SelectionLocal Selection = "local" // on-device recognizer, spliced sessions
	SelectionCloud Selection = "cloud" // Deepgram streaming
)

// ParseSelection maps a config value to a Selection. Matching ignores case
// and surrounding space.
func ParseSelection(s string) (Selection, error) {
	switch Selection(strings.ToLower(strings.TrimSpace(s))) {
	case SelectionLocal:
		return SelectionLocal, nil
	case SelectionCloud:
		return SelectionCloud, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// WordTiming is one recognized word with offsets in seconds from the start
// of the stream. Only the cloud backend produces them.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Utterance is a recognition result. Only final utterances are accumulated.
type Utterance struct {
	Text  string
	Final bool
}

// Backend is a live transcriber. Start begins capture and streaming and
// publishes results through emit until Stop. Start on a running backend and
// Stop on a stopped one are no-ops.
type Backend interface {
	Name() string
	Start(ctx context.Context, emit *Emitter) error
	Stop() error
}

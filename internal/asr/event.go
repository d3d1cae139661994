package asr

import (
	"fmt"
	"time"
)

// EventKind tags an Event.
type EventKind int

const (
	EventStatus     EventKind = iota // Status is set
	EventWords                       // Words is set
	EventUtterance                   // Utterance is set; always final
	EventLevel                       // Level is set
	EventTranscript                  // Transcript carries the whole live text
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventWords:
		return "words"
	case EventUtterance:
		return "utterance"
	case EventLevel:
		return "level"
	case EventTranscript:
		return "transcript"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is the single message type flowing from a backend to consumers.
type Event struct {
	Kind       EventKind
	At         time.Time
	Status     string
	Words      []WordTiming
	Utterance  Utterance
	Level      float32
	Transcript string
}

// Emitter delivers events to one channel until done is closed. Emit blocks
// while the consumer is behind; TryEmit drops instead and is used from the
// audio thread.
type Emitter struct {
	ch   chan<- Event
	done <-chan struct{}
}

// NewEmitter returns an Emitter writing to ch. A nil done never fires.
func NewEmitter(ch chan<- Event, done <-chan struct{}) *Emitter {
	return &Emitter{ch: ch, done: done}
}

// Emit sends ev, stamping At if unset. It returns false if the emitter is
// nil or done was closed first.
func (e *Emitter) Emit(ev Event) bool {
	if e == nil || e.ch == nil {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.done:
		return false
	}
}

// TryEmit sends ev only if the channel has room.
func (e *Emitter) TryEmit(ev Event) bool {
	if e == nil || e.ch == nil {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case e.ch <- ev:
		return true
	default:
		return false
	}
}

// Status emits a status text event.
func (e *Emitter) Status(format string, args ...interface{}) bool {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return e.Emit(Event{Kind: EventStatus, Status: msg})
}

// Words emits a word batch. Empty batches are skipped.
func (e *Emitter) Words(words []WordTiming) bool {
	if len(words) == 0 {
		return false
	}
	return e.Emit(Event{Kind: EventWords, Words: words})
}

// Final emits a completed utterance.
func (e *Emitter) Final(text string) bool {
	return e.Emit(Event{Kind: EventUtterance, Utterance: Utterance{Text: text, Final: true}})
}

// Transcript emits the full live transcript.
func (e *Emitter) Transcript(text string) bool {
	return e.Emit(Event{Kind: EventTranscript, Transcript: text})
}

// Level offers an audio level without blocking.
func (e *Emitter) Level(level float32) bool {
	return e.TryEmit(Event{Kind: EventLevel, Level: level})
}

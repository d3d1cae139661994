// Package orchestrator runs one transcription backend per recording session
// and merges what it publishes into a single event stream, along with the
// session transcript, the level meter history and the speaking pace.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/cuesync/internal/asr"
	"github.com/tiroq/cuesync/internal/audio"
	"github.com/tiroq/cuesync/internal/diaglog"
	"github.com/tiroq/cuesync/internal/transcript"
)

const (
	DefaultEventBuffer = 256
	DefaultPaceWindow  = 10 * time.Second
)

// ErrNoMatcher is returned by Resync when no matcher is configured.
var ErrNoMatcher = errors.New("orchestrator: resync not configured")

// Matcher relocates a read position; *resync.Matcher implements it.
type Matcher interface {
	Resync(ctx context.Context, script string, offset int, recentSpeech string) (int, bool)
}

// Options configures an Orchestrator.
type Options struct {
	Registry    *asr.Registry
	Selection   asr.Selection // empty uses the registry primary
	Matcher     Matcher
	EventBuffer int
	PaceWindow  time.Duration
	Logger      *diaglog.Logger
	SessionID   string
}

// Orchestrator is safe for concurrent use. Start and Stop are idempotent.
type Orchestrator struct {
	opts Options
	out  chan asr.Event

	// lifecycle
	mu        sync.Mutex
	backend   asr.Backend
	selection asr.Selection
	running   bool
	stopping  chan struct{}
	sessDone  chan struct{}
	pumpDone  chan struct{}

	// session state, written by the pump
	stateMu    sync.Mutex
	finals     []string
	live       string
	hasLive    bool
	words      []asr.WordTiming
	lastStatus string
	levels     *audio.LevelHistory
	started    time.Time
	ended      time.Time
	segments   []transcript.Segment
	segEnd     time.Duration
	restarts   int
}

// New returns an idle orchestrator.
func New(opts Options) *Orchestrator {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.PaceWindow <= 0 {
		opts.PaceWindow = DefaultPaceWindow
	}
	if opts.Registry == nil {
		opts.Registry = asr.NewRegistry()
	}
	return &Orchestrator{
		opts:   opts,
		out:    make(chan asr.Event, opts.EventBuffer),
		levels: audio.NewLevelHistory(audio.LevelHistoryCapacity),
	}
}

// Events returns the merged stream. It stays open for the orchestrator's
// lifetime and spans sessions. Level events are dropped when the consumer
// falls behind; other events wait for it unless a stop is in progress.
func (o *Orchestrator) Events() <-chan asr.Event { return o.out }

// SetSelection chooses the backend for the next session. The running
// session keeps its backend.
func (o *Orchestrator) SetSelection(sel asr.Selection) {
	o.mu.Lock()
	o.opts.Selection = sel
	o.mu.Unlock()
}

// Selection returns the backend of the current or last session.
func (o *Orchestrator) Selection() asr.Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selection
}

// SetSessionID labels diagnostics of the next session.
func (o *Orchestrator) SetSessionID(id string) {
	o.mu.Lock()
	o.opts.SessionID = id
	o.mu.Unlock()
}

// Running reports whether a session is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start builds the selected backend and starts it. Start while running is a
// no-op. On failure the backend has already reported a status event and no
// session is left running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	sel := o.opts.Selection
	if sel == "" {
		sel = o.opts.Registry.Primary()
	}
	b, err := o.opts.Registry.New(sel)
	if err != nil {
		o.publishStatus("Backend error: " + err.Error())
		o.log(diaglog.EventSessionStart, err.Error(), map[string]interface{}{"backend": string(sel)})
		return err
	}

	o.resetState()
	in := make(chan asr.Event, o.opts.EventBuffer)
	o.stopping = make(chan struct{})
	o.sessDone = make(chan struct{})
	o.pumpDone = make(chan struct{})
	go o.pump(in, o.stopping, o.sessDone, o.pumpDone)

	if err := b.Start(ctx, asr.NewEmitter(in, o.sessDone)); err != nil {
		close(o.stopping)
		close(o.sessDone)
		<-o.pumpDone
		o.log(diaglog.EventSessionStart, err.Error(), map[string]interface{}{"backend": string(sel)})
		return err
	}

	o.backend, o.selection, o.running = b, sel, true
	o.log(diaglog.EventSessionStart, "", map[string]interface{}{"backend": string(sel), "impl": b.Name()})
	return nil
}

// Stop halts the backend, waits until every event it emitted has been
// applied and returns the session transcript. Stop while idle returns the
// last transcript.
func (o *Orchestrator) Stop() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return o.Transcript(), nil
	}
	o.running = false

	close(o.stopping)
	err := o.backend.Stop()
	close(o.sessDone)
	<-o.pumpDone
	restarts := 0
	if r, ok := o.backend.(interface{ Restarts() int }); ok {
		restarts = r.Restarts()
	}
	o.backend = nil
	o.stateMu.Lock()
	o.ended = time.Now()
	o.restarts = restarts
	o.stateMu.Unlock()

	text := o.Transcript()
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	o.log(diaglog.EventSessionStop, reason, map[string]interface{}{"backend": string(o.selection), "chars": len(text)})
	return text, err
}

// pump applies backend events to the session state and forwards them.
func (o *Orchestrator) pump(in <-chan asr.Event, stopping, sessDone <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case ev := <-in:
			o.apply(ev)
			o.forward(ev, stopping)
		case <-sessDone:
			for {
				select {
				case ev := <-in:
					o.apply(ev)
					o.forward(ev, stopping)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) apply(ev asr.Event) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	switch ev.Kind {
	case asr.EventStatus:
		o.lastStatus = ev.Status
	case asr.EventWords:
		o.mergeWordsLocked(ev.Words)
	case asr.EventUtterance:
		if t := strings.TrimSpace(ev.Utterance.Text); ev.Utterance.Final && t != "" {
			o.finals = append(o.finals, t)
			end := ev.At.Sub(o.started)
			if end < o.segEnd {
				end = o.segEnd
			}
			o.segments = append(o.segments, transcript.Segment{Start: o.segEnd, End: end, Text: t})
			o.segEnd = end
		}
	case asr.EventTranscript:
		o.live, o.hasLive = ev.Transcript, true
	case asr.EventLevel:
		o.levels.Push(ev.Level)
	}
}

func (o *Orchestrator) forward(ev asr.Event, stopping <-chan struct{}) {
	if ev.Kind == asr.EventLevel {
		select {
		case o.out <- ev:
		default:
		}
		return
	}
	select {
	case o.out <- ev:
	case <-stopping:
		select {
		case o.out <- ev:
		default:
		}
	}
}

func (o *Orchestrator) publishStatus(msg string) {
	o.stateMu.Lock()
	o.lastStatus = msg
	o.stateMu.Unlock()
	select {
	case o.out <- asr.Event{Kind: asr.EventStatus, At: time.Now(), Status: msg}:
	default:
	}
}

func (o *Orchestrator) resetState() {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.finals = nil
	o.live, o.hasLive = "", false
	o.words = nil
	o.lastStatus = ""
	o.levels.Reset()
	o.started, o.ended = time.Now(), time.Time{}
	o.segments, o.segEnd = nil, 0
	o.restarts = 0
}

// Transcript returns the session text: the live spliced text for backends
// that publish one, otherwise the final utterances joined by spaces.
func (o *Orchestrator) Transcript() string {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.transcriptLocked()
}

func (o *Orchestrator) transcriptLocked() string {
	if o.hasLive {
		return strings.TrimSpace(o.live)
	}
	return strings.Join(o.finals, " ")
}

// Session returns the transcript of the current or last session for the
// output writers. Final utterances become timed segments; a spliced live
// transcript has no per-segment timing.
func (o *Orchestrator) Session() *transcript.Session {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	end := o.ended
	if end.IsZero() {
		end = time.Now()
	}
	s := &transcript.Session{Text: o.transcriptLocked()}
	if !o.started.IsZero() {
		s.Duration = end.Sub(o.started)
	}
	if !o.hasLive {
		s.Segments = append([]transcript.Segment(nil), o.segments...)
	}
	return s
}

// StartedAt returns when the current or last session started.
func (o *Orchestrator) StartedAt() time.Time {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.started
}

// LastStatus returns the most recent status text.
func (o *Orchestrator) LastStatus() string {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.lastStatus
}

// Restarts returns how often the last session's recognizer was re-armed.
func (o *Orchestrator) Restarts() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.restarts
}

// Levels returns the meter history, oldest first.
func (o *Orchestrator) Levels() []float32 { return o.levels.Snapshot() }

// Resync relocates offset in script using the tail of the transcript as the
// recent speech.
func (o *Orchestrator) Resync(ctx context.Context, script string, offset int) (int, bool, error) {
	if o.opts.Matcher == nil {
		return 0, false, ErrNoMatcher
	}
	speech := o.Transcript()
	if speech == "" {
		return 0, false, nil
	}
	n, ok := o.opts.Matcher.Resync(ctx, script, offset, speech)
	return n, ok, nil
}

func (o *Orchestrator) log(event, reason string, payload map[string]interface{}) {
	o.opts.Logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     event,
		SessionID: o.opts.SessionID,
		Reason:    reason,
		Payload:   payload,
	})
}

// Package statemachine tracks the lifecycle of the continuous local
// recognizer: idle, recognizing, and restarting between two recognizer
// sessions.
package statemachine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// State is a recognizer lifecycle state.
type State string

const (
	Idle        State = "idle"
	Recognizing State = "recognizing"
	Restarting  State = "restarting"
)

// Events accepted by the lifecycle.
const (
	EventStart     = "start"     // idle -> recognizing
	EventTerminate = "terminate" // recognizing -> restarting
	EventRearm     = "rearm"     // restarting -> recognizing
	EventStop      = "stop"      // any -> idle
)

// Lifecycle wraps a looplab FSM with the recognizer's transition table and
// keeps a few counters for status reporting.
type Lifecycle struct {
	f *fsm.FSM

	mu        sync.Mutex
	restarts  int
	failures  int
	enteredAt time.Time
	onChange  func(from, to State)
}

// New returns a lifecycle in Idle. onChange, if set, runs after every
// state change.
func New(onChange func(from, to State)) *Lifecycle {
	l := &Lifecycle{enteredAt: time.Now(), onChange: onChange}
	l.f = fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: EventStart, Src: []string{string(Idle)}, Dst: string(Recognizing)},
			{Name: EventTerminate, Src: []string{string(Recognizing)}, Dst: string(Restarting)},
			{Name: EventRearm, Src: []string{string(Restarting)}, Dst: string(Recognizing)},
			{Name: EventStop, Src: []string{string(Idle), string(Recognizing), string(Restarting)}, Dst: string(Idle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.mu.Lock()
				l.enteredAt = time.Now()
				cb := l.onChange
				l.mu.Unlock()
				if cb != nil {
					cb(State(e.Src), State(e.Dst))
				}
			},
			"after_" + EventRearm: func(_ context.Context, _ *fsm.Event) {
				l.mu.Lock()
				l.restarts++
				l.mu.Unlock()
			},
		},
	)
	return l
}

// Fire applies event. A stop while already idle is not an error.
func (l *Lifecycle) Fire(ctx context.Context, event string) error {
	err := l.f.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// Start moves idle -> recognizing.
func (l *Lifecycle) Start(ctx context.Context) error { return l.Fire(ctx, EventStart) }

// Terminated records that the recognizer ended its session while recording.
func (l *Lifecycle) Terminated(ctx context.Context) error { return l.Fire(ctx, EventTerminate) }

// Rearmed records a successful restart.
func (l *Lifecycle) Rearmed(ctx context.Context) error { return l.Fire(ctx, EventRearm) }

// Stop returns to idle from any state.
func (l *Lifecycle) Stop(ctx context.Context) error { return l.Fire(ctx, EventStop) }

// RestartFailed counts a restart that could not be re-armed. The state
// stays Restarting.
func (l *Lifecycle) RestartFailed() {
	l.mu.Lock()
	l.failures++
	l.mu.Unlock()
}

// Current returns the current state.
func (l *Lifecycle) Current() State { return State(l.f.Current()) }

// Is reports whether the lifecycle is in s.
func (l *Lifecycle) Is(s State) bool { return l.f.Is(string(s)) }

// Can reports whether event is valid in the current state.
func (l *Lifecycle) Can(event string) bool { return l.f.Can(event) }

// Restarts returns the number of successful re-arms.
func (l *Lifecycle) Restarts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restarts
}

// Failures returns the number of failed restarts.
func (l *Lifecycle) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// InState returns how long the lifecycle has been in its current state.
func (l *Lifecycle) InState() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.enteredAt)
}

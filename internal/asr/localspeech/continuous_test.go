package localspeech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/cuesync/internal/asr"
	"github.com/tiroq/cuesync/internal/audio"
	"github.com/tiroq/cuesync/internal/statemachine"
	"github.com/tiroq/cuesync/testutil"
)

type fakeSession struct {
	results chan Result
	once    sync.Once

	mu     sync.Mutex
	frames int
	closed bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{results: make(chan Result, 16)}
}

func (s *fakeSession) Append(audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *fakeSession) Results() <-chan Result { return s.results }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end()
	return nil
}

// end simulates the recognizer terminating the session.
func (s *fakeSession) end() { s.once.Do(func() { close(s.results) }) }

func (s *fakeSession) partial(text string) { s.results <- Result{Text: text} }

func (s *fakeSession) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type fakeRecognizer struct {
	unavailable error

	mu       sync.Mutex
	sessions []*fakeSession
	failFrom int // NewSession fails from this 1-based call on; 0 = never
	opts     []SessionOptions
}

func (r *fakeRecognizer) Available() error { return r.unavailable }

func (r *fakeRecognizer) NewSession(_ context.Context, opts SessionOptions) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = append(r.opts, opts)
	if r.failFrom > 0 && len(r.opts) >= r.failFrom {
		return nil, errors.New("engine cannot start")
	}
	s := newFakeSession()
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *fakeRecognizer) session(i int) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.sessions) {
		return nil
	}
	return r.sessions[i]
}

func (r *fakeRecognizer) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opts)
}

func (r *fakeRecognizer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func startContinuous(t *testing.T, rec *fakeRecognizer, dev *testutil.FakeDevice) (*Continuous, chan asr.Event) {
	t.Helper()
	c := New(dev, rec, Options{Locale: "en-US", DeviceID: "mic-7"})
	events := make(chan asr.Event, 256)
	testutil.AssertNoError(t, c.Start(context.Background(), asr.NewEmitter(events, nil)), "start")
	t.Cleanup(func() { _ = c.Stop() })
	return c, events
}

func waitTranscript(t *testing.T, c *Continuous, want string) {
	t.Helper()
	testutil.WaitForCondition(t, func() bool { return c.Transcript() == want }, 2*time.Second, "transcript "+want)
}

func TestSplicesSessionsWithoutLosingText(t *testing.T) {
	rec := &fakeRecognizer{}
	dev := testutil.NewFakeDevice(16000)
	c, _ := startContinuous(t, rec, dev)

	s1 := rec.session(0)
	s1.partial("hello")
	s1.partial("hello world")
	waitTranscript(t, c, "hello world")

	s1.end()
	testutil.WaitForCondition(t, func() bool { return rec.count() == 2 }, 2*time.Second, "second session")
	testutil.WaitForCondition(t, func() bool { return c.State() == statemachine.Recognizing }, 2*time.Second, "re-armed")
	waitTranscript(t, c, "hello world")

	s2 := rec.session(1)
	s2.partial("how")
	s2.partial("how are you")
	waitTranscript(t, c, "hello world how are you")

	s2.end()
	testutil.WaitForCondition(t, func() bool { return rec.count() == 3 }, 2*time.Second, "third session")
	rec.session(2).partial("today")
	waitTranscript(t, c, "hello world how are you today")
	testutil.AssertEqual(t, 2, c.Restarts(), "restarts")

	testutil.AssertNoError(t, c.Stop(), "stop")
	testutil.AssertEqual(t, statemachine.Idle, c.State(), "idle after stop")
	testutil.AssertEqual(t, "hello world how are you today", c.Transcript(), "transcript survives stop")
}

func TestRestartReusesDeviceAndAudio(t *testing.T) {
	rec := &fakeRecognizer{}
	dev := testutil.NewFakeDevice(22050)
	startContinuous(t, rec, dev)

	rec.session(0).end()
	testutil.WaitForCondition(t, func() bool { return rec.count() == 2 }, 2*time.Second, "restart")
	testutil.WaitForCondition(t, func() bool { return dev.Opens() == 2 && dev.Last().Started() }, 2*time.Second, "new tap")

	for _, id := range dev.DeviceIDs() {
		testutil.AssertEqual(t, "mic-7", id, "device id on every session")
	}
	testutil.AssertEqual(t, 22050, rec.opts[1].SampleRate, "sample rate passed")
	testutil.AssertEqual(t, "en-US", rec.opts[1].Locale, "locale passed")
	testutil.AssertFalse(t, dev.Stream(0).Started(), "old tap removed")

	dev.Last().Emit([]float32{0.1, 0.1})
	s2 := rec.session(1)
	testutil.WaitForCondition(t, func() bool { return s2.Frames() == 1 }, 2*time.Second, "audio reaches new session")
}

func TestRestartFailureKeepsPrefix(t *testing.T) {
	rec := &fakeRecognizer{failFrom: 2}
	dev := testutil.NewFakeDevice(16000)
	c, _ := startContinuous(t, rec, dev)

	rec.session(0).partial("keep this text")
	waitTranscript(t, c, "keep this text")
	rec.session(0).end()

	testutil.WaitForCondition(t, func() bool { return c.State() == statemachine.Restarting && rec.attempts() == 2 }, 2*time.Second, "restart attempted")
	testutil.AssertEqual(t, "keep this text", c.Transcript(), "prefix kept")
	testutil.AssertFalse(t, dev.Last().Started(), "no tap left running")

	testutil.AssertNoError(t, c.Stop(), "stop")
	testutil.AssertEqual(t, statemachine.Idle, c.State(), "idle")
	testutil.AssertEqual(t, "keep this text", c.Transcript(), "prefix survives stop")
}

func TestEmitsTranscriptEvents(t *testing.T) {
	rec := &fakeRecognizer{}
	c, events := startContinuous(t, rec, testutil.NewFakeDevice(16000))
	_ = c

	rec.session(0).partial("one")
	rec.session(0).end()
	testutil.WaitForCondition(t, func() bool { return rec.count() == 2 }, 2*time.Second, "restart")
	rec.session(1).partial("two")

	var texts []string
	testutil.WaitForCondition(t, func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Kind == asr.EventTranscript {
					texts = append(texts, ev.Transcript)
				}
			default:
				return len(texts) == 2
			}
		}
	}, 2*time.Second, "two transcript events")
	testutil.AssertEqual(t, "one", texts[0], "first")
	testutil.AssertEqual(t, "one two", texts[1], "spliced")
}

func TestStartUnavailable(t *testing.T) {
	rec := &fakeRecognizer{unavailable: errors.New("permission denied")}
	dev := testutil.NewFakeDevice(16000)
	c := New(dev, rec, Options{})
	events := make(chan asr.Event, 4)

	err := c.Start(context.Background(), asr.NewEmitter(events, nil))
	if !errors.Is(err, ErrRecognizerUnavailable) {
		t.Fatalf("want ErrRecognizerUnavailable, got %v", err)
	}
	ev := <-events
	testutil.AssertStringContains(t, ev.Status, "permission denied", "status")
	testutil.AssertEqual(t, 0, dev.Opens(), "microphone untouched")
	testutil.AssertEqual(t, statemachine.Idle, c.State(), "idle")
	testutil.AssertNoError(t, c.Stop(), "stop when idle")
}

func TestStartDeviceFailure(t *testing.T) {
	rec := &fakeRecognizer{}
	dev := testutil.NewFakeDevice(16000)
	dev.StartErr = errors.New("no input")
	c := New(dev, rec, Options{})

	err := c.Start(context.Background(), asr.NewEmitter(make(chan asr.Event, 4), nil))
	testutil.AssertErrorContains(t, err, "no input", "start")
	testutil.AssertEqual(t, statemachine.Idle, c.State(), "idle")
	testutil.WaitForCondition(t, func() bool {
		s := rec.session(0)
		if s == nil {
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closed
	}, time.Second, "session closed")
}

func TestStopIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{}
	dev := testutil.NewFakeDevice(16000)
	c, _ := startContinuous(t, rec, dev)

	testutil.AssertNoError(t, c.Stop(), "first stop")
	testutil.AssertNoError(t, c.Stop(), "second stop")
	testutil.AssertEqual(t, 1, rec.count(), "no restart after stop")
	testutil.AssertFalse(t, dev.Last().Started(), "tap removed")
}

// slowSession delivers its results from inside Append, as a recognizer
// that reports synchronously on the audio thread would.
type slowSession struct {
	results chan Result
	entered chan struct{}
	release chan struct{}
	first   sync.Once
	once    sync.Once
}

func (s *slowSession) Append(audio.Frame) error {
	s.first.Do(func() {
		close(s.entered)
		<-s.release
		s.results <- Result{Text: "late"}
		s.results <- Result{Text: "late words"}
	})
	return nil
}

func (s *slowSession) Results() <-chan Result { return s.results }

func (s *slowSession) Close() error {
	s.once.Do(func() { close(s.results) })
	return nil
}

type slowRecognizer struct{ sess *slowSession }

func (r *slowRecognizer) Available() error { return nil }

func (r *slowRecognizer) NewSession(context.Context, SessionOptions) (Session, error) {
	return r.sess, nil
}

func TestStopWhileSessionDeliversResults(t *testing.T) {
	sess := &slowSession{
		results: make(chan Result),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	dev := testutil.NewFakeDevice(16000)
	c := New(dev, &slowRecognizer{sess: sess}, Options{Locale: "en-US"})
	testutil.AssertNoError(t, c.Start(context.Background(), asr.NewEmitter(make(chan asr.Event, 64), nil)), "start")

	dev.Last().Emit([]float32{0.1, 0.1})
	select {
	case <-sess.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the session")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	time.Sleep(50 * time.Millisecond)
	close(sess.release)

	select {
	case err := <-stopped:
		testutil.AssertNoError(t, err, "stop")
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the session was still reporting")
	}
	testutil.AssertEqual(t, "late words", c.Transcript(), "results delivered during stop are kept")
	testutil.AssertEqual(t, statemachine.Idle, c.State(), "idle after stop")
}

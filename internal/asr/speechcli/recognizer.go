// Package speechcli runs a platform speech helper binary as the on-device
// recognizer. Each session is one helper process: PCM16 mono audio goes to
// its stdin and it answers with one JSON object per line on stdout,
// {"text": "...", "final": bool}. The helper exiting ends the session.
package speechcli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/tiroq/cuesync/internal/asr/localspeech"
	"github.com/tiroq/cuesync/internal/audio"
)

const (
	// DefaultSessionLimit mirrors the platform recognizer's cap.
	DefaultSessionLimit = 60 * time.Second
	defaultStopGrace    = 5 * time.Second
)

var errSessionClosed = errors.New("speechcli: session closed")

// Config configures the helper invocation.
type Config struct {
	BinaryPath   string
	Args         []string      // extra arguments before --locale/--sample-rate
	SessionLimit time.Duration // audio accepted per session; default 60s
	StopGrace    time.Duration // wait after end of audio before killing; default 5s
}

// Recognizer implements localspeech.Recognizer over the helper binary.
type Recognizer struct {
	cfg Config
}

// New creates a recognizer for cfg.
func New(cfg Config) *Recognizer {
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = DefaultSessionLimit
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &Recognizer{cfg: cfg}
}

// Available verifies the helper exists and is executable.
func (r *Recognizer) Available() error {
	if r.cfg.BinaryPath == "" {
		return errors.New("no speech helper configured")
	}
	info, err := os.Stat(r.cfg.BinaryPath)
	if err != nil {
		return fmt.Errorf("speech helper not found at %q: %w", r.cfg.BinaryPath, err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("speech helper at %q is not executable", r.cfg.BinaryPath)
	}
	return nil
}

func (r *Recognizer) buildArgs(opts localspeech.SessionOptions) []string {
	args := append([]string(nil), r.cfg.Args...)
	if opts.Locale != "" {
		args = append(args, "--locale", opts.Locale)
	}
	return append(args, "--sample-rate", strconv.Itoa(opts.SampleRate))
}

// helperLine is one stdout line of the helper.
type helperLine struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// NewSession starts a helper process. The session stops accepting audio
// after SessionLimit, which makes the helper finish and exit.
func (r *Recognizer) NewSession(ctx context.Context, opts localspeech.SessionOptions) (localspeech.Session, error) {
	cmd := exec.Command(r.cfg.BinaryPath, r.buildArgs(opts)...)
	// Use a process group so the whole helper tree can be killed.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("speechcli: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("speechcli: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("speechcli: failed to start helper: %w", err)
	}

	s := &session{
		cmd:     cmd,
		stdin:   stdin,
		results: make(chan localspeech.Result, 16),
		grace:   r.cfg.StopGrace,
		exited:  make(chan struct{}),
	}
	s.limit = time.AfterFunc(r.cfg.SessionLimit, s.endAudio)
	go s.read(stdout)
	go func() {
		select {
		case <-ctx.Done():
			s.kill()
		case <-s.exited:
		}
	}()
	return s, nil
}

type session struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	results chan localspeech.Result
	grace   time.Duration
	limit   *time.Timer
	exited  chan struct{}

	mu        sync.Mutex
	audioDone bool
	closing   bool
	killTimer *time.Timer
}

func (s *session) Results() <-chan localspeech.Result { return s.results }

// Append writes one frame as PCM16.
func (s *session) Append(f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioDone {
		return errSessionClosed
	}
	_, err := s.stdin.Write(audio.EncodePCM16(f.Samples))
	return err
}

// endAudio closes stdin so the helper can flush its final result.
func (s *session) endAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioDone {
		return
	}
	s.audioDone = true
	_ = s.stdin.Close()
}

// Close ends audio and kills the helper if it has not exited after the
// grace period.
func (s *session) Close() error {
	s.limit.Stop()
	s.endAudio()
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		s.killTimer = time.AfterFunc(s.grace, s.kill)
	}
	s.mu.Unlock()
	return nil
}

func (s *session) kill() {
	select {
	case <-s.exited:
		return
	default:
	}
	if s.cmd.Process != nil {
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (s *session) read(stdout io.Reader) {
	defer close(s.results)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		var line helperLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		s.results <- localspeech.Result{Text: line.Text, Final: line.Final}
	}
	err := s.cmd.Wait()
	close(s.exited)
	s.limit.Stop()
	s.mu.Lock()
	closing := s.closing
	if s.killTimer != nil {
		s.killTimer.Stop()
	}
	s.audioDone = true
	s.mu.Unlock()
	if err != nil && !closing {
		s.results <- localspeech.Result{Err: fmt.Errorf("speechcli: helper exited: %w", err)}
	}
}

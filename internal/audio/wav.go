package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// WAVDevice replays WAV files as if they were a live microphone. The device
// id is the file path; an empty id falls back to DefaultPath. It is the
// headless input driver used by the daemon and by integration tests.
type WAVDevice struct {
	DefaultPath string
	BlockSize   int  // samples per buffer; default 1024
	Realtime    bool // pace buffers at the file's sample rate
	Loop        bool // restart from the beginning at end of file
}

// Name returns the driver identifier.
func (d *WAVDevice) Name() string { return "wav" }

// Open decodes the WAV header and returns a stream positioned at the start.
func (d *WAVDevice) Open(deviceID string) (Stream, error) {
	path := deviceID
	if path == "" {
		path = d.DefaultPath
	}
	if path == "" {
		return nil, errors.New("no wav file configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	block := d.BlockSize
	if block <= 0 {
		block = 1024
	}
	return &wavStream{
		streamer: streamer,
		format:   format,
		block:    block,
		realtime: d.Realtime,
		loop:     d.Loop,
	}, nil
}

type wavStream struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	block    int
	realtime bool
	loop     bool

	mu      sync.Mutex
	quit    chan struct{}
	done    chan struct{}
	stopped bool
}

func (s *wavStream) SampleRate() int { return int(s.format.SampleRate) }

func (s *wavStream) Start(onBuffer func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("wav stream already stopped")
	}
	if s.quit != nil {
		return nil
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.pump(onBuffer, s.quit, s.done)
	return nil
}

func (s *wavStream) pump(onBuffer func([]float32), quit, done chan struct{}) {
	defer close(done)

	stereo := make([][2]float64, s.block)
	mono := make([]float32, s.block)

	var tick <-chan time.Time
	if s.realtime {
		interval := s.format.SampleRate.D(s.block)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-quit:
				return
			case <-tick:
			}
		} else {
			select {
			case <-quit:
				return
			default:
			}
		}

		n, ok := s.streamer.Stream(stereo)
		if n > 0 {
			for i := 0; i < n; i++ {
				mono[i] = float32((stereo[i][0] + stereo[i][1]) / 2)
			}
			onBuffer(mono[:n])
		}
		if !ok || n < len(stereo) {
			if !s.loop || s.streamer.Len() == 0 || s.streamer.Seek(0) != nil {
				return
			}
		}
	}
}

func (s *wavStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.quit != nil {
		close(s.quit)
		<-s.done
	}
	return s.streamer.Close()
}

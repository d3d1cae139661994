package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiroq/cuesync/internal/asr"
	"github.com/tiroq/cuesync/internal/asr/localspeech"
	"github.com/tiroq/cuesync/internal/audio"
	"github.com/tiroq/cuesync/internal/config"
	"github.com/tiroq/cuesync/internal/diaglog"
	"github.com/tiroq/cuesync/internal/fileutil"
	"github.com/tiroq/cuesync/internal/ipc"
	"github.com/tiroq/cuesync/internal/orchestrator"
	"github.com/tiroq/cuesync/internal/transcript"
)

const statusInterval = time.Second

var errNoRefiner = errors.New("refine: OpenAI API key not set")

// Refiner turns a raw transcript into script text; *llm.Client implements it.
type Refiner interface {
	Refine(ctx context.Context, transcript string) (string, error)
}

// daemonDeps are injected so tests can run without hardware or network.
type daemonDeps struct {
	device     audio.Device
	recognizer localspeech.Recognizer
	matcher    orchestrator.Matcher // nil disables resync
	refiner    Refiner              // nil disables refine
	dir        string               // command and status directory
	newID      func() string
}

// Daemon owns the orchestrator and reacts to control commands.
type Daemon struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	diag    *diaglog.Logger
	orch    *orchestrator.Orchestrator
	refiner Refiner
	dir     string
	newID   func() string

	wg       sync.WaitGroup // resync and refine requests
	statusMu sync.Mutex

	mu         sync.Mutex
	sessionID  string
	script     string
	offset     int
	stopping   bool
	status     string
	level      float32
	lastAction string
	lastError  string
	lastBase   string
	lastOutput string
	lastMeta   *fileutil.SessionMetadata
}

// NewDaemon wires the backends and the orchestrator for cfg.
func NewDaemon(cfg *config.Config, log *zap.SugaredLogger, diag *diaglog.Logger, deps daemonDeps) (*Daemon, error) {
	d := &Daemon{
		cfg:     cfg,
		log:     log,
		diag:    diag,
		refiner: deps.refiner,
		dir:     deps.dir,
		newID:   deps.newID,
	}
	reg, err := buildRegistry(cfg, backendDeps{
		device:     deps.device,
		recognizer: deps.recognizer,
		diag:       diag,
		sessionID:  d.currentSessionID,
	})
	if err != nil {
		return nil, err
	}
	d.orch = orchestrator.New(orchestrator.Options{
		Registry: reg,
		Matcher:  deps.matcher,
		Logger:   diag,
	})
	return d, nil
}

func (d *Daemon) currentSessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Run serves commands until ctx is cancelled or a quit command arrives,
// then stops any running session so its outputs are written.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.writeStatus()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { d.consumeEvents(gctx); return nil })
	g.Go(func() error { d.tickStatus(gctx); return nil })
	g.Go(func() error { return d.watchCommands(gctx, cancel) })
	err := g.Wait()

	d.wg.Wait()
	if serr := d.stopSession(); serr != nil {
		d.log.Errorw("stop on shutdown failed", "error", serr)
	}
	d.writeStatus()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle executes one command. It reports true for quit.
func (d *Daemon) Handle(ctx context.Context, req ipc.Request) bool {
	d.log.Infow("command received", "cmd", string(req.Cmd), "args", req.Args)
	var err error
	switch req.Cmd {
	case ipc.CmdStart:
		err = d.startSession(ctx)
	case ipc.CmdStop:
		err = d.stopSession()
	case ipc.CmdResync:
		offset := d.currentOffset()
		if len(req.Args) > 0 {
			if offset, err = req.Offset(); err != nil {
				break
			}
		}
		d.setAction("resync", nil)
		d.async(func() { d.resync(ctx, offset) })
		return false
	case ipc.CmdRefine:
		d.setAction("refine", nil)
		d.async(func() { d.refine(ctx) })
		return false
	case ipc.CmdQuit:
		d.setAction("quit", nil)
		return true
	default:
		return false
	}
	d.setAction(string(req.Cmd), err)
	d.writeStatus()
	return false
}

func (d *Daemon) async(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
		d.writeStatus()
	}()
}

func (d *Daemon) startSession(ctx context.Context) error {
	if d.orch.Running() {
		return nil
	}
	script, err := d.loadScript()
	if err != nil {
		d.log.Warnw("script not loaded", "path", d.cfg.Script.Path, "error", err)
	}

	d.mu.Lock()
	d.sessionID = d.newID()
	d.script, d.offset = script, 0
	id := d.sessionID
	d.mu.Unlock()

	d.orch.SetSessionID(id)
	if err := d.orch.Start(ctx); err != nil {
		d.log.Errorw("session start failed", "session_id", id, "error", err)
		return err
	}
	d.log.Infow("session started", "session_id", id, "backend", string(d.orch.Selection()))
	return nil
}

// stopSession ends the session and writes transcript files plus the
// metadata sidecar to the output directory.
func (d *Daemon) stopSession() error {
	if !d.orch.Running() {
		return nil
	}
	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
	d.writeStatus()
	text, stopErr := d.orch.Stop()
	d.mu.Lock()
	d.stopping = false
	d.mu.Unlock()
	if stopErr != nil {
		d.log.Warnw("backend stop reported an error", "error", stopErr)
	}

	base, err := d.writeOutputs(text, stopErr)
	if err != nil {
		d.log.Errorw("writing session output failed", "error", err)
		return err
	}
	d.log.Infow("session stopped", "session_id", d.currentSessionID(), "output", base, "chars", len(text))
	return nil
}

func (d *Daemon) writeOutputs(text string, stopErr error) (string, error) {
	sess := d.orch.Session()
	started := d.orch.StartedAt()
	id := d.currentSessionID()

	label := strings.TrimSuffix(filepath.Base(d.cfg.Script.Path), filepath.Ext(d.cfg.Script.Path))
	if d.cfg.Script.Path == "" {
		label = ""
	}
	base := fileutil.UniqueBase(d.cfg.Output.Dir, fileutil.SessionBasename(started, label),
		".txt", ".srt", ".vtt", ".meta.json")

	files, werr := transcript.WriteAll(base, sess, d.cfg.Output.Formats)

	meta := fileutil.NewSessionMetadata(id, started, started.Add(sess.Duration), text)
	meta.Version = Version
	meta.Backend = string(d.orch.Selection())
	meta.Locale = d.cfg.Speech.Locale
	meta.Device = d.cfg.Audio.Device
	meta.Script = d.cfg.Script.Path
	meta.Formats = d.cfg.Output.Formats
	meta.Files = files
	meta.WordsPerMinute = d.orch.WordsPerMinute()
	meta.Restarts = d.orch.Restarts()
	if stopErr != nil {
		meta.Error = stopErr.Error()
	} else if werr != nil {
		meta.Error = werr.Error()
	}
	if _, err := fileutil.WriteMetadata(base, meta); err != nil {
		return base, err
	}

	d.mu.Lock()
	d.lastBase, d.lastMeta = base, meta
	if len(files) > 0 {
		d.lastOutput = files[0]
	}
	d.mu.Unlock()
	return base, werr
}

func (d *Daemon) resync(ctx context.Context, offset int) {
	d.mu.Lock()
	script := d.script
	d.mu.Unlock()
	if script == "" {
		s, err := d.loadScript()
		if err != nil || s == "" {
			d.setAction("resync", fmt.Errorf("resync: no script loaded"))
			return
		}
		script = s
		d.mu.Lock()
		d.script = s
		d.mu.Unlock()
	}

	n, ok, err := d.orch.Resync(ctx, script, offset)
	switch {
	case err != nil:
		d.setAction("resync", err)
	case !ok:
		d.log.Infow("resync found no position", "offset", offset)
	default:
		d.mu.Lock()
		d.offset = n
		d.mu.Unlock()
		d.log.Infow("resync moved position", "from", offset, "to", n)
	}
}

func (d *Daemon) refine(ctx context.Context) {
	if d.refiner == nil {
		d.setAction("refine", errNoRefiner)
		return
	}
	out, err := d.refiner.Refine(ctx, d.orch.Transcript())
	if err != nil {
		d.setAction("refine", err)
		return
	}

	d.mu.Lock()
	base, meta := d.lastBase, d.lastMeta
	d.mu.Unlock()
	if base == "" {
		base = filepath.Join(d.cfg.Output.Dir, fileutil.SessionBasename(time.Now(), "refined"))
	}
	path := base + ".refined.txt"
	if err := transcript.WriteText(path, &transcript.Session{Text: out}); err != nil {
		d.setAction("refine", err)
		return
	}
	if meta != nil {
		meta.Refined = true
		meta.Files = append(meta.Files, path)
		if _, err := fileutil.WriteMetadata(base, meta); err != nil {
			d.log.Warnw("metadata update failed", "error", err)
		}
	}
	d.mu.Lock()
	d.lastOutput = path
	d.mu.Unlock()
	d.log.Infow("refined script written", "path", path)
}

func (d *Daemon) loadScript() (string, error) {
	if d.cfg.Script.Path == "" {
		return "", nil
	}
	data, err := os.ReadFile(d.cfg.Script.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Daemon) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.orch.Events():
			switch ev.Kind {
			case asr.EventStatus:
				d.mu.Lock()
				d.status = ev.Status
				d.mu.Unlock()
				d.log.Infow("backend status", "text", ev.Status)
				d.writeStatus()
			case asr.EventUtterance:
				d.log.Debugw("utterance", "text", ev.Utterance.Text)
			case asr.EventLevel:
				d.mu.Lock()
				d.level = ev.Level
				d.mu.Unlock()
			}
		}
	}
}

func (d *Daemon) tickStatus(ctx context.Context) {
	t := time.NewTicker(statusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if d.orch.Running() {
				d.writeStatus()
			}
		}
	}
}

func (d *Daemon) setAction(action string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAction = action
	if err != nil {
		d.lastError = err.Error()
		d.log.Errorw("command failed", "cmd", action, "error", err)
	} else {
		d.lastError = ""
	}
}

func (d *Daemon) currentOffset() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset
}

func (d *Daemon) snapshot() *ipc.StatusSnapshot {
	state := ipc.StateIdle
	if d.orch.Running() {
		state = ipc.StateListening
	}
	s := &ipc.StatusSnapshot{
		State:          state,
		Backend:        d.backendName(),
		Transcript:     d.orch.Transcript(),
		WordsPerMinute: d.orch.WordsPerMinute(),
		Timestamp:      time.Now(),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping {
		s.State = ipc.StateStopping
	}
	s.SessionID = d.sessionID
	s.Status = d.status
	s.Level = d.level
	s.ScriptOffset = d.offset
	s.ScriptLength = len([]rune(d.script))
	s.LastAction = d.lastAction
	s.LastError = d.lastError
	s.LastOutput = d.lastOutput
	return s
}

func (d *Daemon) writeStatus() {
	s := d.snapshot()
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if err := ipc.WriteStatus(d.dir, s); err != nil {
		d.log.Warnw("status write failed", "error", err)
	}
}

// backendName is the backend of the current or last session, or the
// configured one before the first session.
func (d *Daemon) backendName() string {
	if sel := d.orch.Selection(); sel != "" {
		return string(sel)
	}
	return d.cfg.Speech.Backend
}

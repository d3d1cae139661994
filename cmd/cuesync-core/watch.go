package main

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tiroq/cuesync/internal/ipc"
)

const (
	pollInterval = time.Second
	writeSettle  = 50 * time.Millisecond
)

// watchCommands reacts to writes of the command file. fsnotify is backed by
// a 1s poll, and a pure poll is used when fsnotify is unavailable. A quit
// command cancels the daemon.
func (d *Daemon) watchCommands(ctx context.Context, quit context.CancelFunc) error {
	cmdPath := ipc.CommandPath(d.dir)
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return err
	}
	// Commands written while the daemon was down are served first.
	if d.pollCommand(ctx, quit) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warnw("fsnotify not available, falling back to polling", "error", err)
		return d.pollCommands(ctx, quit)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			d.log.Warnw("failed to close watcher", "error", err)
		}
	}()
	if err := watcher.Add(d.dir); err != nil {
		d.log.Warnw("failed to watch command directory, falling back to polling", "error", err)
		return d.pollCommands(ctx, quit)
	}
	d.log.Infow("command watcher started", "mode", "fsnotify", "path", cmdPath)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				d.log.Infow("fsnotify watcher closed, switching to polling")
				return d.pollCommands(ctx, quit)
			}
			if ev.Name == cmdPath && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				time.Sleep(writeSettle)
				if d.pollCommand(ctx, quit) {
					return nil
				}
			}
		case <-ticker.C:
			if d.pollCommand(ctx, quit) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				d.log.Infow("fsnotify error channel closed, switching to polling")
				return d.pollCommands(ctx, quit)
			}
			d.log.Warnw("file watcher error", "error", err)
		}
	}
}

func (d *Daemon) pollCommands(ctx context.Context, quit context.CancelFunc) error {
	d.log.Infow("command watcher started", "mode", "polling", "interval", pollInterval.String())
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if d.pollCommand(ctx, quit) {
				return nil
			}
		}
	}
}

// pollCommand handles a pending command, if any, and reports whether it
// was quit.
func (d *Daemon) pollCommand(ctx context.Context, quit context.CancelFunc) bool {
	req, err := ipc.ReadCommand(d.dir)
	if err != nil {
		d.log.Warnw("reading command failed", "error", err)
		return false
	}
	if req.Cmd == "" {
		return false
	}
	if d.Handle(ctx, req) {
		quit()
		return true
	}
	return false
}

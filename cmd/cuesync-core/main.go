package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/tiroq/cuesync/internal/audio"
	"github.com/tiroq/cuesync/internal/config"
	"github.com/tiroq/cuesync/internal/diaglog"
	"github.com/tiroq/cuesync/internal/ipc"
	"github.com/tiroq/cuesync/internal/llm"
	"github.com/tiroq/cuesync/internal/pidfile"
	"github.com/tiroq/cuesync/internal/resync"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func defaultConfigPath() string {
	if p := os.Getenv("CUESYNC_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath()
}

func run(args []string) (code int) {
	var (
		configPath string
		envFile    string
		ipcDir     string
		debug      bool
		exportDiag bool
		sessionID  string
	)
	fs := pflag.NewFlagSet("cuesync-core", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file (JSON); also CUESYNC_CONFIG")
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file with API keys")
	fs.StringVar(&ipcDir, "ipc-dir", ipc.DefaultDir(), "directory holding cmd.txt and status.json")
	fs.BoolVarP(&debug, "debug", "d", false, "verbose console and diagnostic logging")
	fs.BoolVar(&exportDiag, "export-diag", false, "write a diagnostic bundle to the current directory and exit")
	fs.StringVar(&sessionID, "session", "", "with --export-diag, keep only this session")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", envFile, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if debug {
		cfg.Log.Debug = true
	}
	diaglog.Version = Version

	if exportDiag {
		path, n, err := diaglog.Export(cfg.Log.Path, ".", diaglog.ExportOptions{SessionID: sessionID})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(os.Stderr, "hint: run with --debug or CUESYNC_DEBUG=true to enable logging")
				return 1
			}
			return 2
		}
		fmt.Printf("Wrote: %s (%d lines)\n", path, n)
		return 0
	}

	log := diaglog.NewConsole(cfg.Log.Debug)
	defer func() { _ = log.Sync() }()
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("panic", "value", r)
			code = 1
		}
	}()

	log.Infow("starting cuesync-core", "version", Version, "pid", os.Getpid(),
		"backend", cfg.Speech.Backend, "config", configPath)

	pidPath := pidfile.GetPIDFilePath("cuesync-core")
	pf, err := pidfile.New(pidPath)
	if err != nil {
		log.Errorw("failed to create PID file", "path", pidPath, "error", err)
		return 1
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			log.Warnw("failed to remove PID file", "error", err)
		}
	}()

	diag, err := diaglog.New(cfg.Log.Path, cfg.Log.Debug)
	if err != nil {
		log.Warnw("diagnostic log unavailable", "path", cfg.Log.Path, "error", err)
		diag = diaglog.NewNoOp()
	}
	defer func() { _ = diag.Close() }()

	device, err := audio.NewDevice(cfg.Audio.Source)
	if err != nil {
		log.Errorw("audio input unavailable", "source", cfg.Audio.Source, "error", err)
		return 1
	}
	deps := daemonDeps{
		device:     device,
		recognizer: newRecognizer(cfg),
		dir:        ipcDir,
		newID:      uuid.NewString,
	}
	if cfg.OpenAI.APIKey != "" {
		client, err := llm.New(llm.Config{
			APIKey:        cfg.OpenAI.APIKey,
			BaseURL:       cfg.OpenAI.BaseURL,
			OracleModel:   cfg.Resync.Model,
			RefineModel:   cfg.Refine.Model,
			OracleTimeout: cfg.ResyncTimeout(),
			Logger:        diag,
		})
		if err != nil {
			log.Errorw("LLM client setup failed", "error", err)
			return 1
		}
		deps.refiner = client
		if cfg.Resync.Enabled {
			deps.matcher = resync.New(client, resync.Options{Timeout: cfg.ResyncTimeout(), Logger: diag})
		}
	}

	d, err := NewDaemon(cfg, log, diag, deps)
	if err != nil {
		log.Errorw("daemon setup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx); err != nil {
		log.Errorw("daemon stopped with error", "error", err)
		return 1
	}
	log.Infow("cuesync-core stopped")
	return 0
}

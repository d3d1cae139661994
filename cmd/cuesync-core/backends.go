package main

import (
	"github.com/tiroq/cuesync/internal/asr"
	"github.com/tiroq/cuesync/internal/asr/deepgram"
	"github.com/tiroq/cuesync/internal/asr/localspeech"
	"github.com/tiroq/cuesync/internal/asr/speechcli"
	"github.com/tiroq/cuesync/internal/audio"
	"github.com/tiroq/cuesync/internal/config"
	"github.com/tiroq/cuesync/internal/diaglog"
)

// backendDeps are the pieces a backend factory needs. Tests replace the
// device and recognizer with fakes.
type backendDeps struct {
	device     audio.Device
	recognizer localspeech.Recognizer
	diag       *diaglog.Logger
	sessionID  func() string
}

// newRecognizer returns the helper-process recognizer for cfg.
func newRecognizer(cfg *config.Config) localspeech.Recognizer {
	return speechcli.New(speechcli.Config{
		BinaryPath:   cfg.Local.HelperPath,
		Args:         cfg.Local.HelperArgs,
		SessionLimit: cfg.SessionLimit(),
	})
}

// buildRegistry registers both backends. A fresh backend is built per
// session so each one carries that session's id.
func buildRegistry(cfg *config.Config, deps backendDeps) (*asr.Registry, error) {
	reg := asr.NewRegistry()
	reg.Register(asr.SelectionLocal, func() (asr.Backend, error) {
		return localspeech.New(deps.device, deps.recognizer, localspeech.Options{
			Locale:    cfg.Speech.Locale,
			DeviceID:  cfg.Audio.Device,
			Logger:    deps.diag,
			SessionID: deps.sessionID(),
		}), nil
	})
	reg.Register(asr.SelectionCloud, func() (asr.Backend, error) {
		return deepgram.NewBackend(deps.device, cfg.Audio.Device, deepgram.Options{
			APIKey:            cfg.Deepgram.APIKey,
			Endpoint:          cfg.Deepgram.Endpoint,
			KeepAlive:         cfg.KeepAlive(),
			ReconnectAttempts: cfg.Deepgram.ReconnectAttempts,
			Logger:            deps.diag,
			SessionID:         deps.sessionID(),
		}), nil
	})

	sel, err := asr.ParseSelection(cfg.Speech.Backend)
	if err != nil {
		return nil, err
	}
	reg.SetPrimary(sel)
	return reg, nil
}

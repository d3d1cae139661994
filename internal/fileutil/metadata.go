// Package fileutil names session output files and writes their metadata
// sidecar.
package fileutil

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SessionMetadata is written as <base>.meta.json next to the transcript.
type SessionMetadata struct {
	Version        string    `json:"version"`
	SessionID      string    `json:"session_id"`
	StartedAt      time.Time `json:"started_at"`
	StoppedAt      time.Time `json:"stopped_at"`
	Duration       string    `json:"duration"`
	DurationMs     int64     `json:"duration_ms"`
	Backend        string    `json:"backend"`
	Locale         string    `json:"locale,omitempty"`
	Device         string    `json:"device,omitempty"`
	Script         string    `json:"script,omitempty"`
	Formats        []string  `json:"formats"`
	Files          []string  `json:"files"`
	Words          int       `json:"words"`
	Characters     int       `json:"characters"`
	WordsPerMinute float64   `json:"words_per_minute,omitempty"`
	Restarts       int       `json:"recognizer_restarts,omitempty"`
	Refined        bool      `json:"refined"`
	Error          string    `json:"error,omitempty"`
}

// NewSessionMetadata fills the timing and text statistics.
func NewSessionMetadata(sessionID string, started, stopped time.Time, text string) *SessionMetadata {
	d := stopped.Sub(started)
	return &SessionMetadata{
		SessionID:  sessionID,
		StartedAt:  started,
		StoppedAt:  stopped,
		Duration:   d.Round(time.Second).String(),
		DurationMs: d.Milliseconds(),
		Words:      len(strings.Fields(text)),
		Characters: len([]rune(text)),
	}
}

// WriteMetadata writes <base>.meta.json for an output file or base path and
// returns the sidecar path.
func WriteMetadata(outputPath string, meta *SessionMetadata) (string, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	metaPath := MetadataPath(outputPath)
	if err := AtomicWrite(metaPath, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return metaPath, nil
}

// MetadataPath returns <base>.meta.json. Only known transcript extensions
// are stripped so a dotted base name survives.
func MetadataPath(outputPath string) string {
	switch filepath.Ext(outputPath) {
	case ".txt", ".srt", ".vtt":
		outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
	}
	return outputPath + ".meta.json"
}

package diaglog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// DiagBundle is the first line written to the export file (valid NDJSON).
type DiagBundle struct {
	ExportedAt string `json:"exported_at"`
	AppVersion string `json:"cuesync_version"`
	GoVersion  string `json:"go_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	LogFile    string `json:"log_file"`
	SessionID  string `json:"session_id,omitempty"`
	EntryCount int    `json:"entry_count"`
	Skipped    int    `json:"skipped_lines,omitempty"`
}

// ExportOptions narrows an export.
type ExportOptions struct {
	SessionID string // keep only entries of this recording session
}

// Export copies the NDJSON entries of logPath, preceded by its rotated
// generation when present, into dest/cuesync-diag-<ts>.ndjson behind a
// DiagBundle header line. Lines that are not valid JSON are skipped and
// counted. Returns the written path and the number of entries included.
func Export(logPath, dest string, opts ExportOptions) (path string, entries int, err error) {
	src, err := os.ReadFile(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}
	if older, err := os.ReadFile(backupPath(logPath)); err == nil {
		src = append(older, src...)
	}

	var kept [][]byte
	skipped := 0
	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 64*1024), MaxLogSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		if opts.SessionID != "" && !matchesSession(line, opts.SessionID) {
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	if serr := scanner.Err(); serr != nil {
		return "", 0, fmt.Errorf("log file unreadable: %w", serr)
	}

	outPath := filepath.Join(dest, "cuesync-diag-"+time.Now().UTC().Format("20060102T150405")+".ndjson")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	if err := enc.Encode(DiagBundle{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		AppVersion: Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFile:    logPath,
		SessionID:  opts.SessionID,
		EntryCount: len(kept),
		Skipped:    skipped,
	}); err != nil {
		return "", 0, err
	}
	for _, line := range kept {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return outPath, len(kept), nil
}

func matchesSession(line []byte, sessionID string) bool {
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return false
	}
	return probe.SessionID == sessionID
}

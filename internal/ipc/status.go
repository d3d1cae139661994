package ipc

import (
	"encoding/json"
	"os"
	"time"

	"github.com/tiroq/cuesync/internal/fileutil"
)

// State is the daemon's session state as shown by cuesync-ctl.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateStopping  State = "stopping"
)

// StatusSnapshot is the daemon state written after every change.
type StatusSnapshot struct {
	State          State     `json:"state"`
	Backend        string    `json:"backend"`
	SessionID      string    `json:"session_id,omitempty"`
	Status         string    `json:"status"` // last status text from the backend
	Transcript     string    `json:"transcript"`
	Level          float32   `json:"level"`
	WordsPerMinute float64   `json:"words_per_minute"`
	ScriptOffset   int       `json:"script_offset"`
	ScriptLength   int       `json:"script_length"`
	LastAction     string    `json:"last_action"`
	LastError      string    `json:"last_error"`
	LastOutput     string    `json:"last_output,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// WriteStatus persists status to dir/status.json atomically.
func WriteStatus(dir string, status *StatusSnapshot) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWrite(StatusPath(dir), append(data, '\n'), 0644)
}

// ReadStatus loads dir/status.json.
func ReadStatus(dir string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath(dir))
	if err != nil {
		return nil, err
	}
	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

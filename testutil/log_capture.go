package testutil

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// LogCapture records everything written to a zap logger so tests can assert
// on the daemon's console output.
type LogCapture struct {
	logs   *observer.ObservedLogs
	Logger *zap.SugaredLogger
}

// NewLogCapture returns a capture that observes Debug level and above.
func NewLogCapture() *LogCapture {
	core, logs := observer.New(zapcore.DebugLevel)
	return &LogCapture{logs: logs, Logger: zap.New(core).Sugar()}
}

// Lines returns each captured message with its structured fields appended
// as key=value pairs.
func (lc *LogCapture) Lines() []string {
	entries := lc.logs.All()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		var b strings.Builder
		b.WriteString(e.Message)
		for k, v := range e.ContextMap() {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(toString(v))
		}
		out = append(out, b.String())
	}
	return out
}

// String returns all captured lines joined by newlines.
func (lc *LogCapture) String() string {
	return strings.Join(lc.Lines(), "\n")
}

// Contains checks if any captured line contains substr.
func (lc *LogCapture) Contains(substr string) bool {
	return strings.Contains(lc.String(), substr)
}

// Count returns the number of messages containing substr.
func (lc *LogCapture) Count(substr string) int {
	n := 0
	for _, l := range lc.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// LevelCount returns the number of entries logged at level.
func (lc *LogCapture) LevelCount(level zapcore.Level) int {
	return lc.logs.FilterLevelExact(level).Len()
}

func toString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}

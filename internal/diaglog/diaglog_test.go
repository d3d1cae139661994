package diaglog

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line: %v -> %s", err, scanner.Text())
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLogWritesNDJSON(t *testing.T) {
	tmp := t.TempDir() + "/test.ndjson"
	l, err := New(tmp, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []LogEntry{
		{Component: ComponentDeepgram, Event: EventWSConnect},
		{Component: ComponentLocalSpeech, Event: EventRecognizerRestart, Reason: "session limit", SessionID: "abc123"},
		{Component: ComponentResync, Event: EventResyncResult, Payload: map[string]interface{}{"offset": 42}},
	}
	for _, e := range entries {
		l.Log(e)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, tmp)
	if len(lines) != len(entries) {
		t.Fatalf("want %d lines, got %d", len(entries), len(lines))
	}
	if lines[0]["component"] != ComponentDeepgram {
		t.Errorf("component mismatch: %v", lines[0]["component"])
	}
	if lines[0]["event"] != EventWSConnect {
		t.Errorf("event mismatch: %v", lines[0]["event"])
	}
	if lines[1]["session_id"] != "abc123" || lines[1]["reason"] != "session limit" {
		t.Errorf("session/reason mismatch: %v", lines[1])
	}
	if _, ok := lines[0]["session_id"]; ok {
		t.Error("empty session_id should be omitted")
	}
	payload, ok := lines[2]["payload"].(map[string]interface{})
	if !ok || payload["offset"] != float64(42) {
		t.Errorf("payload mismatch: %v", lines[2]["payload"])
	}
	if lines[0]["ts"] == nil {
		t.Error("ts field missing")
	}
}

func TestLogRedactsPayload(t *testing.T) {
	tmp := t.TempDir() + "/redact.ndjson"
	l, err := New(tmp, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(LogEntry{
		Component: ComponentDeepgram,
		Event:     EventWSConnect,
		Payload:   map[string]interface{}{"api_key": "dg-secret", "url": "wss://example"},
	})
	_ = l.Close()

	data, _ := os.ReadFile(tmp)
	if strings.Contains(string(data), "dg-secret") {
		t.Fatalf("api key leaked into log: %s", data)
	}
	if !strings.Contains(string(data), "wss://example") {
		t.Errorf("non-sensitive field dropped: %s", data)
	}
}

func TestRollingRotatesAtMaxSize(t *testing.T) {
	tmp := t.TempDir() + "/roll.ndjson"
	const maxSize = 1024
	rw, err := newRollingWriter(tmp, maxSize)
	if err != nil {
		t.Fatalf("newRollingWriter: %v", err)
	}
	defer rw.close()

	for i := 0; i < 5; i++ {
		chunk := []byte(strings.Repeat(strconv.Itoa(i), 511) + "\n")
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	cur, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	prev, err := os.ReadFile(backupPath(tmp))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if len(cur) > maxSize || len(prev) > maxSize {
		t.Errorf("generation exceeds maxSize: current %d, backup %d", len(cur), len(prev))
	}
	// chunks 0,1 rolled away twice; 2,3 in the backup; 4 current
	if !strings.HasPrefix(string(prev), "2") || !strings.Contains(string(prev), "3") {
		t.Errorf("backup holds wrong chunks: %.20q", prev)
	}
	if !strings.HasPrefix(string(cur), "4") {
		t.Errorf("current holds wrong chunk: %.20q", cur)
	}
}

func TestRollingOversizedWriteStillLands(t *testing.T) {
	tmp := t.TempDir() + "/roll.ndjson"
	rw, err := newRollingWriter(tmp, 16)
	if err != nil {
		t.Fatalf("newRollingWriter: %v", err)
	}
	defer rw.close()

	if _, err := rw.Write([]byte(strings.Repeat("y", 64))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(backupPath(tmp)); !os.IsNotExist(err) {
		t.Errorf("empty file must not be rotated")
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	input := map[string]interface{}{
		"api_key":       "k",
		"Authorization": "Token abc",
		"token":         "tok",
		"password":      "hunter2",
		"safe_field":    "keep-me",
		"nested": map[string]interface{}{
			"secret": "s3cr3t",
			"ok":     "value",
		},
		"list": []interface{}{map[string]interface{}{"auth": "x"}},
	}

	out := Redact(input).(map[string]interface{})
	for _, k := range []string{"api_key", "Authorization", "token", "password"} {
		if out[k] != "[REDACTED]" {
			t.Errorf("key %q: want [REDACTED], got %v", k, out[k])
		}
	}
	if out["safe_field"] != "keep-me" {
		t.Errorf("safe_field should be preserved")
	}
	nested := out["nested"].(map[string]interface{})
	if nested["secret"] != "[REDACTED]" || nested["ok"] != "value" {
		t.Errorf("nested redaction wrong: %v", nested)
	}
	item := out["list"].([]interface{})[0].(map[string]interface{})
	if item["auth"] != "[REDACTED]" {
		t.Errorf("list element not redacted: %v", item)
	}
	if input["api_key"] != "k" {
		t.Error("input map must not be mutated")
	}
}

func TestNoOpWhenDisabled(t *testing.T) {
	t.Setenv("CUESYNC_DEBUG", "")

	tmp := t.TempDir() + "/noop.ndjson"
	l, err := New(tmp, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Enabled() {
		t.Fatal("logger should be disabled")
	}
	l.Log(LogEntry{Component: ComponentDeepgram, Event: EventWSConnect})
	_ = l.Close()

	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("log file should not exist when debug disabled")
	}
}

func TestEnvEnablesLogging(t *testing.T) {
	t.Setenv("CUESYNC_DEBUG", "true")

	tmp := t.TempDir() + "/env.ndjson"
	l, err := New(tmp, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()
	if !l.Enabled() {
		t.Fatal("CUESYNC_DEBUG=true should enable logging")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(LogEntry{Event: "x"})
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
}

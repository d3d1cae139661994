package fileutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tiroq/cuesync/testutil"
)

func TestWriteMetadata(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	stopped := started.Add(90*time.Second + 400*time.Millisecond)

	meta := NewSessionMetadata("abc123", started, stopped, "hello world how are you")
	meta.Version = "1.0.0"
	meta.Backend = "cloud"
	meta.Formats = []string{"txt", "srt"}

	base := filepath.Join(dir, "2026-10-17_0930_Keynote")
	path, err := WriteMetadata(base+".txt", meta)
	testutil.AssertNoError(t, err, "write")
	testutil.AssertEqual(t, base+".meta.json", path, "sidecar path")

	data, err := os.ReadFile(path)
	testutil.AssertNoError(t, err, "read")
	var got SessionMetadata
	testutil.AssertNoError(t, json.Unmarshal(data, &got), "unmarshal")

	testutil.AssertEqual(t, "abc123", got.SessionID, "session id")
	testutil.AssertEqual(t, "1m30s", got.Duration, "rounded duration")
	testutil.AssertEqual(t, int64(90400), got.DurationMs, "duration ms")
	testutil.AssertEqual(t, 5, got.Words, "words")
	testutil.AssertEqual(t, 23, got.Characters, "characters")
	testutil.AssertEqual(t, "cloud", got.Backend, "backend")
	testutil.AssertTrue(t, got.StartedAt.Equal(started), "started_at")
	testutil.AssertStringNotContains(t, string(data), "\"error\"", "empty error omitted")
}

func TestWriteMetadataCreatesDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "a", "b", "session")
	path, err := WriteMetadata(base, &SessionMetadata{SessionID: "x"})
	testutil.AssertNoError(t, err, "write")
	testutil.AssertEqual(t, base+".meta.json", path, "path from base")

	entries, _ := os.ReadDir(filepath.Dir(base))
	testutil.AssertEqual(t, 1, len(entries), "no temp files")
}

func TestMetadataPath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/out/s.txt", "/out/s.meta.json"},
		{"/out/s.srt", "/out/s.meta.json"},
		{"/out/s.vtt", "/out/s.meta.json"},
		{"/out/v1.2_talk", "/out/v1.2_talk.meta.json"},
		{"/out/no-ext", "/out/no-ext.meta.json"},
	}
	for _, tt := range tests {
		testutil.AssertEqual(t, tt.want, MetadataPath(tt.in), tt.in)
	}
}

func TestCharactersCountRunes(t *testing.T) {
	m := NewSessionMetadata("s", time.Now(), time.Now(), "café")
	testutil.AssertEqual(t, 4, m.Characters, "rune count")
	testutil.AssertEqual(t, 1, m.Words, "one word")
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "Session"},
		{"Keynote: Q3/Q4 plan", "Keynote-Q3-Q4-plan"},
		{"  many   spaces  ", "many-spaces"},
		{"***", "Session"},
		{strings.Repeat("a", 60), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		testutil.AssertEqual(t, tt.want, SanitizeForFilename(tt.in), "sanitize "+tt.in)
	}
}

func TestSessionBasename(t *testing.T) {
	ts := time.Date(2026, 10, 17, 9, 5, 0, 0, time.UTC)
	testutil.AssertEqual(t, "2026-10-17_0905_talk.md", SessionBasename(ts, "talk.md"), "basename")
	testutil.AssertEqual(t, "2026-10-17_0905_Session", SessionBasename(ts, ""), "default label")
}

func TestUniqueBase(t *testing.T) {
	dir := t.TempDir()
	testutil.AssertEqual(t, filepath.Join(dir, "s"), UniqueBase(dir, "s", ".txt"), "free name")

	testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir, "s.txt"), nil, 0644), "write")
	testutil.AssertNoError(t, os.WriteFile(filepath.Join(dir, "s_2.srt"), nil, 0644), "write")
	testutil.AssertEqual(t, filepath.Join(dir, "s_3"), UniqueBase(dir, "s", ".txt", ".srt"), "skips taken names")
}

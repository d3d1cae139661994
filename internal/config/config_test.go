package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tiroq/cuesync/testutil"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	testutil.AssertNoError(t, err, "load")
	testutil.AssertEqual(t, "local", c.Speech.Backend, "backend")
	testutil.AssertEqual(t, "en-US", c.Speech.Locale, "locale")
	testutil.AssertEqual(t, "wss://api.deepgram.com/v1/listen", c.Deepgram.Endpoint, "endpoint")
	testutil.AssertEqual(t, 10*time.Second, c.KeepAlive(), "keepalive")
	testutil.AssertEqual(t, 0, c.Deepgram.ReconnectAttempts, "no reconnect by default")
	testutil.AssertEqual(t, 60*time.Second, c.SessionLimit(), "session limit")
	testutil.AssertEqual(t, "mic", c.Audio.Source, "microphone is the default input")
	testutil.AssertEqual(t, "gpt-4o-mini", c.Resync.Model, "resync model")
	testutil.AssertEqual(t, 10*time.Second, c.ResyncTimeout(), "resync timeout")
	testutil.AssertEqual(t, "gpt-4o", c.Refine.Model, "refine model")
	testutil.AssertEqual(t, 1, len(c.Output.Formats), "formats")
	testutil.AssertEqual(t, "txt", c.Output.Formats[0], "default format")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"speech": {"backend": "cloud", "locale": "de-DE"},
		"deepgram": {"api_key": "dg", "reconnect_attempts": 3},
		"output": {"formats": ["txt", "srt"]}
	}`
	testutil.AssertNoError(t, os.WriteFile(path, []byte(data), 0600), "write")

	c, err := Load(path)
	testutil.AssertNoError(t, err, "load")
	testutil.AssertEqual(t, "cloud", c.Speech.Backend, "backend")
	testutil.AssertEqual(t, "de-DE", c.Speech.Locale, "locale")
	testutil.AssertEqual(t, 3, c.Deepgram.ReconnectAttempts, "reconnect")
	testutil.AssertEqual(t, 10, c.Deepgram.KeepAliveSeconds, "untouched default")
	testutil.AssertEqual(t, 2, len(c.Output.Formats), "formats")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	testutil.AssertNoError(t, os.WriteFile(path, []byte(`{"speech":{"backend":"cloud"}}`), 0600), "write")
	t.Setenv("CUESYNC_DEEPGRAM_API_KEY", "from-env")
	t.Setenv("CUESYNC_SPEECH_LOCALE", "fr-FR")

	c, err := Load(path)
	testutil.AssertNoError(t, err, "load")
	testutil.AssertEqual(t, "from-env", c.Deepgram.APIKey, "key from env")
	testutil.AssertEqual(t, "fr-FR", c.Speech.Locale, "locale from env")
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	testutil.AssertNoError(t, os.WriteFile(path, []byte("{not json"), 0600), "write")
	_, err := Load(path)
	testutil.AssertErrorContains(t, err, "failed to read config", "invalid json")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Speech.Backend = "whisper" }, "speech.backend"},
		{"cloud without key", func(c *Config) { c.Speech.Backend = "cloud" }, "deepgram.api_key"},
		{"cloud with key", func(c *Config) { c.Speech.Backend = "cloud"; c.Deepgram.APIKey = "k" }, ""},
		{"zero keepalive", func(c *Config) { c.Deepgram.KeepAliveSeconds = 0 }, "keepalive_seconds"},
		{"negative reconnect", func(c *Config) { c.Deepgram.ReconnectAttempts = -1 }, "reconnect_attempts"},
		{"zero session limit", func(c *Config) { c.Local.SessionLimitSeconds = 0 }, "session_limit_seconds"},
		{"resync without key", func(c *Config) { c.Resync.Enabled = true }, "openai.api_key"},
		{"resync with key", func(c *Config) { c.Resync.Enabled = true; c.OpenAI.APIKey = "sk" }, ""},
		{"zero resync timeout", func(c *Config) { c.Resync.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"unknown source", func(c *Config) { c.Audio.Source = "alsa" }, "audio.source"},
		{"wav source", func(c *Config) { c.Audio.Source = "wav"; c.Audio.Device = "/tmp/take.wav" }, ""},
		{"unknown format", func(c *Config) { c.Output.Formats = []string{"txt", "docx"} }, "docx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				testutil.AssertNoError(t, err, "validate")
				return
			}
			testutil.AssertErrorContains(t, err, tt.wantErr, "validate")
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	c := Default()
	c.Speech.Locale = "es-ES"
	c.Output.Formats = []string{"vtt"}
	testutil.AssertNoError(t, Save(path, c), "save")

	info, err := os.Stat(path)
	testutil.AssertNoError(t, err, "stat")
	testutil.AssertEqual(t, os.FileMode(0600), info.Mode().Perm(), "file holds keys, owner only")

	loaded, err := Load(path)
	testutil.AssertNoError(t, err, "load")
	testutil.AssertEqual(t, "es-ES", loaded.Speech.Locale, "locale")
	testutil.AssertEqual(t, "vtt", loaded.Output.Formats[0], "format")
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	testutil.AssertNoError(t, os.WriteFile(path, []byte(`{"speech":{"locale":"fr-FR"}}`), 0600), "seed")

	c := Default()
	c.Speech.Locale = "de-DE"
	testutil.AssertNoError(t, Save(path, c), "save over existing")

	entries, err := os.ReadDir(dir)
	testutil.AssertNoError(t, err, "readdir")
	testutil.AssertEqual(t, 1, len(entries), "only the config file remains")
	testutil.AssertEqual(t, "config.json", entries[0].Name(), "file name")

	loaded, err := Load(path)
	testutil.AssertNoError(t, err, "load")
	testutil.AssertEqual(t, "de-DE", loaded.Speech.Locale, "replaced contents")
}

func TestSaveRejectsInvalid(t *testing.T) {
	c := Default()
	c.Speech.Backend = "nope"
	err := Save(filepath.Join(t.TempDir(), "c.json"), c)
	testutil.AssertErrorContains(t, err, "speech.backend", "save")
}

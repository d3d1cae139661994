package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tiroq/cuesync/internal/fileutil"
)

// EnvPrefix prefixes environment overrides: CUESYNC_DEEPGRAM_API_KEY sets
// deepgram.api_key.
const EnvPrefix = "CUESYNC"

// Output formats understood by the transcript writer.
var knownFormats = map[string]bool{"txt": true, "srt": true, "vtt": true}

type SpeechConfig struct {
	Backend string `mapstructure:"backend" json:"backend"` // "local" or "cloud"
	Locale  string `mapstructure:"locale" json:"locale"`
}

type AudioConfig struct {
	Device string `mapstructure:"device" json:"device"` // empty = default input
	Source string `mapstructure:"source" json:"source"` // "mic" or "wav"
}

type DeepgramConfig struct {
	APIKey            string `mapstructure:"api_key" json:"api_key"`
	Endpoint          string `mapstructure:"endpoint" json:"endpoint"`
	KeepAliveSeconds  int    `mapstructure:"keepalive_seconds" json:"keepalive_seconds"`
	ReconnectAttempts int    `mapstructure:"reconnect_attempts" json:"reconnect_attempts"`
}

type LocalConfig struct {
	HelperPath          string   `mapstructure:"helper_path" json:"helper_path"`
	HelperArgs          []string `mapstructure:"helper_args" json:"helper_args"`
	SessionLimitSeconds int      `mapstructure:"session_limit_seconds" json:"session_limit_seconds"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

type ResyncConfig struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	Model          string `mapstructure:"model" json:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

type RefineConfig struct {
	Model string `mapstructure:"model" json:"model"`
}

type ScriptConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

type OutputConfig struct {
	Dir     string   `mapstructure:"dir" json:"dir"`
	Formats []string `mapstructure:"formats" json:"formats"`
}

type LogConfig struct {
	Debug bool   `mapstructure:"debug" json:"debug"`
	Path  string `mapstructure:"path" json:"path"`
}

// Config is the daemon configuration.
type Config struct {
	Speech   SpeechConfig   `mapstructure:"speech" json:"speech"`
	Audio    AudioConfig    `mapstructure:"audio" json:"audio"`
	Deepgram DeepgramConfig `mapstructure:"deepgram" json:"deepgram"`
	Local    LocalConfig    `mapstructure:"local" json:"local"`
	OpenAI   OpenAIConfig   `mapstructure:"openai" json:"openai"`
	Resync   ResyncConfig   `mapstructure:"resync" json:"resync"`
	Refine   RefineConfig   `mapstructure:"refine" json:"refine"`
	Script   ScriptConfig   `mapstructure:"script" json:"script"`
	Output   OutputConfig   `mapstructure:"output" json:"output"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// DefaultPath returns ~/.config/cuesync/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "cuesync", "config.json")
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")
	v.SetDefault("speech.backend", "local")
	v.SetDefault("speech.locale", "en-US")
	v.SetDefault("audio.device", "")
	v.SetDefault("audio.source", "mic")
	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.endpoint", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("deepgram.keepalive_seconds", 10)
	v.SetDefault("deepgram.reconnect_attempts", 0)
	v.SetDefault("local.helper_path", "")
	v.SetDefault("local.helper_args", []string{})
	v.SetDefault("local.session_limit_seconds", 60)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("resync.enabled", false)
	v.SetDefault("resync.model", "gpt-4o-mini")
	v.SetDefault("resync.timeout_seconds", 10)
	v.SetDefault("refine.model", "gpt-4o")
	v.SetDefault("script.path", "")
	v.SetDefault("output.dir", filepath.Join(home, "Documents", "CueSync"))
	v.SetDefault("output.formats", []string{"txt"})
	v.SetDefault("log.debug", false)
	v.SetDefault("log.path", "/tmp/cuesync-debug.log")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Load reads path (JSON) over the defaults and applies CUESYNC_* environment
// overrides. A missing file is not an error. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes c as indented JSON after validating it.
func Save(path string, c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWrite(path, data, 0600)
}

// Validate checks Config for invalid combinations.
func (c *Config) Validate() error {
	switch c.Speech.Backend {
	case "local", "cloud":
	default:
		return fmt.Errorf("speech.backend must be \"local\" or \"cloud\", got %q", c.Speech.Backend)
	}
	if c.Speech.Backend == "cloud" && strings.TrimSpace(c.Deepgram.APIKey) == "" {
		return fmt.Errorf("deepgram.api_key is required for the cloud backend")
	}
	if c.Deepgram.KeepAliveSeconds < 1 {
		return fmt.Errorf("deepgram.keepalive_seconds must be positive, got %d", c.Deepgram.KeepAliveSeconds)
	}
	if c.Deepgram.ReconnectAttempts < 0 {
		return fmt.Errorf("deepgram.reconnect_attempts must not be negative, got %d", c.Deepgram.ReconnectAttempts)
	}
	if c.Local.SessionLimitSeconds < 1 {
		return fmt.Errorf("local.session_limit_seconds must be positive, got %d", c.Local.SessionLimitSeconds)
	}
	if c.Resync.Enabled && strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("openai.api_key is required when resync is enabled")
	}
	if c.Resync.TimeoutSeconds < 1 {
		return fmt.Errorf("resync.timeout_seconds must be positive, got %d", c.Resync.TimeoutSeconds)
	}
	switch c.Audio.Source {
	case "mic", "wav":
	default:
		return fmt.Errorf("audio.source must be \"mic\" or \"wav\", got %q", c.Audio.Source)
	}
	for _, f := range c.Output.Formats {
		if !knownFormats[f] {
			return fmt.Errorf("output.formats: unknown format %q", f)
		}
	}
	return nil
}

func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Deepgram.KeepAliveSeconds) * time.Second
}

func (c *Config) SessionLimit() time.Duration {
	return time.Duration(c.Local.SessionLimitSeconds) * time.Second
}

func (c *Config) ResyncTimeout() time.Duration {
	return time.Duration(c.Resync.TimeoutSeconds) * time.Second
}

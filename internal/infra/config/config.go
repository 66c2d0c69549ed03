// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/osa030/tilawa/internal/domain/narrator"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Audio     AudioConfig      `yaml:"audio"`
	Playback  PlaybackConfig   `yaml:"playback"`
	Output    OutputConfig     `yaml:"output"`
	Cache     CacheConfig      `yaml:"cache"`
	Narrators []NarratorConfig `yaml:"narrators" validate:"omitempty,dive"`
	Selection SelectionConfig  `yaml:"selection"`
	Log       LogConfig        `yaml:"log"`
	Messages  MessagesConfig   `yaml:"messages"`
}

// ServerConfig represents the control API configuration.
type ServerConfig struct {
	Enabled bool        `yaml:"enabled"`
	Addr    string      `yaml:"addr" default:"127.0.0.1:8750" validate:"required,hostname_port"`
	Token   string      `yaml:"token"`
	Hooks   HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AudioConfig describes where recitation audio is fetched from.
type AudioConfig struct {
	Host       string   `yaml:"host" default:"https://everyayah.com/data" validate:"required,url"`
	Mirrors    []string `yaml:"mirrors" validate:"omitempty,dive,url"`
	Extension  string   `yaml:"extension" default:"mp3" validate:"required,alphanum"`
	ChimeURL   string   `yaml:"chime_url"`
	UserAgent  string   `yaml:"user_agent" default:"tilawa/1.0"`
	TimeoutSec *int     `yaml:"timeout_sec" default:"30" validate:"omitempty,gte=0,lte=300"`
	MaxRetries int      `yaml:"max_retries" default:"3" validate:"gte=1,lte=10"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	Strategy            string          `yaml:"strategy" default:"double" validate:"oneof=double double_buffered single"`
	PrefetchCount       int             `yaml:"prefetch_count" default:"3" validate:"gte=0,lte=20"`
	PrefetchConcurrency int             `yaml:"prefetch_concurrency" default:"4" validate:"gte=1,lte=16"`
	Keepalive           KeepaliveConfig `yaml:"keepalive"`
}

// KeepaliveConfig configures the near-silent tone that holds the audio session open.
type KeepaliveConfig struct {
	Disabled    bool    `yaml:"disabled"`
	FrequencyHz float64 `yaml:"frequency_hz" default:"1" validate:"gt=0,lte=20000"`
	Gain        float64 `yaml:"gain" default:"0.001" validate:"gt=0,lte=0.01"`
}

// OutputConfig selects the audio backend. Settings are backend specific.
type OutputConfig struct {
	Type     string         `yaml:"type" default:"speaker" validate:"oneof=speaker null"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// CacheConfig represents the on-disk audio cache.
type CacheConfig struct {
	Disabled bool   `yaml:"disabled"`
	Dir      string `yaml:"dir"`
	LimitMB  int64  `yaml:"limit_mb" default:"512" validate:"gte=0"`
}

// NarratorConfig represents one narrator entry.
type NarratorConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Name    string `yaml:"name"`
	URLPath string `yaml:"url_path" validate:"required"`
}

// SelectionConfig is the initial selection. Zero Start or End cover the whole chapter.
type SelectionConfig struct {
	Chapter  int    `yaml:"chapter" default:"1" validate:"gte=1,lte=114"`
	Start    int    `yaml:"start" validate:"gte=0,lte=286"`
	End      int    `yaml:"end" validate:"gte=0,lte=286"`
	Narrator string `yaml:"narrator" default:"mishary" validate:"required"`
	Repeat   bool   `yaml:"repeat"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stdout"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	NothingToPlay  string `yaml:"nothing_to_play" default:"Nothing to play"`
	PlaybackFailed string `yaml:"playback_failed" default:"Playback failed, press play to retry"`
}

// Load loads configuration from a YAML file. An empty path yields the defaults.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TILAWA_AUDIO_HOST"); v != "" {
		c.Audio.Host = v
	}
	if v := os.Getenv("TILAWA_ADMIN_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("TILAWA_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TILAWA_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("TILAWA_STRATEGY"); v != "" {
		c.Playback.Strategy = v
	}
	if v := os.Getenv("TILAWA_NARRATOR"); v != "" {
		c.Selection.Narrator = v
	}
	if v := os.Getenv("TILAWA_CHAPTER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Selection.Chapter = n
		}
	}
	if v := os.Getenv("TILAWA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Selection.Start > 0 && c.Selection.End > 0 && c.Selection.Start > c.Selection.End {
		return errors.Newf("selection start (%d) must not be after end (%d)", c.Selection.Start, c.Selection.End)
	}

	if _, err := narrator.NewRegistry(c.NarratorList()); err != nil {
		return errors.Wrap(err, "invalid narrators")
	}
	found := false
	for _, n := range c.NarratorList() {
		if n.ID == c.Selection.Narrator {
			found = true
			break
		}
	}
	if !found {
		return errors.Newf("selection narrator %q is not configured", c.Selection.Narrator)
	}

	return nil
}

// NarratorList returns the configured narrators, or the built-in ones when none are set.
func (c *Config) NarratorList() []narrator.Narrator {
	if len(c.Narrators) == 0 {
		return narrator.Defaults()
	}
	out := make([]narrator.Narrator, 0, len(c.Narrators))
	for _, n := range c.Narrators {
		out = append(out, narrator.Narrator{ID: n.ID, Name: n.Name, URLPath: n.URLPath})
	}
	return out
}

// CacheDir returns the cache directory, defaulting under the user cache dir.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve user cache dir")
	}
	return filepath.Join(base, "tilawa", "audio"), nil
}

// CacheLimitBytes returns the cache size limit in bytes. Zero means unlimited.
func (c *Config) CacheLimitBytes() int64 {
	return c.Cache.LimitMB << 20
}

// AudioTimeout returns how long to wait for response headers. 0 disables it.
// Bodies are never bounded so slow prefetches still complete.
func (c *Config) AudioTimeout() time.Duration {
	if c.Audio.TimeoutSec == nil {
		return 30 * time.Second
	}
	return time.Duration(*c.Audio.TimeoutSec) * time.Second
}

// DecodeOutputSettings decodes the backend settings map into target,
// then applies target's defaults and validation tags.
func (c *Config) DecodeOutputSettings(target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     target,
		TagName:    "mapstructure",
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(c.Output.Settings); err != nil {
		return errors.Wrapf(err, "failed to decode %s output settings", c.Output.Type)
	}

	if err := defaults.Set(target); err != nil {
		return errors.Wrap(err, "failed to set output defaults")
	}

	if err := validator.New().Struct(target); err != nil {
		return errors.Wrapf(err, "invalid %s output settings", c.Output.Type)
	}
	return nil
}

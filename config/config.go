// Package config builds the immutable per-channel configuration from
// defaults, a YAML file, the environment and command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/whisper-darkly/sticky-watch/cookies"
	"github.com/whisper-darkly/sticky-watch/platform"
	"github.com/whisper-darkly/sticky-watch/units"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultFormat    = "ts"
	DefaultOutput    = "output"
	DefaultUserAgent = "Chrome"
)

// Formats lists the accepted output containers.
var Formats = []string{"ts", "mp4", "flv", "mkv"}

// Channel is the resolved configuration of one watched channel. It is never
// mutated after Load returns.
type Channel struct {
	Platform string
	ID       string
	Name     string // display name; empty until resolved
	Interval time.Duration
	Headers  map[string]string
	Cookies  []string // cookie sets forming the pool, each "k=v; k2=v2"
	Proxy    string
	Format   string
	Output   string
}

// Label returns the display name, falling back to the ID.
func (c Channel) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Config is the whole runtime configuration.
type Config struct {
	Channels    []Channel
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	FFmpeg      string
}

// Settings is one configuration layer. Empty fields leave lower layers
// untouched.
type Settings struct {
	Platform string            `yaml:"platform"`
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Interval string            `yaml:"interval"`
	Headers  map[string]string `yaml:"headers"`
	Cookies  StringList        `yaml:"cookies"`
	Proxy    string            `yaml:"proxy"`
	Format   string            `yaml:"format"`
	Output   string            `yaml:"output"`
}

// Merge returns s with every non-empty field of o applied on top.
// Headers are merged key by key.
func (s Settings) Merge(o Settings) Settings {
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&s.Platform, o.Platform)
	pick(&s.ID, o.ID)
	pick(&s.Name, o.Name)
	pick(&s.Interval, o.Interval)
	pick(&s.Proxy, o.Proxy)
	pick(&s.Format, o.Format)
	pick(&s.Output, o.Output)
	if len(o.Cookies) > 0 {
		s.Cookies = o.Cookies
	}
	if len(o.Headers) > 0 {
		h := make(map[string]string, len(s.Headers)+len(o.Headers))
		maps.Copy(h, s.Headers)
		maps.Copy(h, o.Headers)
		s.Headers = h
	}
	return s
}

// Defaults is the built-in bottom layer.
func Defaults() Settings {
	return Settings{
		Interval: DefaultInterval.String(),
		Headers:  map[string]string{"User-Agent": DefaultUserAgent},
		Format:   DefaultFormat,
		Output:   DefaultOutput,
	}
}

// Options selects the layers Load combines.
type Options struct {
	File    string   // YAML file; empty for none
	Env     Env      // environment layer, usually FromEnv()
	Flags   Settings // command-line layer
	Global  Global   // command-line process settings
	Channel bool     // Flags name a single channel (positional platform and id)
}

// Global holds process-wide settings.
type Global struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
	FFmpeg      string `yaml:"ffmpeg"`
}

func (g Global) merge(o Global) Global {
	if o.LogLevel != "" {
		g.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		g.LogFormat = o.LogFormat
	}
	if o.MetricsAddr != "" {
		g.MetricsAddr = o.MetricsAddr
	}
	if o.FFmpeg != "" {
		g.FFmpeg = o.FFmpeg
	}
	return g
}

// Load combines the layers. Shared settings are layered defaults, YAML
// defaults, environment, flags; each YAML channel entry is applied on top of
// the shared settings.
func Load(opts Options) (*Config, error) {
	var file File
	if opts.File != "" {
		f, err := LoadFile(opts.File)
		if err != nil {
			return nil, err
		}
		file = *f
	}

	shared := Defaults().Merge(file.Defaults).Merge(opts.Env.Settings).Merge(opts.Flags)
	global := Global{LogLevel: "info", LogFormat: "normal", FFmpeg: "ffmpeg"}.
		merge(file.Global()).merge(opts.Env.Global).merge(opts.Global)

	var entries []Settings
	if opts.Channel {
		entries = []Settings{shared}
	} else {
		for _, ch := range file.Channels {
			entries = append(entries, shared.Merge(ch))
		}
	}
	if len(entries) == 0 {
		return nil, errors.New("no channels configured")
	}

	cfg := &Config{
		LogLevel:    global.LogLevel,
		LogFormat:   global.LogFormat,
		MetricsAddr: global.MetricsAddr,
		FFmpeg:      global.FFmpeg,
	}
	seen := map[string]bool{}
	var errs []error
	for i, s := range entries {
		ch, err := s.resolve()
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i+1, err))
			continue
		}
		k := ch.Platform + "/" + ch.ID
		if seen[k] {
			errs = append(errs, fmt.Errorf("channel %d: duplicate %s", i+1, k))
			continue
		}
		seen[k] = true
		cfg.Channels = append(cfg.Channels, ch)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s Settings) resolve() (Channel, error) {
	if s.Platform == "" {
		return Channel{}, errors.New("platform is required")
	}
	if _, err := platform.Lookup(s.Platform); err != nil {
		return Channel{}, err
	}
	if strings.TrimSpace(s.ID) == "" {
		return Channel{}, errors.New("id is required")
	}

	interval, err := units.ParseDuration(s.Interval)
	if err != nil {
		return Channel{}, fmt.Errorf("interval: %w", err)
	}
	if interval <= 0 {
		return Channel{}, fmt.Errorf("interval must be positive, got %s", s.Interval)
	}

	format := strings.ToLower(strings.TrimPrefix(s.Format, "."))
	if !validFormat(format) {
		return Channel{}, fmt.Errorf("unsupported format %q (supported: %s)", s.Format, strings.Join(Formats, ", "))
	}

	var sets []string
	for _, raw := range s.Cookies {
		loaded, err := cookies.Load(raw)
		if err != nil {
			return Channel{}, fmt.Errorf("cookies: %w", err)
		}
		sets = append(sets, loaded...)
	}

	return Channel{
		Platform: platform.Normalize(s.Platform),
		ID:       strings.TrimSpace(s.ID),
		Name:     s.Name,
		Interval: interval,
		Headers:  maps.Clone(s.Headers),
		Cookies:  sets,
		Proxy:    s.Proxy,
		Format:   format,
		Output:   s.Output,
	}, nil
}

func validFormat(f string) bool {
	for _, v := range Formats {
		if v == f {
			return true
		}
	}
	return false
}

// ParseHeaders parses a JSON object or a single "Key: Value" header.
func ParseHeaders(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "{") {
		var h map[string]string
		if err := json.Unmarshal([]byte(s), &h); err != nil {
			return nil, fmt.Errorf("parse headers: %w", err)
		}
		return h, nil
	}
	k, v, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(k) == "" {
		return nil, fmt.Errorf("parse headers: expected \"Key: Value\", got %q", s)
	}
	return map[string]string{strings.TrimSpace(k): strings.TrimSpace(v)}, nil
}

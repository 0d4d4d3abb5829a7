package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/hiway/airports/pkg/pitch"
	"github.com/hiway/airports/pkg/player"
	"github.com/hiway/airports/pkg/reverb"
	"github.com/hiway/airports/pkg/sample"
)

// Output configures the audio device.
type Output struct {
	SampleRate int     `toml:"sample_rate"`
	Volume     float64 `toml:"volume"`  // Master volume (0.0 to 1.0)
	Quality    int     `toml:"quality"` // Resampler quality (1 to 64)
}

// Validate checks if the output configuration is valid.
func (o *Output) Validate() error {
	if o.SampleRate < 8000 || o.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000, got %d", o.SampleRate)
	}
	if o.Volume < 0.0 || o.Volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", o.Volume)
	}
	if o.Quality < 1 || o.Quality > 64 {
		return fmt.Errorf("quality must be between 1 and 64, got %d", o.Quality)
	}
	return nil
}

// Fetch configures where recordings come from.
type Fetch struct {
	Root      string `toml:"root"`       // Directory or http(s) base URL
	TimeoutMs int64  `toml:"timeout_ms"` // HTTP timeout, 0 for none
	Cache     bool   `toml:"cache"`      // Keep decoded recordings in memory
}

// Timeout returns the HTTP timeout as a duration.
func (f *Fetch) Timeout() time.Duration {
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

// Validate checks if the fetch configuration is valid.
func (f *Fetch) Validate() error {
	if f.TimeoutMs < 0 {
		return errors.New("timeout_ms cannot be negative")
	}
	return nil
}

// Space configures the convolution reverb. An empty impulse disables it.
type Space struct {
	Impulse   string  `toml:"impulse"`
	Wet       float64 `toml:"wet"`
	Dry       float64 `toml:"dry"`
	BlockSize int     `toml:"block_size"`
	Normalize bool    `toml:"normalize"`
}

// Options converts the section into convolver options.
func (s *Space) Options() reverb.Options {
	return reverb.Options{BlockSize: s.BlockSize, Wet: s.Wet, Dry: s.Dry, Normalize: s.Normalize}
}

// Validate checks if the space configuration is valid.
func (s *Space) Validate() error {
	if s.Wet < 0 || s.Dry < 0 {
		return errors.New("wet and dry cannot be negative")
	}
	if s.BlockSize < 0 {
		return errors.New("block_size cannot be negative")
	}
	return nil
}

// Voice defines one looping note of the composition.
type Voice struct {
	Instrument  string  `toml:"instrument"`
	Note        string  `toml:"note"`        // Token such as "C4"
	Period      float64 `toml:"period"`      // Seconds between triggers
	Delay       float64 `toml:"delay"`       // Seconds from trigger to sound
	Destination string  `toml:"destination"` // "space" (default) or "direct"

	Pitch pitch.Note  `toml:"-"` // Parsed at validation
	Bank  sample.Bank `toml:"-"` // Linked after config load
}

// PeriodDuration returns the loop period.
func (v *Voice) PeriodDuration() time.Duration {
	return seconds(v.Period)
}

// DelayDuration returns the start delay.
func (v *Voice) DelayDuration() time.Duration {
	return seconds(v.Delay)
}

// Validate checks if the voice configuration is valid.
func (v *Voice) Validate() error {
	if v.Instrument == "" {
		return errors.New("instrument cannot be empty")
	}
	n, err := pitch.Parse(v.Note)
	if err != nil {
		return err
	}
	v.Pitch = n
	if v.Period <= 0 {
		return fmt.Errorf("period must be positive, got %f", v.Period)
	}
	if v.Delay < 0 {
		return fmt.Errorf("delay cannot be negative, got %f", v.Delay)
	}
	switch v.Destination {
	case "":
		v.Destination = player.Space
	case player.Space, player.Direct:
	default:
		return fmt.Errorf("unknown destination %q", v.Destination)
	}
	return nil
}

// Config holds the complete configuration.
type Config struct {
	Debug       bool                   `toml:"debug"`
	Output      Output                 `toml:"output"`
	Fetch       Fetch                  `toml:"fetch"`
	Space       Space                  `toml:"space"`
	Instruments map[string]sample.Bank `toml:"instruments"`
	Voices      []*Voice               `toml:"voices"`
}

// Library returns the instrument banks as a sample library.
func (c *Config) Library() sample.Library {
	lib := make(sample.Library, len(c.Instruments))
	for name, bank := range c.Instruments {
		lib[name] = bank
	}
	return lib
}

// Validate checks every section and links voices to their instruments.
func (c *Config) Validate() error {
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("invalid fetch: %w", err)
	}
	if err := c.Space.Validate(); err != nil {
		return fmt.Errorf("invalid space: %w", err)
	}

	names := make([]string, 0, len(c.Instruments))
	for name := range c.Instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.Instruments[name].Validate(); err != nil {
			return fmt.Errorf("invalid instrument '%s': %w", name, err)
		}
	}

	if len(c.Voices) == 0 {
		return errors.New("no voices configured")
	}
	for i, v := range c.Voices {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid voice %d (%s): %w", i, v.Note, err)
		}
		bank, ok := c.Instruments[v.Instrument]
		if !ok {
			return fmt.Errorf("voice %d references unknown instrument '%s'", i, v.Instrument)
		}
		v.Bank = bank
	}
	return nil
}

// LoadConfig reads the file at path over the defaults and validates the result.
func LoadConfig(path string, log zerolog.Logger) (*Config, error) {
	cfg := Default()
	if err := cfg.Merge(path, log); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Msg("Configuration loaded and validated successfully")
	return cfg, nil
}

// Merge overlays the keys defined in the TOML file at path. Instruments are
// merged by name; a file that defines voices replaces all of them.
func (c *Config) Merge(path string, log zerolog.Logger) error {
	log.Debug().Str("path", path).Msg("Loading configuration file")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warn().Str("path", path).Interface("keys", undecoded).Msg("Ignoring unknown configuration keys")
	}

	if md.IsDefined("debug") {
		c.Debug = file.Debug
	}

	if md.IsDefined("output", "sample_rate") {
		c.Output.SampleRate = file.Output.SampleRate
	}
	if md.IsDefined("output", "volume") {
		c.Output.Volume = file.Output.Volume
	}
	if md.IsDefined("output", "quality") {
		c.Output.Quality = file.Output.Quality
	}

	if md.IsDefined("fetch", "root") {
		c.Fetch.Root = file.Fetch.Root
	}
	if md.IsDefined("fetch", "timeout_ms") {
		c.Fetch.TimeoutMs = file.Fetch.TimeoutMs
	}
	if md.IsDefined("fetch", "cache") {
		c.Fetch.Cache = file.Fetch.Cache
	}

	if md.IsDefined("space", "impulse") {
		c.Space.Impulse = file.Space.Impulse
	}
	if md.IsDefined("space", "wet") {
		c.Space.Wet = file.Space.Wet
	}
	if md.IsDefined("space", "dry") {
		c.Space.Dry = file.Space.Dry
	}
	if md.IsDefined("space", "block_size") {
		c.Space.BlockSize = file.Space.BlockSize
	}
	if md.IsDefined("space", "normalize") {
		c.Space.Normalize = file.Space.Normalize
	}

	if c.Instruments == nil {
		c.Instruments = make(map[string]sample.Bank)
	}
	for name, bank := range file.Instruments {
		c.Instruments[name] = bank
		log.Debug().Str("instrument", name).Int("samples", len(bank)).Msg("Loaded instrument")
	}

	if md.IsDefined("voices") {
		c.Voices = file.Voices
		log.Debug().Int("voices", len(file.Voices)).Msg("Loaded voices")
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/hiway/airports/pkg/airports"
	"github.com/hiway/airports/pkg/config"
	"github.com/hiway/airports/pkg/device"
	"github.com/hiway/airports/pkg/player"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	trace := flag.Bool("trace", false, "Enable trace logging")
	silent := flag.Bool("silent", false, "Log sounds instead of playing them")
	flag.Parse()

	log := newLogger()
	switch {
	case *trace:
		log = log.Level(zerolog.TraceLevel)
	case *debug:
		log = log.Level(zerolog.DebugLevel)
	}

	cfg, err := loadConfig(*configPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug && !*trace {
		log = log.Level(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var p player.Player
	if *silent {
		p = player.NewStubPlayer(log)
	} else {
		op, err := device.NewOtoPlayer(cfg.Output.SampleRate, cfg.Output.Volume, cfg.Output.Quality, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open audio output")
		}
		p = op
	}

	app := airports.New(cfg, p, log)
	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Playback failed")
	}
}

// newLogger writes human readable logs to a terminal and JSON otherwise.
func newLogger() zerolog.Logger {
	out := zerolog.New(os.Stderr)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return out.Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// loadConfig layers configuration files over the defaults. Later files
// override earlier ones:
//  1. System-wide
//  2. User-specific (XDG)
//  3. Local directory
//  4. The -config flag
func loadConfig(explicit string, log zerolog.Logger) (*config.Config, error) {
	cfg := config.Default()

	configFiles := []string{
		"/usr/local/etc/airports.toml",
	}

	// User config dir (e.g., ~/.config/airports/airports.toml)
	userConfigPath, err := xdg.ConfigFile("airports/airports.toml")
	if err == nil {
		configFiles = append(configFiles, userConfigPath)
	} else {
		log.Warn().Err(err).Msg("Could not determine user config directory")
	}

	configFiles = append(configFiles, "./airports.toml")

	for _, file := range configFiles {
		if _, err := os.Stat(file); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Str("path", file).Msg("Error checking config file")
			}
			continue
		}
		if err := cfg.Merge(file, log); err != nil {
			log.Warn().Err(err).Str("path", file).Msg("Failed to load config file")
			continue
		}
		log.Debug().Str("path", file).Msg("Loaded config")
	}

	if explicit != "" {
		if err := cfg.Merge(explicit, log); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

package airports

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hiway/airports/pkg/config"
	"github.com/hiway/airports/pkg/fetch"
	"github.com/hiway/airports/pkg/player"
	"github.com/hiway/airports/pkg/voice"
)

// App plays a composition: it loads the space, wires the output graph and
// runs one loop per configured voice.
type App struct {
	cfg       *config.Config
	player    player.Player
	fetcher   fetch.Fetcher
	scheduler *voice.Scheduler
	log       zerolog.Logger

	mu       sync.Mutex
	loops    []*voice.Loop
	stopOnce sync.Once
	stopChan chan struct{}
}

// New creates an App playing cfg on p, fetching recordings as configured.
func New(cfg *config.Config, p player.Player, log zerolog.Logger) *App {
	var f fetch.Fetcher = fetch.NewLoader(cfg.Fetch.Root, cfg.Fetch.Timeout(), log)
	if cfg.Fetch.Cache {
		log.Debug().Str("root", cfg.Fetch.Root).Msg("Caching decoded recordings")
		f = fetch.NewCache(f, log)
	}

	return NewWithPlayer(cfg, p, f, log)
}

// NewWithPlayer creates an App over an existing player and fetcher.
func NewWithPlayer(cfg *config.Config, p player.Player, f fetch.Fetcher, log zerolog.Logger) *App {
	return &App{
		cfg:       cfg,
		player:    p,
		fetcher:   f,
		scheduler: voice.NewScheduler(cfg.Library(), f, log),
		log:       log.With().Str("component", "airports").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Scheduler returns the scheduler voices are started on.
func (a *App) Scheduler() *voice.Scheduler {
	return a.scheduler
}

// Start loads the space, starts every voice and plays until ctx is
// canceled or Stop is called.
func (a *App) Start(ctx context.Context) error {
	if err := a.loadSpace(ctx); err != nil {
		a.Stop()
		return err
	}
	if err := a.startVoices(ctx); err != nil {
		a.Stop()
		return err
	}

	a.log.Info().Int("voices", len(a.Loops())).Msg("Playing")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, stopping")
	case <-a.stopChan:
	}
	a.Stop()
	return nil
}

// loadSpace fetches the impulse response and routes the space destination
// through it.
func (a *App) loadSpace(ctx context.Context) error {
	space := a.cfg.Space
	if space.Impulse == "" {
		a.log.Info().Msg("No impulse response configured, space plays dry")
		return nil
	}

	ir, err := a.fetcher.Fetch(ctx, space.Impulse)
	if err != nil {
		return fmt.Errorf("failed to load impulse response: %w", err)
	}
	if err := a.player.SetSpace(ir, space.Options()); err != nil {
		return fmt.Errorf("failed to set space: %w", err)
	}
	a.log.Debug().Str("impulse", space.Impulse).Dur("length", ir.Duration()).Msg("Space loaded")
	return nil
}

func (a *App) startVoices(ctx context.Context) error {
	for i, v := range a.cfg.Voices {
		dest, err := a.player.Destination(v.Destination)
		if err != nil {
			return fmt.Errorf("voice %d (%s): %w", i, v.Note, err)
		}
		loop, err := a.scheduler.StartLoop(ctx, voice.Spec{
			Instrument:  v.Instrument,
			Note:        v.Note,
			Destination: dest,
			Period:      v.PeriodDuration(),
			Delay:       v.DelayDuration(),
		})
		if err != nil {
			return fmt.Errorf("failed to start voice %d: %w", i, err)
		}
		a.mu.Lock()
		a.loops = append(a.loops, loop)
		a.mu.Unlock()
	}
	return nil
}

// Loops returns the running voices.
func (a *App) Loops() []*voice.Loop {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*voice.Loop(nil), a.loops...)
}

// Stop stops every voice and closes the player.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.log.Debug().Msg("Stopping")
		close(a.stopChan)

		for _, l := range a.Loops() {
			l.Stop()
		}

		if err := a.player.Close(); err != nil {
			a.log.Error().Err(err).Msg("Error closing audio player")
		}

		a.log.Info().Msg("Stopped")
	})
}

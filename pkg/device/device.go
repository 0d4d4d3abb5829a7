// Package device plays the output graph on the system audio device. It is
// the only package that links against the platform audio libraries.
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/hiway/airports/pkg/player"
)

// DefaultBufferSize is how far ahead oto pulls from the graph
const DefaultBufferSize = 100 * time.Millisecond

var (
	otoCtx *oto.Context
	once   sync.Once
	ctxErr error
)

// initOtoContext initializes the oto context singleton. oto allows a single
// context per process.
func initOtoContext(sampleRate int) (*oto.Context, error) {
	once.Do(func() {
		op := &oto.NewContextOptions{}
		op.SampleRate = sampleRate
		op.ChannelCount = player.ChannelCount
		op.Format = oto.FormatSignedInt16LE
		op.BufferSize = DefaultBufferSize

		var readyChan chan struct{}
		otoCtx, readyChan, ctxErr = oto.NewContext(op)
		if ctxErr == nil {
			<-readyChan // Wait for the context to be ready
		}
	})
	return otoCtx, ctxErr
}

// OtoPlayer plays the output graph on the default audio device through
// ebitengine/oto/v3.
type OtoPlayer struct {
	*player.Graph
	log    zerolog.Logger
	player *oto.Player
}

var _ player.Player = (*OtoPlayer)(nil)

// NewOtoPlayer opens the audio device and starts streaming the graph.
func NewOtoPlayer(sampleRate int, volume float64, quality int, log zerolog.Logger) (*OtoPlayer, error) {
	if sampleRate <= 0 {
		sampleRate = player.DefaultSampleRate
	}
	ctx, err := initOtoContext(sampleRate)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize Oto audio context")
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	log.Debug().Int("sample_rate", sampleRate).Msg("Oto audio context initialized successfully")

	g := player.NewGraph(sampleRate, volume, quality, log)
	p := &OtoPlayer{
		Graph:  g,
		log:    log.With().Str("player_type", "oto").Logger(),
		player: ctx.NewPlayer(g),
	}
	p.player.Play()
	return p, nil
}

// Close stops streaming the graph.
func (p *OtoPlayer) Close() error {
	p.log.Debug().Msg("Closing OtoPlayer")
	// The Oto context is global and shared, so only the player is closed.
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("failed to close oto player: %w", err)
	}
	return nil
}

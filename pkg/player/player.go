package player

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiway/airports/pkg/fetch"
	"github.com/hiway/airports/pkg/reverb"
)

const (
	// DefaultSampleRate is the number of samples per second
	DefaultSampleRate = 44100
	// ChannelCount represents stereo audio
	ChannelCount = 2
	// BitDepthInBytes represents 16-bit audio
	BitDepthInBytes = 2
)

// Destination names.
const (
	// Space runs through the convolution reverb.
	Space = "space"
	// Direct bypasses the reverb.
	Direct = "direct"
)

// ErrUnknownDestination is returned for destination names the player does not have.
var ErrUnknownDestination = errors.New("unknown destination")

// Sound is one scheduled playback of a decoded buffer.
type Sound struct {
	Name   string
	Buffer *fetch.Buffer
	// Rate is the playback rate; 2 plays an octave up and twice as fast.
	Rate float64
	// Start is the time on the destination's audio clock the sound begins.
	Start time.Duration
}

// Destination is an input of the output graph that sounds can be routed to.
type Destination interface {
	// Now returns the shared audio clock.
	Now() time.Duration
	// Play schedules s. It returns once the sound is queued, not when it ends.
	Play(s Sound) error
}

// Player is the interface for the audio output. The device package
// provides the implementation backed by the sound card.
type Player interface {
	Destination(name string) (Destination, error)
	SetSpace(ir *fetch.Buffer, opts reverb.Options) error
	Close() error
}

// --- StubPlayer (silent mode and tests) ---

// Played is a sound recorded by StubPlayer.
type Played struct {
	Destination string
	Sound       Sound
	At          time.Time
}

// StubPlayer records scheduled sounds instead of playing them. Its clock
// is wall time since creation unless replaced with SetClock.
type StubPlayer struct {
	log zerolog.Logger

	mu     sync.Mutex
	clock  func() time.Duration
	played []Played
	space  *fetch.Buffer
	closed bool
}

// NewStubPlayer creates a new StubPlayer.
func NewStubPlayer(log zerolog.Logger) *StubPlayer {
	start := time.Now()
	return &StubPlayer{
		log:   log.With().Str("player_type", "stub").Logger(),
		clock: func() time.Duration { return time.Since(start) },
	}
}

// SetClock replaces the audio clock.
func (p *StubPlayer) SetClock(clock func() time.Duration) {
	p.mu.Lock()
	p.clock = clock
	p.mu.Unlock()
}

// Destination returns a recording destination.
func (p *StubPlayer) Destination(name string) (Destination, error) {
	if name != Space && name != Direct {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, name)
	}
	return &stubBus{player: p, name: name}, nil
}

// SetSpace remembers the impulse response.
func (p *StubPlayer) SetSpace(ir *fetch.Buffer, opts reverb.Options) error {
	if ir == nil || ir.Frames() == 0 {
		return fmt.Errorf("impulse response is empty")
	}
	p.mu.Lock()
	p.space = ir
	p.mu.Unlock()
	p.log.Debug().Int("ir_frames", ir.Frames()).Msg("Simulating space")
	return nil
}

// Space returns the impulse response set with SetSpace.
func (p *StubPlayer) Space() *fetch.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space
}

// Played returns a copy of everything scheduled so far.
func (p *StubPlayer) Played() []Played {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Played(nil), p.played...)
}

// Closed reports whether Close has been called.
func (p *StubPlayer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close cleans up the StubPlayer resources.
func (p *StubPlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.log.Debug().Msg("Closing StubPlayer")
	return nil
}

func (p *StubPlayer) now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock()
}

type stubBus struct {
	player *StubPlayer
	name   string
}

func (b *stubBus) Now() time.Duration {
	return b.player.now()
}

func (b *stubBus) Play(s Sound) error {
	if s.Buffer == nil {
		return fmt.Errorf("sound %q has no audio", s.Name)
	}
	b.player.mu.Lock()
	b.player.played = append(b.player.played, Played{Destination: b.name, Sound: s, At: time.Now()})
	b.player.mu.Unlock()

	b.player.log.Info().
		Str("sound", s.Name).
		Str("destination", b.name).
		Float64("rate", s.Rate).
		Dur("start", s.Start).
		Dur("length", s.Buffer.Duration()).
		Msg("Simulating sound")
	return nil
}

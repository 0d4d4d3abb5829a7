package airports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiway/airports/pkg/config"
	"github.com/hiway/airports/pkg/fetch"
	"github.com/hiway/airports/pkg/player"
)

type recordingFetcher struct {
	mu      sync.Mutex
	fetched map[string]int
	missing string
}

func (f *recordingFetcher) Fetch(ctx context.Context, locator string) (*fetch.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetched == nil {
		f.fetched = make(map[string]int)
	}
	f.fetched[locator]++
	if locator == f.missing {
		return nil, fetch.ErrNotFound
	}
	return &fetch.Buffer{SampleRate: 44100, Channels: 1, Data: []float64{0, 0.1, 0}}, nil
}

func (f *recordingFetcher) count(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[locator]
}

func validDefault(t *testing.T) *config.Config {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestStartPlaysEveryVoice(t *testing.T) {
	cfg := validDefault(t)
	p := player.NewStubPlayer(zerolog.Nop())
	f := &recordingFetcher{}
	app := NewWithPlayer(cfg, p, f, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Start(ctx) }()

	require.Eventually(t, func() bool { return len(p.Played()) == 7 }, 2*time.Second, 5*time.Millisecond)
	assert.NotNil(t, p.Space())
	assert.Equal(t, 1, f.count("AirportTerminal.wav"))
	assert.Len(t, app.Loops(), 7)

	rates := map[string]float64{}
	for _, pl := range p.Played() {
		assert.Equal(t, player.Space, pl.Destination)
		rates[pl.Sound.Name] = pl.Sound.Rate
	}
	// C4 has its own recording, D4 and E4 are shifted from D#4, B4 down from C5.
	assert.Equal(t, 1.0, rates["C4"])
	assert.InDelta(t, 0.9439, rates["D4"], 1e-4)
	assert.InDelta(t, 1.0595, rates["E4"], 1e-4)
	assert.InDelta(t, 0.9439, rates["B4"], 1e-4)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.True(t, p.Closed())
}

func TestStartFailsWhenSpaceIsMissing(t *testing.T) {
	cfg := validDefault(t)
	p := player.NewStubPlayer(zerolog.Nop())
	f := &recordingFetcher{missing: "AirportTerminal.wav"}
	app := NewWithPlayer(cfg, p, f, zerolog.Nop())

	err := app.Start(context.Background())
	assert.True(t, errors.Is(err, fetch.ErrNotFound))
	assert.Empty(t, p.Played())
	assert.True(t, p.Closed())
}

func TestBrokenVoiceDoesNotSilenceOthers(t *testing.T) {
	cfg := validDefault(t)
	cfg.Space.Impulse = ""
	p := player.NewStubPlayer(zerolog.Nop())
	// D4 and E4 both resolve to the D#4 recording.
	f := &recordingFetcher{missing: "Samples/Grand Piano/piano-f-d#4.wav"}
	app := NewWithPlayer(cfg, p, f, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.Start(ctx)

	require.Eventually(t, func() bool { return len(p.Played()) == 5 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		var failures int64
		for _, l := range app.Loops() {
			failures += l.Failures()
		}
		return failures == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, p.Space())

	app.Stop()
	app.Stop()
}

func TestNewFetchesFromConfiguredRoot(t *testing.T) {
	cfg := validDefault(t)
	cfg.Fetch.Root = t.TempDir()
	cfg.Fetch.Cache = true
	p := player.NewStubPlayer(zerolog.Nop())

	app := New(cfg, p, zerolog.Nop())
	err := app.Start(context.Background())
	assert.ErrorIs(t, err, fetch.ErrNotFound)
	assert.Empty(t, p.Played())
	assert.True(t, p.Closed())
}

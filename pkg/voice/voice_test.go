package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiway/airports/pkg/fetch"
	"github.com/hiway/airports/pkg/pitch"
	"github.com/hiway/airports/pkg/player"
	"github.com/hiway/airports/pkg/sample"
)

type fetcherFunc func(ctx context.Context, locator string) (*fetch.Buffer, error)

func (f fetcherFunc) Fetch(ctx context.Context, locator string) (*fetch.Buffer, error) {
	return f(ctx, locator)
}

func testBuffer() *fetch.Buffer {
	return &fetch.Buffer{SampleRate: 44100, Channels: 1, Data: []float64{0, 0.5, 0}}
}

var testLibrary = sample.Library{
	"Grand Piano": {
		{Note: "C", Octave: 4, File: "fileA"},
		{Note: "A", Octave: 4, File: "fileB"},
	},
}

func manualTicker(ticks chan time.Time) Ticker {
	return func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}
}

func newStub(now *atomic.Int64) (*player.StubPlayer, player.Destination) {
	p := player.NewStubPlayer(zerolog.Nop())
	p.SetClock(func() time.Duration { return time.Duration(now.Load()) })
	dest, err := p.Destination(player.Space)
	if err != nil {
		panic(err)
	}
	return p, dest
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPlayOnceResolvesNearestSample(t *testing.T) {
	var fetched []string
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		fetched = append(fetched, locator)
		return testBuffer(), nil
	})
	var now atomic.Int64
	now.Store(int64(10 * time.Second))
	p, dest := newStub(&now)

	s := NewScheduler(testLibrary, f, zerolog.Nop())
	err := s.PlayOnce(context.Background(), "Grand Piano", pitch.Note{Name: "D#", Octave: 4}, dest, 500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, []string{"fileA"}, fetched)
	played := p.Played()
	require.Len(t, played, 1)
	assert.InDelta(t, 1.1892, played[0].Sound.Rate, 1e-4)
	assert.Equal(t, 10*time.Second+500*time.Millisecond, played[0].Sound.Start)
	assert.Equal(t, "D#4", played[0].Sound.Name)
}

func TestPlayOnceErrors(t *testing.T) {
	var now atomic.Int64
	_, dest := newStub(&now)

	ok := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		return testBuffer(), nil
	})
	s := NewScheduler(testLibrary, ok, zerolog.Nop())
	err := s.PlayOnce(context.Background(), "Harp", pitch.Note{Name: "C", Octave: 4}, dest, 0)
	assert.ErrorIs(t, err, sample.ErrUnknownInstrument)

	broken := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		return nil, fetch.ErrNotFound
	})
	s = NewScheduler(testLibrary, broken, zerolog.Nop())
	err = s.PlayOnce(context.Background(), "Grand Piano", pitch.Note{Name: "C", Octave: 4}, dest, 0)
	assert.ErrorIs(t, err, fetch.ErrNotFound)
}

func TestPlayOnceNormalizesFlats(t *testing.T) {
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		return testBuffer(), nil
	})
	var now atomic.Int64
	p, dest := newStub(&now)

	s := NewScheduler(testLibrary, f, zerolog.Nop())
	err := s.PlayOnce(context.Background(), "Grand Piano", pitch.Note{Name: "Bb", Octave: 4}, dest, 0)
	require.NoError(t, err)

	played := p.Played()
	require.Len(t, played, 1)
	assert.Equal(t, "A#4", played[0].Sound.Name)
	assert.InDelta(t, 1.0595, played[0].Sound.Rate, 1e-4)
}

func TestPlayOnceSchedulesNothingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := fetcherFunc(func(context.Context, string) (*fetch.Buffer, error) {
		// A cache hit returns without looking at the context.
		cancel()
		return testBuffer(), nil
	})
	var now atomic.Int64
	p, dest := newStub(&now)

	s := NewScheduler(testLibrary, f, zerolog.Nop())
	err := s.PlayOnce(ctx, "Grand Piano", pitch.Note{Name: "C", Octave: 4}, dest, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Played())
}

func TestStartLoopSchedulesOnGrid(t *testing.T) {
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		return testBuffer(), nil
	})
	var now atomic.Int64
	p, dest := newStub(&now)

	ticks := make(chan time.Time)
	s := NewScheduler(testLibrary, f, zerolog.Nop())
	s.SetTicker(manualTicker(ticks))

	loop, err := s.StartLoop(context.Background(), Spec{
		Instrument:  "Grand Piano",
		Note:        "C4",
		Destination: dest,
		Period:      2 * time.Second,
		Delay:       500 * time.Millisecond,
	})
	require.NoError(t, err)
	defer loop.Stop()

	eventually(t, func() bool { return len(p.Played()) == 1 })
	assert.Equal(t, 500*time.Millisecond, p.Played()[0].Sound.Start)
	assert.Equal(t, 1.0, p.Played()[0].Sound.Rate)

	now.Store(int64(2 * time.Second))
	ticks <- time.Now()
	eventually(t, func() bool { return len(p.Played()) == 2 })
	assert.Equal(t, 2500*time.Millisecond, p.Played()[1].Sound.Start)
	assert.Equal(t, int64(2), loop.Iterations())
}

func TestLoopTriggersDoNotWaitForFetches(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return testBuffer(), nil
	})
	var now atomic.Int64
	p, dest := newStub(&now)

	ticks := make(chan time.Time)
	s := NewScheduler(testLibrary, f, zerolog.Nop())
	s.SetTicker(manualTicker(ticks))

	loop, err := s.StartLoop(context.Background(), Spec{
		Instrument: "Grand Piano", Note: "E4", Destination: dest, Period: time.Second,
	})
	require.NoError(t, err)
	defer loop.Stop()

	eventually(t, func() bool { return calls.Load() == 1 })
	ticks <- time.Now()
	eventually(t, func() bool { return len(p.Played()) == 1 })
	assert.Equal(t, int64(2), loop.Iterations())

	close(release)
	eventually(t, func() bool { return len(p.Played()) == 2 })
}

func TestLoopSurvivesFailedIterations(t *testing.T) {
	var calls atomic.Int32
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return testBuffer(), nil
	})
	var now atomic.Int64
	p, dest := newStub(&now)

	ticks := make(chan time.Time)
	s := NewScheduler(testLibrary, f, zerolog.Nop())
	s.SetTicker(manualTicker(ticks))

	loop, err := s.StartLoop(context.Background(), Spec{
		Instrument: "Grand Piano", Note: "G4", Destination: dest, Period: time.Second,
	})
	require.NoError(t, err)
	defer loop.Stop()

	eventually(t, func() bool { return loop.Failures() == 1 })
	assert.Empty(t, p.Played())

	ticks <- time.Now()
	eventually(t, func() bool { return len(p.Played()) == 1 })
	assert.Equal(t, int64(1), loop.Failures())
}

func TestStartLoopRejectsBadSpecs(t *testing.T) {
	var calls atomic.Int32
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		calls.Add(1)
		return testBuffer(), nil
	})
	var now atomic.Int64
	_, dest := newStub(&now)
	s := NewScheduler(testLibrary, f, zerolog.Nop())

	bad := []Spec{
		{Instrument: "Grand Piano", Note: "H4", Destination: dest, Period: time.Second},
		{Instrument: "Grand Piano", Note: "C44", Destination: dest, Period: time.Second},
		{Instrument: "Grand Piano", Note: "C4", Destination: dest, Period: 0},
		{Instrument: "Grand Piano", Note: "C4", Destination: dest, Period: time.Second, Delay: -time.Second},
		{Instrument: "Grand Piano", Note: "C4", Period: time.Second},
	}
	for _, spec := range bad {
		_, err := s.StartLoop(context.Background(), spec)
		assert.Error(t, err, "spec %+v", spec)
	}

	_, err := s.StartLoop(context.Background(), bad[0])
	assert.ErrorIs(t, err, pitch.ErrMalformedToken)
	assert.Zero(t, calls.Load())
}

func TestStopCancelsInFlightFetches(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var now atomic.Int64
	p, dest := newStub(&now)

	s := NewScheduler(testLibrary, f, zerolog.Nop())
	s.SetTicker(manualTicker(make(chan time.Time)))
	loop, err := s.StartLoop(context.Background(), Spec{
		Instrument: "Grand Piano", Note: "B4", Destination: dest, Period: time.Second,
	})
	require.NoError(t, err)

	<-started
	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Zero(t, loop.Failures())
	assert.Empty(t, p.Played())
	loop.Stop() // idempotent
}

func TestLoopWithWallTicker(t *testing.T) {
	f := fetcherFunc(func(ctx context.Context, locator string) (*fetch.Buffer, error) {
		return testBuffer(), nil
	})
	var now atomic.Int64
	p, dest := newStub(&now)

	s := NewScheduler(testLibrary, f, zerolog.Nop())
	loop, err := s.StartLoop(context.Background(), Spec{
		Instrument: "Grand Piano", Note: "A4", Destination: dest, Period: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	eventually(t, func() bool { return len(p.Played()) >= 3 })
	loop.Stop()
	assert.GreaterOrEqual(t, loop.Iterations(), int64(3))
}

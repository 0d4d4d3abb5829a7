package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hiway/airports/pkg/fetch"
	"github.com/hiway/airports/pkg/pitch"
	"github.com/hiway/airports/pkg/player"
	"github.com/hiway/airports/pkg/sample"
)

// Ticker delivers loop triggers. stop releases the ticker's resources.
type Ticker func(period time.Duration) (ticks <-chan time.Time, stop func())

// WallTicker triggers on a fixed wall-clock grid using time.Ticker.
func WallTicker(period time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(period)
	return t.C, t.Stop
}

// Scheduler resolves, fetches, pitch-shifts and schedules notes.
type Scheduler struct {
	library sample.Library
	fetcher fetch.Fetcher
	log     zerolog.Logger
	ticker  Ticker
}

// NewScheduler creates a scheduler over a read-only library.
func NewScheduler(library sample.Library, fetcher fetch.Fetcher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		library: library,
		fetcher: fetcher,
		log:     log.With().Str("component", "scheduler").Logger(),
		ticker:  WallTicker,
	}
}

// SetTicker replaces the trigger source for loops started afterwards.
func (s *Scheduler) SetTicker(t Ticker) {
	s.ticker = t
}

// PlayOnce resolves note against the instrument's bank, fetches the nearest
// recording and schedules it on dest, shifted to the requested pitch, delay
// after dest's clock reads at the moment the recording is ready. Flat
// spellings are accepted. It blocks until the sound is scheduled; run it in
// its own goroutine to keep other voices independent of its fetch latency.
// Nothing is scheduled once ctx is done.
func (s *Scheduler) PlayOnce(ctx context.Context, instrument string, note pitch.Note, dest player.Destination, delay time.Duration) error {
	note.Name = pitch.FlatToSharp(note.Name)
	m, err := s.library.Nearest(instrument, note)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", note, err)
	}

	buf, err := s.fetcher.Fetch(ctx, m.Entry.File)
	if err != nil {
		return fmt.Errorf("failed to fetch %q for %s: %w", m.Entry.File, note, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	rate := pitch.PlaybackRate(m.Distance)
	start := dest.Now() + delay

	s.log.Debug().
		Str("instrument", instrument).
		Str("note", note.String()).
		Str("sample", m.Entry.Pitch().String()).
		Int("distance", m.Distance).
		Float64("rate", rate).
		Dur("start", start).
		Msg("Resolved note")

	err = dest.Play(player.Sound{
		Name:   note.String(),
		Buffer: buf,
		Rate:   rate,
		Start:  start,
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", note, err)
	}
	return nil
}

// Spec describes one looping voice.
type Spec struct {
	Instrument  string
	Note        string // Token such as "C4" or "Bb3"
	Destination player.Destination
	Period      time.Duration
	Delay       time.Duration
}

// Validate checks the spec and returns its parsed note.
func (sp Spec) Validate() (pitch.Note, error) {
	n, err := pitch.Parse(sp.Note)
	if err != nil {
		return pitch.Note{}, err
	}
	if sp.Destination == nil {
		return pitch.Note{}, errors.New("destination cannot be nil")
	}
	if sp.Period <= 0 {
		return pitch.Note{}, fmt.Errorf("period must be positive, got %s", sp.Period)
	}
	if sp.Delay < 0 {
		return pitch.Note{}, fmt.Errorf("delay cannot be negative, got %s", sp.Delay)
	}
	return n, nil
}

// Loop is a running voice. It triggers PlayOnce immediately and then once
// per period until stopped. Triggers never wait for earlier iterations, so
// iterations can overlap in flight and complete out of order.
type Loop struct {
	ID   string
	spec Spec
	note pitch.Note

	sched    *Scheduler
	log      zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup

	iterations atomic.Int64
	failures   atomic.Int64
}

// StartLoop validates spec and starts its loop. A malformed note token fails
// here, before any resolution or fetch work.
func (s *Scheduler) StartLoop(ctx context.Context, spec Spec) (*Loop, error) {
	note, err := spec.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid voice %s/%s: %w", spec.Instrument, spec.Note, err)
	}

	id := uuid.NewString()
	lctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		ID:    id,
		spec:  spec,
		note:  note,
		sched: s,
		log: s.log.With().
			Str("voice_id", id).
			Str("instrument", spec.Instrument).
			Str("note", note.String()).
			Logger(),
		ctx:      lctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}

	ticks, stopTicker := s.ticker(spec.Period)
	l.wg.Add(1)
	go l.run(ticks, stopTicker)

	l.log.Debug().
		Dur("period", spec.Period).
		Dur("delay", spec.Delay).
		Msg("Voice started")
	return l, nil
}

// run triggers iterations until the loop is stopped.
func (l *Loop) run(ticks <-chan time.Time, stopTicker func()) {
	defer l.wg.Done()
	defer stopTicker()

	l.trigger()
	for {
		select {
		case <-l.stopChan:
			return
		case <-l.ctx.Done():
			return
		case <-ticks:
			l.trigger()
		}
	}
}

// trigger starts one iteration in its own goroutine.
func (l *Loop) trigger() {
	n := l.iterations.Add(1)
	l.log.Trace().Int64("iteration", n).Msg("Triggering voice")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := l.sched.PlayOnce(l.ctx, l.spec.Instrument, l.note, l.spec.Destination, l.spec.Delay)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.failures.Add(1)
			l.log.Error().Err(err).Int64("iteration", n).Msg("Voice iteration produced no sound")
		}
	}()
}

// Iterations returns how many times the loop has triggered.
func (l *Loop) Iterations() int64 {
	return l.iterations.Load()
}

// Failures returns how many iterations failed to schedule a sound.
func (l *Loop) Failures() int64 {
	return l.failures.Load()
}

// Stop ends the loop, cancels in-flight fetches and waits for outstanding
// iterations to return. Sounds already handed to the destination keep playing.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.log.Debug().Msg("Stopping voice")
		close(l.stopChan)
		l.cancel()
	})
	l.wg.Wait()
}

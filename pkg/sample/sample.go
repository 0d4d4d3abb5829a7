package sample

import (
	"errors"
	"fmt"

	"github.com/hiway/airports/pkg/pitch"
)

var (
	// ErrUnknownInstrument is returned when a library has no bank for an instrument.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrEmptyBank is returned when resolving against a bank with no entries.
	ErrEmptyBank = errors.New("empty sample bank")
)

// Entry is one recorded note of an instrument.
type Entry struct {
	Note   string `toml:"note"`   // Pitch class, flats allowed
	Octave int    `toml:"octave"` // Octave of the recording
	File   string `toml:"file"`   // Resource locator handed to the fetcher
}

// Pitch returns the normalized note the entry was recorded at.
func (e Entry) Pitch() pitch.Note {
	return pitch.Note{Name: pitch.FlatToSharp(e.Note), Octave: e.Octave}
}

// Validate checks if the entry is usable for resolution.
func (e *Entry) Validate() error {
	if pitch.Index(pitch.FlatToSharp(e.Note)) < 0 {
		return fmt.Errorf("note %q is not a pitch class", e.Note)
	}
	if e.Octave < 0 {
		return errors.New("octave cannot be negative")
	}
	if e.File == "" {
		return errors.New("file cannot be empty")
	}
	return nil
}

// Bank is the ordered set of recordings for one instrument.
type Bank []Entry

// Match is the result of resolving a requested note against a bank.
type Match struct {
	Entry Entry
	// Distance is requested minus recorded, in semitones.
	Distance int
}

// Nearest returns the entry closest to n by absolute semitone distance.
// Ties go to the entry that appears first in the bank.
func (b Bank) Nearest(n pitch.Note) (Match, error) {
	if len(b) == 0 {
		return Match{}, ErrEmptyBank
	}

	best := -1
	var bestDist int
	for i, e := range b {
		d, err := pitch.Distance(n, e.Pitch())
		if err != nil {
			return Match{}, fmt.Errorf("failed to measure distance to entry %d: %w", i, err)
		}
		if best < 0 || abs(d) < abs(bestDist) {
			best, bestDist = i, d
		}
	}
	return Match{Entry: b[best], Distance: bestDist}, nil
}

// Validate checks every entry of the bank.
func (b Bank) Validate() error {
	if len(b) == 0 {
		return ErrEmptyBank
	}
	for i := range b {
		if err := b[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// Library maps instrument names to their banks. It is read-only once built.
type Library map[string]Bank

// Nearest resolves n against the named instrument's bank.
func (l Library) Nearest(instrument string, n pitch.Note) (Match, error) {
	bank, ok := l[instrument]
	if !ok {
		return Match{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, instrument)
	}
	m, err := bank.Nearest(n)
	if err != nil {
		return Match{}, fmt.Errorf("instrument %q: %w", instrument, err)
	}
	return m, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

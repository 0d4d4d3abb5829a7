package pitch

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// PitchClasses is the fixed pitch-class table. Semitone values are indexes
// into this table plus twelve per octave.
var PitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var (
	// ErrMalformedToken is returned when a note token does not look like "C#4".
	ErrMalformedToken = errors.New("malformed note token")
	// ErrUnknownPitchClass is returned for names outside PitchClasses.
	ErrUnknownPitchClass = errors.New("unknown pitch class")
)

var tokenPattern = regexp.MustCompile(`^([A-G][b#]?)(\d)$`)

// Note is a pitch class name paired with an octave.
type Note struct {
	Name   string
	Octave int
}

// String renders the note as a token, e.g. "D#4".
func (n Note) String() string {
	return n.Name + strconv.Itoa(n.Octave)
}

// Value returns the semitone value of the note.
func (n Note) Value() (int, error) {
	return SemitoneValue(n.Name, n.Octave)
}

// Index returns the position of name in PitchClasses, or -1.
func Index(name string) int {
	for i, pc := range PitchClasses {
		if pc == name {
			return i
		}
	}
	return -1
}

// SemitoneValue returns octave*12 plus the index of name in PitchClasses.
// Names must already be normalized with FlatToSharp.
func SemitoneValue(name string, octave int) (int, error) {
	i := Index(name)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPitchClass, name)
	}
	return octave*12 + i, nil
}

// Distance returns the signed semitone distance a - b. Positive means a is higher.
func Distance(a, b Note) (int, error) {
	va, err := a.Value()
	if err != nil {
		return 0, err
	}
	vb, err := b.Value()
	if err != nil {
		return 0, err
	}
	return va - vb, nil
}

// FlatToSharp maps the five flat spellings to their sharp equivalents.
// Anything else is returned unchanged.
func FlatToSharp(name string) string {
	switch name {
	case "Bb":
		return "A#"
	case "Db":
		return "C#"
	case "Eb":
		return "D#"
	case "Gb":
		return "F#"
	case "Ab":
		return "G#"
	default:
		return name
	}
}

// ParseToken splits a token such as "Bb3" into its name and octave without
// normalizing the spelling.
func ParseToken(token string) (Note, error) {
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return Note{}, fmt.Errorf("%w: %q", ErrMalformedToken, token)
	}
	octave, err := strconv.Atoi(m[2])
	if err != nil {
		return Note{}, fmt.Errorf("%w: %q: %v", ErrMalformedToken, token, err)
	}
	return Note{Name: m[1], Octave: octave}, nil
}

// Parse parses a token and normalizes its spelling. Tokens whose name is not
// in PitchClasses after normalization (such as "Cb4" or "E#4") are rejected.
func Parse(token string) (Note, error) {
	n, err := ParseToken(token)
	if err != nil {
		return Note{}, err
	}
	n.Name = FlatToSharp(n.Name)
	if Index(n.Name) < 0 {
		return Note{}, fmt.Errorf("%w: %q in token %q", ErrUnknownPitchClass, n.Name, token)
	}
	return n, nil
}

// PlaybackRate returns the equal-tempered rate that shifts a recording by
// distance semitones: 12 semitones doubles the rate, -12 halves it.
func PlaybackRate(distance int) float64 {
	return math.Pow(2, float64(distance)/12)
}

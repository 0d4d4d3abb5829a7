package config

import (
	"github.com/hiway/airports/pkg/player"
	"github.com/hiway/airports/pkg/reverb"
	"github.com/hiway/airports/pkg/sample"
)

// DefaultInstrument is the instrument the default composition plays.
const DefaultInstrument = "Grand Piano"

// Default returns the configuration of the default piece: seven notes of
// C major on a grand piano, each on its own loop, in an airport terminal.
func Default() *Config {
	piano := sample.Bank{}
	for _, n := range []struct{ note, file string }{
		{"A", "a"}, {"C", "c"}, {"D#", "d#"}, {"F#", "f#"},
	} {
		for octave := 4; octave <= 6; octave++ {
			piano = append(piano, sample.Entry{
				Note:   n.note,
				Octave: octave,
				File:   "Samples/Grand Piano/piano-f-" + n.file + string(rune('0'+octave)) + ".wav",
			})
		}
	}

	voice := func(note string, period, delay float64) *Voice {
		return &Voice{
			Instrument:  DefaultInstrument,
			Note:        note,
			Period:      period,
			Delay:       delay,
			Destination: player.Space,
		}
	}

	return &Config{
		Output: Output{
			SampleRate: player.DefaultSampleRate,
			Volume:     0.8,
			Quality:    player.DefaultQuality,
		},
		Fetch: Fetch{
			Root:      ".",
			TimeoutMs: 10000,
		},
		Space: Space{
			Impulse:   "AirportTerminal.wav",
			Wet:       1,
			Dry:       0,
			BlockSize: reverb.DefaultBlockSize,
			Normalize: true,
		},
		Instruments: map[string]sample.Bank{
			DefaultInstrument: piano,
		},
		Voices: []*Voice{
			voice("C4", 19.7, 4.0),
			voice("D4", 17.8, 8.1),
			voice("E4", 21.3, 5.6),
			voice("F4", 22.1, 12.6),
			voice("G4", 18.4, 9.2),
			voice("A4", 20.0, 14.1),
			voice("B4", 17.7, 3.1),
		},
	}
}

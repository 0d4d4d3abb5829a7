package player

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/rs/zerolog"

	"github.com/hiway/airports/pkg/fetch"
	"github.com/hiway/airports/pkg/reverb"
)

// DefaultQuality is the resampler quality used for pitch shifting.
const DefaultQuality = 4

// Graph is the shared output graph: one mixer per destination, the space
// destination optionally running through a convolver, all summed into a
// single 16-bit stereo stream. The audio clock is the number of frames the
// graph has rendered.
type Graph struct {
	log     zerolog.Logger
	rate    beep.SampleRate
	quality int

	mu       sync.Mutex
	space    *beep.Mixer
	direct   *beep.Mixer
	master   *effects.Gain
	conv     *reverb.Convolver
	position int
	scratch  [][2]float64
}

// NewGraph creates a graph rendering at sampleRate with the given master volume.
func NewGraph(sampleRate int, volume float64, quality int, log zerolog.Logger) *Graph {
	if quality < 1 || quality > 64 {
		quality = DefaultQuality
	}
	g := &Graph{
		log:     log.With().Str("component", "graph").Logger(),
		rate:    beep.SampleRate(sampleRate),
		quality: quality,
		space:   &beep.Mixer{},
		direct:  &beep.Mixer{},
	}
	g.master = &effects.Gain{Streamer: g.sum(g.space), Gain: volume - 1}
	return g
}

// sum mixes the space chain with the direct mixer.
func (g *Graph) sum(space beep.Streamer) beep.Streamer {
	out := &beep.Mixer{}
	out.Add(space, g.direct)
	return out
}

// SampleRate returns the output sample rate.
func (g *Graph) SampleRate() int {
	return int(g.rate)
}

// SetSpace routes the space destination through a convolver built from ir.
func (g *Graph) SetSpace(ir *fetch.Buffer, opts reverb.Options) error {
	if ir == nil || ir.Frames() == 0 {
		return fmt.Errorf("impulse response is empty")
	}
	// The convolver runs at the output rate. Impulse responses recorded at a
	// different rate are resampled once here.
	chans := make([][]float64, min(ir.Channels, 2))
	for c := range chans {
		chans[c] = ir.Channel(c)
	}
	if ir.SampleRate != int(g.rate) {
		chans = resampleChannels(ir, g.rate, g.quality)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	conv, err := reverb.New(g.space, chans, opts)
	if err != nil {
		return fmt.Errorf("failed to build convolver: %w", err)
	}
	g.conv = conv
	g.master.Streamer = g.sum(conv)

	g.log.Debug().
		Int("ir_frames", ir.Frames()).
		Int("partitions", conv.Partitions()).
		Float64("wet", opts.Wet).
		Float64("dry", opts.Dry).
		Msg("Space routed through convolver")
	return nil
}

// Now returns the audio clock.
func (g *Graph) Now() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rate.D(g.position)
}

// Destination returns the named input of the graph.
func (g *Graph) Destination(name string) (Destination, error) {
	switch name {
	case Space:
		return &bus{graph: g, name: Space, mixer: g.space}, nil
	case Direct:
		return &bus{graph: g, name: Direct, mixer: g.direct}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, name)
	}
}

// schedule adds s to mixer so that it starts sounding at s.Start on the audio clock.
func (g *Graph) schedule(mixer *beep.Mixer, bus string, s Sound) error {
	if s.Buffer == nil || s.Buffer.Frames() == 0 {
		return fmt.Errorf("sound %q has no audio", s.Name)
	}
	if s.Rate <= 0 {
		return fmt.Errorf("sound %q has invalid playback rate %f", s.Name, s.Rate)
	}

	src := beep.Streamer(bufferStreamer(s.Buffer))
	ratio := s.Rate * float64(s.Buffer.SampleRate) / float64(g.rate)
	if ratio != 1 {
		src = beep.ResampleRatio(g.quality, ratio, src)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	offset := g.rate.N(s.Start) - g.position
	if mixer == g.space && g.conv != nil {
		offset -= g.conv.Buffered()
	}
	if offset < 0 {
		// Already late: start right away.
		g.log.Warn().
			Str("sound", s.Name).
			Str("destination", bus).
			Dur("late_by", g.rate.D(-offset)).
			Msg("Start time already passed, playing immediately")
		offset = 0
	}
	mixer.Add(beep.Seq(beep.Silence(offset), src))

	g.log.Trace().
		Str("sound", s.Name).
		Str("destination", bus).
		Float64("rate", s.Rate).
		Dur("start", s.Start).
		Int("active", mixer.Len()).
		Msg("Scheduled sound")
	return nil
}

// Active returns the number of sounds queued or playing on all destinations.
func (g *Graph) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.space.Len() + g.direct.Len()
}

// Stream renders frames and advances the audio clock.
func (g *Graph) Stream(samples [][2]float64) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, _ := g.master.Stream(samples)
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	g.position += len(samples)
	return len(samples), true
}

// Err always returns nil; the graph never ends.
func (g *Graph) Err() error {
	return nil
}

// Read renders 16-bit little-endian stereo PCM into p.
func (g *Graph) Read(p []byte) (int, error) {
	frames := len(p) / (ChannelCount * BitDepthInBytes)
	if frames == 0 {
		return 0, nil
	}
	if cap(g.scratch) < frames {
		g.scratch = make([][2]float64, frames)
	}
	buf := g.scratch[:frames]
	g.Stream(buf)

	for i, f := range buf {
		for ch := 0; ch < ChannelCount; ch++ {
			v := math.Max(-1, math.Min(1, f[ch]))
			binary.LittleEndian.PutUint16(p[(i*ChannelCount+ch)*BitDepthInBytes:], uint16(int16(v*32767)))
		}
	}
	return frames * ChannelCount * BitDepthInBytes, nil
}

// bus is a Destination feeding one of the graph's mixers.
type bus struct {
	graph *Graph
	name  string
	mixer *beep.Mixer
}

func (b *bus) Now() time.Duration {
	return b.graph.Now()
}

func (b *bus) Play(s Sound) error {
	return b.graph.schedule(b.mixer, b.name, s)
}

// bufferStreamer plays a decoded buffer once.
func bufferStreamer(b *fetch.Buffer) beep.Streamer {
	pos := 0
	frames := b.Frames()
	return beep.StreamerFunc(func(samples [][2]float64) (n int, ok bool) {
		if pos >= frames {
			return 0, false
		}
		for n < len(samples) && pos < frames {
			l, r := b.Frame(pos)
			samples[n] = [2]float64{l, r}
			n++
			pos++
		}
		return n, true
	})
}

// resampleChannels converts a buffer to rate, returning at most two channels.
func resampleChannels(b *fetch.Buffer, rate beep.SampleRate, quality int) [][]float64 {
	src := beep.Resample(quality, beep.SampleRate(b.SampleRate), rate, bufferStreamer(b))
	var left, right []float64
	chunk := make([][2]float64, 512)
	for {
		n, ok := src.Stream(chunk)
		for _, f := range chunk[:n] {
			left = append(left, f[0])
			right = append(right, f[1])
		}
		if !ok {
			break
		}
	}
	if b.Channels == 1 {
		return [][]float64{left}
	}
	return [][]float64{left, right}
}

package reverb

import (
	"errors"
	"math"

	"github.com/faiface/beep"
	"github.com/mjibson/go-dsp/fft"
)

// DefaultBlockSize is the partition length used when Options leaves it unset.
const DefaultBlockSize = 512

// Options configures a Convolver.
type Options struct {
	// BlockSize is the partition length in frames. Rounded up to a power of two.
	BlockSize int
	// Wet and Dry are the gains of the convolved and untouched signal.
	Wet float64
	Dry float64
	// Normalize scales the impulse response to unit energy.
	Normalize bool
}

// DefaultOptions returns a fully wet, normalized configuration.
func DefaultOptions() Options {
	return Options{BlockSize: DefaultBlockSize, Wet: 1, Dry: 0, Normalize: true}
}

// Convolver convolves a stereo stream with an impulse response using
// uniformly partitioned overlap-save FFT convolution. Output sample n
// corresponds to input sample n; there is no added latency because the
// convolver pulls a whole block from its source before emitting it.
type Convolver struct {
	src   beep.Streamer
	block int
	opts  Options

	parts [2][][]complex128 // spectra of the impulse response partitions
	fdl   [2][][]complex128 // spectra of recent input blocks, a ring
	head  int
	prev  [2][]float64 // previous input block per channel
	in    [2][]float64 // scratch: [prev, current] per channel
	acc   []complex128
	buf   [][2]float64

	out     [][2]float64
	pos     int
	drained bool
	tail    int // blocks still to emit after the source ended
}

// New builds a convolver over src. ir holds one slice per channel; a single
// channel is used for both sides.
func New(src beep.Streamer, ir [][]float64, opts Options) (*Convolver, error) {
	if len(ir) == 0 || len(ir[0]) == 0 {
		return nil, errors.New("impulse response is empty")
	}
	if len(ir) > 2 {
		ir = ir[:2]
	}
	block := nextPow2(opts.BlockSize)
	if opts.BlockSize <= 0 {
		block = DefaultBlockSize
	}

	scale := 1.0
	if opts.Normalize {
		var energy float64
		for _, ch := range ir {
			for _, v := range ch {
				energy += v * v
			}
		}
		energy /= float64(len(ir))
		if energy > 0 {
			scale = 1 / math.Sqrt(energy)
		}
	}

	c := &Convolver{
		src:   src,
		block: block,
		opts:  opts,
		out:   make([][2]float64, block),
		pos:   block,
		acc:   make([]complex128, 2*block),
		buf:   make([][2]float64, block),
	}
	for ch := 0; ch < 2; ch++ {
		h := ir[0]
		if ch < len(ir) {
			h = ir[ch]
		}
		c.parts[ch] = partition(h, block, scale)
		c.fdl[ch] = make([][]complex128, len(c.parts[ch]))
		for i := range c.fdl[ch] {
			c.fdl[ch][i] = make([]complex128, 2*block)
		}
		c.prev[ch] = make([]float64, block)
		c.in[ch] = make([]float64, 2*block)
	}
	return c, nil
}

// partition splits h into block-sized pieces and returns the spectrum of
// each piece zero-padded to twice the block size.
func partition(h []float64, block int, scale float64) [][]complex128 {
	n := (len(h) + block - 1) / block
	parts := make([][]complex128, n)
	for p := range parts {
		seg := make([]float64, 2*block)
		for i := 0; i < block; i++ {
			j := p*block + i
			if j >= len(h) {
				break
			}
			seg[i] = h[j] * scale
		}
		parts[p] = fft.FFTReal(seg)
	}
	return parts
}

// Partitions returns the impulse response length in blocks.
func (c *Convolver) Partitions() int {
	return len(c.parts[0])
}

// Buffered returns how many frames have been pulled from the source but not
// yet emitted. Anything added to the source now is heard that much later.
func (c *Convolver) Buffered() int {
	return c.block - c.pos
}

// Stream fills samples with the convolved signal.
func (c *Convolver) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) {
		if c.pos >= c.block {
			if !c.process() {
				return n, n > 0
			}
		}
		k := copy(samples[n:], c.out[c.pos:])
		c.pos += k
		n += k
	}
	return n, true
}

// Err propagates the source's error.
func (c *Convolver) Err() error {
	return c.src.Err()
}

// process pulls one block from the source and renders it into c.out.
// It returns false once the source has ended and the tail has been played.
func (c *Convolver) process() bool {
	if c.drained {
		if c.tail <= 0 {
			return false
		}
		c.tail--
	}

	buf := c.buf
	for i := range buf {
		buf[i] = [2]float64{}
	}
	got := 0
	for !c.drained && got < c.block {
		n, ok := c.src.Stream(buf[got:])
		got += n
		if !ok {
			c.drained = true
			c.tail = len(c.parts[0])
		} else if n == 0 {
			break
		}
	}

	c.head = (c.head + 1) % len(c.fdl[0])
	for ch := 0; ch < 2; ch++ {
		in := c.in[ch]
		copy(in, c.prev[ch])
		for i := 0; i < c.block; i++ {
			in[c.block+i] = buf[i][ch]
			c.prev[ch][i] = buf[i][ch]
		}
		c.fdl[ch][c.head] = fft.FFTReal(in)

		acc := c.acc
		for i := range acc {
			acc[i] = 0
		}
		parts := c.parts[ch]
		for p, h := range parts {
			x := c.fdl[ch][(c.head-p+len(parts))%len(parts)]
			for i := range acc {
				acc[i] += x[i] * h[i]
			}
		}
		y := fft.IFFT(acc)
		for i := 0; i < c.block; i++ {
			c.out[i][ch] = c.opts.Wet*real(y[c.block+i]) + c.opts.Dry*buf[i][ch]
		}
	}
	c.pos = 0
	return true
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

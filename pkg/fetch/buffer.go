package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// ErrDecode is returned when fetched bytes are not a playable recording.
var ErrDecode = errors.New("failed to decode audio")

// Buffer is a decoded recording: interleaved samples normalized to [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   int
	Data       []float64
}

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Duration returns the playing time of the buffer at its own sample rate.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Frame returns the stereo frame at i. Mono buffers feed both channels and
// extra channels beyond the first two are ignored.
func (b *Buffer) Frame(i int) (l, r float64) {
	base := i * b.Channels
	l = b.Data[base]
	if b.Channels > 1 {
		return l, b.Data[base+1]
	}
	return l, l
}

// Channel returns a copy of one channel. Requests past the last channel
// return the last channel.
func (b *Buffer) Channel(c int) []float64 {
	if c >= b.Channels {
		c = b.Channels - 1
	}
	out := make([]float64, b.Frames())
	for i := range out {
		out[i] = b.Data[i*b.Channels+c]
	}
	return out
}

// Decode decodes a PCM WAV file held in memory.
func Decode(data []byte) (*Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels < 1 || pcm.Format.SampleRate < 1 {
		return nil, fmt.Errorf("%w: missing format", ErrDecode)
	}

	bitDepth := pcm.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, bitDepth)
	}

	// 8-bit WAV is unsigned, everything else is signed.
	maxVal := float64(int64(1) << uint(bitDepth-1))
	offset := 0.0
	if bitDepth == 8 {
		offset = maxVal
	}

	samples := make([]float64, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = (float64(v) - offset) / maxVal
	}

	return &Buffer{
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.NumChannels,
		Data:       samples,
	}, nil
}

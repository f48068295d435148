// Package audio supplies PCM input to recognition engines.
package audio

import (
	"context"
	"encoding/binary"
	"time"
)

// PCM is signed 16-bit interleaved audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the samples.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// Bytes returns the samples as little-endian bytes.
func (p PCM) Bytes() []byte {
	out := make([]byte, len(p.Samples)*2)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Mono averages interleaved channels into a single channel. Mono input is
// returned unchanged.
func (p PCM) Mono() PCM {
	if p.Channels <= 1 {
		return p
	}
	frames := len(p.Samples) / p.Channels
	out := make([]int16, frames)
	for i := range out {
		var sum int
		for c := 0; c < p.Channels; c++ {
			sum += int(p.Samples[i*p.Channels+c])
		}
		out[i] = int16(sum / p.Channels)
	}
	return PCM{Samples: out, SampleRate: p.SampleRate, Channels: 1}
}

// Source produces the audio consumed by one recognition pass.
type Source interface {
	// Probe checks that the input is usable without capturing.
	Probe() error
	Capture(ctx context.Context) (PCM, error)
	Name() string
}

//go:build portaudio

package audio

import (
	"context"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
)

const framesPerBuffer = 512

// MicrophoneAvailable reports whether live capture is compiled in.
func MicrophoneAvailable() bool { return true }

type microphone struct {
	sampleRate int
	channels   int
	window     time.Duration
}

// NewMicrophone captures from the default input device for at most window
// per pass.
func NewMicrophone(sampleRate, channels int, window time.Duration) Source {
	return &microphone{sampleRate: sampleRate, channels: channels, window: window}
}

func (m *microphone) Name() string { return "portaudio" }

func (m *microphone) Probe() error {
	if err := portaudio.Initialize(); err != nil {
		return engine.Errorf(engine.KindAudioInput, "initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return engine.Errorf(engine.KindAudioInput, "no default input device: %w", err)
	}
	return nil
}

func (m *microphone) Capture(ctx context.Context) (PCM, error) {
	if err := portaudio.Initialize(); err != nil {
		return PCM{}, engine.Errorf(engine.KindAudioInput, "initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	frame := make([]int16, framesPerBuffer*m.channels)
	stream, err := portaudio.OpenDefaultStream(m.channels, 0, float64(m.sampleRate), framesPerBuffer, frame)
	if err != nil {
		return PCM{}, engine.Errorf(engine.KindAudioInput, "open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return PCM{}, engine.Errorf(engine.KindAudioInput, "start input stream: %w", err)
	}
	defer stream.Stop()

	deadline := time.Now().Add(m.window)
	samples := make([]int16, 0, int(m.window.Seconds()*float64(m.sampleRate*m.channels))+len(frame))
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return PCM{}, err
		}
		if err := stream.Read(); err != nil {
			return PCM{}, engine.Errorf(engine.KindAudioInput, "read input stream: %w", err)
		}
		samples = append(samples, frame...)
	}
	return PCM{Samples: samples, SampleRate: m.sampleRate, Channels: m.channels}, nil
}

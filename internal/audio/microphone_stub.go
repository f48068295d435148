//go:build !portaudio

package audio

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-recognizer/internal/engine"
)

// MicrophoneAvailable reports whether live capture is compiled in.
func MicrophoneAvailable() bool { return false }

type microphone struct{}

// NewMicrophone returns a source that always fails; build with
// -tags portaudio for live capture.
func NewMicrophone(int, int, time.Duration) Source { return microphone{} }

func (microphone) Name() string { return "portaudio" }

func (microphone) Probe() error {
	return engine.Errorf(engine.KindAudioInput, "microphone capture not compiled in (build with -tags portaudio)")
}

func (m microphone) Capture(context.Context) (PCM, error) {
	return PCM{}, m.Probe()
}

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
)

type fileSource struct {
	path string
}

// NewFileSource returns a Source that replays a 16-bit PCM WAV file on
// every capture.
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

func (f *fileSource) Name() string { return "file" }

func (f *fileSource) Probe() error {
	info, err := os.Stat(f.path)
	if err != nil {
		return engine.Errorf(engine.KindAudioInput, "audio file %s: %w", f.path, err)
	}
	if info.IsDir() {
		return engine.Errorf(engine.KindAudioInput, "audio file %s is a directory", f.path)
	}
	return nil
}

func (f *fileSource) Capture(ctx context.Context) (PCM, error) {
	if err := ctx.Err(); err != nil {
		return PCM{}, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return PCM{}, engine.Errorf(engine.KindPermissionDenied, "open audio file: %w", err)
		}
		return PCM{}, engine.Errorf(engine.KindAudioInput, "open audio file: %w", err)
	}
	defer file.Close()
	return ReadWAV(file)
}

// ReadWAV decodes a 16-bit PCM WAV stream.
func ReadWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, engine.Errorf(engine.KindAudioInput, "not a valid wav stream")
	}
	if dec.BitDepth != 16 {
		return PCM{}, engine.Errorf(engine.KindAudioInput, "unsupported wav bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, engine.Errorf(engine.KindAudioInput, "decode wav: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return PCM{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// WriteWAV encodes pcm as a 16-bit PCM WAV.
func WriteWAV(w io.WriteSeeker, pcm PCM) error {
	if pcm.SampleRate <= 0 || pcm.Channels <= 0 {
		return fmt.Errorf("invalid pcm format: rate=%d channels=%d", pcm.SampleRate, pcm.Channels)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: pcm.Channels, SampleRate: pcm.SampleRate},
		SourceBitDepth: 16,
	}
	data := make([]int, len(pcm.Samples))
	for i, s := range pcm.Samples {
		data[i] = int(s)
	}
	buffer.Data = data

	enc := wav.NewEncoder(w, pcm.SampleRate, 16, pcm.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// Package backend turns configuration into an engine and its audio source.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-recognizer/internal/audio"
	"github.com/loqalabs/loqa-recognizer/internal/config"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
	"github.com/loqalabs/loqa-recognizer/internal/engine/execengine"
	"github.com/loqalabs/loqa-recognizer/internal/engine/voskengine"
)

// NewSource builds the configured audio source. It returns nil for "none".
func NewSource(cfg config.AudioConfig) (audio.Source, error) {
	switch cfg.Source {
	case "", "none":
		return nil, nil
	case "file":
		if cfg.Path == "" {
			return nil, engine.Errorf(engine.KindAudioInput, "audio.path is empty")
		}
		return audio.NewFileSource(cfg.Path), nil
	case "portaudio":
		return audio.NewMicrophone(cfg.SampleRate, cfg.Channels, cfg.CaptureWindow()), nil
	default:
		return nil, engine.Errorf(engine.KindAudioInput, "unknown audio source %q", cfg.Source)
	}
}

// New builds the engine named by cfg.Engine.Mode. Construction failures
// carry kind Initialization.
func New(cfg config.Config, logger *slog.Logger) (engine.Engine, error) {
	source, err := NewSource(cfg.Audio)
	if err != nil {
		return nil, engine.Wrap(engine.KindInitialization, "audio source", err)
	}
	sourceName := "none"
	if source != nil {
		sourceName = source.Name()
	}

	var eng engine.Engine
	switch cfg.Engine.Mode {
	case "", "mock":
		eng = engine.NewMock(engine.MockOptions{
			Text:     cfg.Engine.MockText,
			NoSpeech: cfg.Engine.MockText == "",
		})
	case "exec":
		e, err := execengine.New(cfg.Engine.Command, source, cfg.Audio.SampleRate)
		if err != nil {
			return nil, engine.Wrap(engine.KindInitialization, "exec engine", err)
		}
		eng = e
	case "vosk":
		e, err := voskengine.New(source, cfg.Audio.SampleRate)
		if err != nil {
			return nil, err
		}
		eng = e
	default:
		return nil, engine.Errorf(engine.KindInitialization, "unknown engine mode %q", cfg.Engine.Mode)
	}

	if logger != nil {
		logger.Info("engine configured",
			slog.String("mode", modeName(cfg.Engine.Mode)),
			slog.String("audio_source", sourceName))
	}
	return eng, nil
}

func modeName(mode string) string {
	if mode == "" {
		return "mock"
	}
	return mode
}

// Describe renders the engine selection for logs and CLI output.
func Describe(cfg config.Config) string {
	return fmt.Sprintf("%s engine, %s audio", modeName(cfg.Engine.Mode), cfg.Audio.Source)
}

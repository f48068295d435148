//go:build vosk

// Package voskengine binds the Vosk offline recognizer. Vosk keeps its
// language model and lexicon inside the model directory, so only the hmm
// path is used.
package voskengine

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/loqalabs/loqa-recognizer/internal/audio"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
)

// Available reports whether the native backend is compiled in.
func Available() bool { return true }

type session struct {
	mu         sync.Mutex
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	rate       int
}

type result struct {
	Text string `json:"text"`
}

type Engine struct {
	source     audio.Source
	sampleRate int

	mu       sync.Mutex
	nextID   uint64
	sessions map[engine.Session]*session
}

func New(source audio.Source, sampleRate int) (*Engine, error) {
	if source == nil {
		return nil, engine.Errorf(engine.KindInitialization, "vosk engine needs an audio source")
	}
	if sampleRate <= 0 {
		sampleRate = engine.DefaultSampleRate
	}
	vosk.SetLogLevel(-1)
	return &Engine{source: source, sampleRate: sampleRate, sessions: make(map[engine.Session]*session)}, nil
}

func (e *Engine) CreateSession(ctx context.Context, models engine.Models) (engine.Session, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := os.Stat(models.HMM); err != nil {
		return 0, engine.Errorf(engine.KindInitialization, "vosk model %s: %w", models.HMM, err)
	}
	if err := e.source.Probe(); err != nil {
		return 0, err
	}
	model, err := vosk.NewModel(models.HMM)
	if err != nil {
		return 0, engine.Errorf(engine.KindInitialization, "load vosk model: %w", err)
	}
	rec, err := vosk.NewRecognizer(model, float64(e.sampleRate))
	if err != nil {
		model.Free()
		return 0, engine.Errorf(engine.KindInitialization, "create vosk recognizer: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := engine.Session(e.nextID)
	e.sessions[id] = &session{model: model, recognizer: rec, rate: e.sampleRate}
	return id, nil
}

func (e *Engine) DestroySession(s engine.Session) error {
	e.mu.Lock()
	sess, ok := e.sessions[s]
	delete(e.sessions, s)
	e.mu.Unlock()
	if !ok {
		return engine.Errorf(engine.KindNotInitialized, "session %d not found", s)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.recognizer != nil {
		sess.recognizer.Free()
		sess.recognizer = nil
	}
	if sess.model != nil {
		sess.model.Free()
		sess.model = nil
	}
	return nil
}

func (e *Engine) Recognize(ctx context.Context, s engine.Session) (*engine.Buffer, error) {
	e.mu.Lock()
	sess, ok := e.sessions[s]
	e.mu.Unlock()
	if !ok {
		return nil, engine.Errorf(engine.KindNotInitialized, "session %d not found", s)
	}

	pcm, err := e.source.Capture(ctx)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.recognizer == nil {
		return nil, engine.Errorf(engine.KindNotInitialized, "session %d released", s)
	}
	mono := pcm.Mono()
	if mono.SampleRate <= 0 {
		return nil, engine.Errorf(engine.KindAudioInput, "captured audio has no sample rate")
	}
	// Vosk recognizers are bound to one rate.
	if mono.SampleRate != sess.rate {
		rec, err := vosk.NewRecognizer(sess.model, float64(mono.SampleRate))
		if err != nil {
			return nil, engine.Errorf(engine.KindRecognitionFailed, "create vosk recognizer at %d Hz: %w", mono.SampleRate, err)
		}
		sess.recognizer.Free()
		sess.recognizer = rec
		sess.rate = mono.SampleRate
	}
	sess.recognizer.AcceptWaveform(mono.Bytes())
	raw := sess.recognizer.FinalResult()
	sess.recognizer.Reset()

	var res result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, engine.Errorf(engine.KindRecognitionFailed, "decode vosk result: %w", err)
	}
	return &engine.Buffer{Text: strings.TrimSpace(res.Text)}, nil
}

func (e *Engine) ReleaseResult(*engine.Buffer) {}

// Package execengine drives an external recognizer command, one process per
// recognition pass.
package execengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-recognizer/internal/audio"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
	"github.com/mattn/go-shellwords"
)

// NoSpeech is the text some engines print instead of an empty hypothesis.
const NoSpeech = "No speech detected"

type session struct {
	models engine.Models
}

// Engine runs `<command> --hmm .. --lm .. --dict .. --sample-rate ..
// [--channels .. --audio file]` and decodes a JSON result from stdout. With a
// source, the rate and channels describe the captured file; without one the
// configured rate is passed.
type Engine struct {
	cmd        []string
	source     audio.Source
	sampleRate int
	lookPath   func(string) (string, error)

	mu       sync.Mutex
	nextID   uint64
	sessions map[engine.Session]*session
}

type response struct {
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Error      *responseError `json:"error,omitempty"`
}

type responseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// New parses command with shell quoting rules. source may be nil when the
// command captures audio itself.
func New(command string, source audio.Source, sampleRate int) (*Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	if sampleRate <= 0 {
		sampleRate = engine.DefaultSampleRate
	}
	return &Engine{
		cmd:        args,
		source:     source,
		sampleRate: sampleRate,
		lookPath:   exec.LookPath,
		sessions:   make(map[engine.Session]*session),
	}, nil
}

func (e *Engine) CreateSession(ctx context.Context, models engine.Models) (engine.Session, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, p := range []struct{ name, path string }{
		{"hmm", models.HMM},
		{"lm", models.LM},
		{"dict", models.Dict},
	} {
		if p.path == "" {
			return 0, engine.Errorf(engine.KindInitialization, "%s path is empty", p.name)
		}
		if _, err := os.Stat(p.path); err != nil {
			if errors.Is(err, os.ErrPermission) {
				return 0, engine.Errorf(engine.KindPermissionDenied, "%s %s: %w", p.name, p.path, err)
			}
			return 0, engine.Errorf(engine.KindInitialization, "%s %s: %w", p.name, p.path, err)
		}
	}
	if _, err := e.lookPath(e.cmd[0]); err != nil {
		return 0, engine.Errorf(engine.KindInitialization, "engine command %q: %w", e.cmd[0], err)
	}
	if e.source != nil {
		if err := e.source.Probe(); err != nil {
			return 0, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := engine.Session(e.nextID)
	e.sessions[id] = &session{models: models}
	return id, nil
}

func (e *Engine) DestroySession(s engine.Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[s]; !ok {
		return engine.Errorf(engine.KindNotInitialized, "session %d not found", s)
	}
	delete(e.sessions, s)
	return nil
}

func (e *Engine) Recognize(ctx context.Context, s engine.Session) (*engine.Buffer, error) {
	e.mu.Lock()
	sess, ok := e.sessions[s]
	e.mu.Unlock()
	if !ok {
		return nil, engine.Errorf(engine.KindNotInitialized, "session %d not found", s)
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--hmm", sess.models.HMM,
		"--lm", sess.models.LM,
		"--dict", sess.models.Dict,
	)

	if e.source == nil {
		args = append(args, "--sample-rate", strconv.Itoa(e.sampleRate))
	} else {
		pcm, err := e.source.Capture(ctx)
		if err != nil {
			return nil, err
		}
		file, err := os.CreateTemp(os.TempDir(), "loqa_recognize_*.wav")
		if err != nil {
			return nil, fmt.Errorf("temp file: %w", err)
		}
		defer os.Remove(file.Name())
		defer file.Close()
		if err := audio.WriteWAV(file, pcm); err != nil {
			return nil, err
		}
		args = append(args,
			"--sample-rate", strconv.Itoa(pcm.SampleRate),
			"--channels", strconv.Itoa(pcm.Channels),
			"--audio", file.Name(),
		)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	runErr := command.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		if runErr != nil {
			return nil, engine.Errorf(engine.KindRecognitionFailed, "engine command failed: %w: %s", runErr, strings.TrimSpace(stderr.String()))
		}
		return nil, engine.Errorf(engine.KindRecognitionFailed, "decode engine response: %w", err)
	}
	if resp.Error != nil {
		kind := engine.ParseKind(resp.Error.Kind)
		if kind == engine.KindUnknown {
			kind = engine.KindRecognitionFailed
		}
		return nil, &engine.Error{Kind: kind, Message: resp.Error.Message}
	}
	if runErr != nil {
		return nil, engine.Errorf(engine.KindRecognitionFailed, "engine command failed: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(resp.Text)
	if text == NoSpeech {
		text = ""
	}
	return &engine.Buffer{Text: text, Confidence: resp.Confidence}, nil
}

// ReleaseResult is a no-op: buffers are plain Go values once decoded.
func (e *Engine) ReleaseResult(*engine.Buffer) {}

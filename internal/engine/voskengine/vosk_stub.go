//go:build !vosk

package voskengine

import (
	"context"

	"github.com/loqalabs/loqa-recognizer/internal/audio"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
)

// Available reports whether the native backend is compiled in.
func Available() bool { return false }

// ErrUnavailable is returned when the binary was built without -tags vosk.
var ErrUnavailable = engine.Errorf(engine.KindInitialization, "vosk engine not compiled in (build with -tags vosk)")

type Engine struct{}

func New(audio.Source, int) (*Engine, error) { return nil, ErrUnavailable }

func (*Engine) CreateSession(context.Context, engine.Models) (engine.Session, error) {
	return 0, ErrUnavailable
}

func (*Engine) DestroySession(engine.Session) error { return nil }

func (*Engine) Recognize(context.Context, engine.Session) (*engine.Buffer, error) {
	return nil, ErrUnavailable
}

func (*Engine) ReleaseResult(*engine.Buffer) {}

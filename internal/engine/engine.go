package engine

import (
	"context"
)

//go:generate mockgen -destination=enginemock/engine.go -package=enginemock . Engine

const (
	DefaultHMM  = "/usr/local/share/pocketsphinx/model/en-us/en-us"
	DefaultLM   = "/usr/local/share/pocketsphinx/model/en-us/en-us.lm.bin"
	DefaultDict = "/usr/local/share/pocketsphinx/model/en-us/cmudict-en-us.dict"

	DefaultSampleRate = 16000
)

// Models is the acoustic model directory, language model file and
// pronunciation dictionary a session is decoded with.
type Models struct {
	HMM  string
	LM   string
	Dict string
}

// DefaultModels points at the conventional pocketsphinx en-us install.
func DefaultModels() Models {
	return Models{HMM: DefaultHMM, LM: DefaultLM, Dict: DefaultDict}
}

// WithDefaults fills empty paths from DefaultModels.
func (m Models) WithDefaults() Models {
	if m.HMM == "" {
		m.HMM = DefaultHMM
	}
	if m.LM == "" {
		m.LM = DefaultLM
	}
	if m.Dict == "" {
		m.Dict = DefaultDict
	}
	return m
}

// Session is an opaque engine-issued handle. Zero is never a live session.
type Session uint64

// Buffer is a recognition result owned by the engine until it is handed
// back through ReleaseResult.
type Buffer struct {
	Text       string
	Confidence float64
	id         uint64
}

// Engine is the only contact point with decoding and audio capture.
type Engine interface {
	CreateSession(ctx context.Context, models Models) (Session, error)
	DestroySession(s Session) error
	Recognize(ctx context.Context, s Session) (*Buffer, error)
	ReleaseResult(b *Buffer)
}

package recognizer

import "github.com/loqalabs/loqa-recognizer/internal/engine"

type (
	Kind  = engine.Kind
	Error = engine.Error
)

const (
	KindAudioInput        = engine.KindAudioInput
	KindNetwork           = engine.KindNetwork
	KindNotInitialized    = engine.KindNotInitialized
	KindRecognitionFailed = engine.KindRecognitionFailed
	KindPermissionDenied  = engine.KindPermissionDenied
	KindInitialization    = engine.KindInitialization
)

var (
	ErrAudioInput        = engine.ErrAudioInput
	ErrNetwork           = engine.ErrNetwork
	ErrNotInitialized    = engine.ErrNotInitialized
	ErrRecognitionFailed = engine.ErrRecognitionFailed
	ErrPermissionDenied  = engine.ErrPermissionDenied
	ErrInitialization    = engine.ErrInitialization
)

// KindOf returns the kind of the outermost typed error in err's chain.
func KindOf(err error) Kind { return engine.KindOf(err) }

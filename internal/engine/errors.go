package engine

import (
	"errors"
	"fmt"
)

// Kind classifies recognizer failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindAudioInput
	KindNetwork
	KindNotInitialized
	KindRecognitionFailed
	KindPermissionDenied
	KindInitialization
)

var kindCodes = map[Kind]string{
	KindUnknown:           "UNKNOWN_ERROR",
	KindAudioInput:        "AUDIO_INPUT_ERROR",
	KindNetwork:           "NETWORK_ERROR",
	KindNotInitialized:    "NOT_INITIALIZED_ERROR",
	KindRecognitionFailed: "RECOGNITION_FAILED",
	KindPermissionDenied:  "PERMISSION_DENIED",
	KindInitialization:    "INITIALIZATION_ERROR",
}

// Code returns the stable string code for the kind.
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindUnknown]
}

func (k Kind) String() string { return k.Code() }

// ParseKind maps the snake_case names used on the exec wire protocol.
func ParseKind(name string) Kind {
	switch name {
	case "audio_input":
		return KindAudioInput
	case "network":
		return KindNetwork
	case "not_initialized":
		return KindNotInitialized
	case "recognition_failed":
		return KindRecognitionFailed
	case "permission_denied":
		return KindPermissionDenied
	case "initialization":
		return KindInitialization
	default:
		return KindUnknown
	}
}

// Error is a typed recognizer failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// set by Errorf, whose Message already includes Err's text
	formatted bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Err != nil && !e.formatted {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinel comparisons work
// through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf builds a typed error with a formatted message. A trailing error
// argument used with %w is kept as the cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), Err: errors.Unwrap(wrapped), formatted: true}
}

// Wrap attaches a kind and message to err. It returns nil for a nil err.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CauseKind returns the innermost typed kind in err's chain, which is the
// engine-reported reason behind a wrapping Initialization or
// RecognitionFailed error.
func CauseKind(err error) Kind {
	kind := KindUnknown
	for err != nil {
		if e, ok := err.(*Error); ok {
			kind = e.Kind
		}
		err = errors.Unwrap(err)
	}
	return kind
}

var (
	ErrAudioInput        = &Error{Kind: KindAudioInput}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrNotInitialized    = &Error{Kind: KindNotInitialized}
	ErrRecognitionFailed = &Error{Kind: KindRecognitionFailed}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrInitialization    = &Error{Kind: KindInitialization}
)

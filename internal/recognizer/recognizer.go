// Package recognizer owns one engine session and runs recognition passes
// against it, either blocking or through a Future.
package recognizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateReleased
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateReleased:
		return "released"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Result is the outcome of one recognition pass. Text is empty when no
// speech was detected.
type Result struct {
	ID         string
	Text       string
	Confidence float64
	Duration   time.Duration
	Timestamp  time.Time
}

// Observer is called after every pass, successful or not.
type Observer func(Result, error)

type Option func(*Recognizer)

// WithTimeout bounds each pass. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recognizer) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(r *Recognizer) {
		if fn != nil {
			r.observers = append(r.observers, fn)
		}
	}
}

// WithID overrides the generated recognizer id.
func WithID(id string) Option {
	return func(r *Recognizer) {
		if id != "" {
			r.id = id
		}
	}
}

type Recognizer struct {
	id        string
	eng       engine.Engine
	models    engine.Models
	timeout   time.Duration
	logger    *slog.Logger
	observers []Observer
	tracer    trace.Tracer
	inst      *instruments

	// passMu serializes passes and teardown against the session.
	passMu sync.Mutex

	mu         sync.Mutex
	state      State
	session    engine.Session
	cancelPass context.CancelFunc
}

// New creates an engine session for models. Empty model paths fall back to
// the defaults. On failure no Recognizer is returned and the error has kind
// Initialization, wrapping the engine's reason.
func New(ctx context.Context, eng engine.Engine, models engine.Models, opts ...Option) (*Recognizer, error) {
	r := &Recognizer{
		id:     uuid.NewString(),
		eng:    eng,
		models: models.WithDefaults(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: tracer(),
		inst:   newInstruments(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "recognizer"), slog.String("recognizer_id", r.id))

	if eng == nil {
		r.state = StateFailed
		return nil, &Error{Kind: KindInitialization, Message: "failed to initialize speech recognizer: no engine"}
	}

	session, err := eng.CreateSession(ctx, r.models)
	if err == nil && session == 0 {
		err = errors.New("engine returned no session")
	}
	if err != nil {
		r.state = StateFailed
		r.logger.Warn("recognizer initialization failed",
			slog.String("hmm", r.models.HMM),
			slog.String("lm", r.models.LM),
			slog.String("dict", r.models.Dict),
			slogError(err))
		return nil, &Error{Kind: KindInitialization, Message: "failed to initialize speech recognizer", Err: err}
	}

	r.session = session
	r.state = StateReady
	r.inst.sessionOpened(ctx)
	r.logger.Info("recognizer ready", slog.String("hmm", r.models.HMM))
	return r, nil
}

func (r *Recognizer) ID() string { return r.id }

func (r *Recognizer) Models() engine.Models { return r.models }

func (r *Recognizer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Recognize runs one pass and blocks until text or an error is available.
func (r *Recognizer) Recognize(ctx context.Context) (string, error) {
	res, err := r.RecognizeResult(ctx)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RecognizeResult is Recognize with pass metadata. A failed pass still
// carries its ID, Timestamp and Duration.
func (r *Recognizer) RecognizeResult(ctx context.Context) (Result, error) {
	r.passMu.Lock()
	res, err := r.pass(ctx)
	r.passMu.Unlock()

	for _, fn := range r.observers {
		fn(res, err)
	}
	return res, err
}

// RecognizeAsync starts a pass on its own goroutine and returns at once.
// Cancelling ctx cancels the pass.
func (r *Recognizer) RecognizeAsync(ctx context.Context) *Future {
	f := newFuture()
	go func() {
		res, err := r.RecognizeResult(ctx)
		f.resolve(res, err)
	}()
	return f
}

// Destroy cancels any in-flight pass and releases the engine session. It is
// safe to call more than once; only the first call reaches the engine. The
// recognizer is released even when the engine reports a teardown error.
func (r *Recognizer) Destroy() error {
	r.mu.Lock()
	if r.state != StateReady {
		r.mu.Unlock()
		return nil
	}
	r.state = StateReleased
	session := r.session
	r.session = 0
	if r.cancelPass != nil {
		r.cancelPass()
	}
	r.mu.Unlock()

	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.inst.sessionClosed(context.Background())
	if err := r.eng.DestroySession(session); err != nil {
		r.logger.Warn("engine teardown failed", slogError(err))
		return err
	}
	r.logger.Info("recognizer released")
	return nil
}

// Close is Destroy for use with io.Closer.
func (r *Recognizer) Close() error { return r.Destroy() }

func (r *Recognizer) pass(parent context.Context) (Result, error) {
	r.mu.Lock()
	if r.state != StateReady {
		state := r.state
		r.mu.Unlock()
		return Result{}, &Error{Kind: KindNotInitialized, Message: "recognizer not initialized (" + state.String() + ")"}
	}
	ctx, cancel := context.WithCancel(parent)
	if r.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, r.timeout)
		prev := cancel
		cancel = func() { cancelTimeout(); prev() }
	}
	r.cancelPass = cancel
	session := r.session
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.cancelPass = nil
		r.mu.Unlock()
		cancel()
	}()

	res := Result{ID: uuid.NewString(), Timestamp: time.Now().UTC()}
	ctx, span := r.tracer.Start(ctx, "recognizer.pass",
		trace.WithAttributes(
			attribute.String("recognizer.id", r.id),
			attribute.String("pass.id", res.ID),
		))
	defer span.End()

	start := time.Now()
	buf, err := r.eng.Recognize(ctx, session)
	if buf != nil {
		defer r.eng.ReleaseResult(buf)
	}
	res.Duration = time.Since(start)

	if err == nil && buf == nil {
		err = errors.New("engine returned no result")
	}
	if err != nil {
		err = classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.inst.recordPass(ctx, res.Duration, err)
		r.logger.Warn("recognition failed",
			slog.String("pass_id", res.ID),
			slog.String("kind", KindOf(err).Code()),
			slogError(err))
		return res, err
	}

	res.Text = buf.Text
	res.Confidence = buf.Confidence
	span.SetAttributes(attribute.Int("result.length", len(res.Text)))
	r.inst.recordPass(ctx, res.Duration, nil)
	r.logger.Debug("recognition complete",
		slog.String("pass_id", res.ID),
		slog.Duration("duration", res.Duration),
		slog.Bool("speech", res.Text != ""))
	return res, nil
}

// classify gives every pass failure a kind. Typed engine errors keep theirs;
// cancellation, timeouts and untyped errors become RecognitionFailed.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindRecognitionFailed, Message: "recognition timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindRecognitionFailed, Message: "recognition cancelled", Err: err}
	}
	if kind := KindOf(err); kind != engine.KindUnknown {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Kind: KindRecognitionFailed, Message: "recognition interrupted", Err: errors.Join(err, ctxErr)}
	}
	return &Error{Kind: KindRecognitionFailed, Message: "recognition failed", Err: err}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

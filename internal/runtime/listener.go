package runtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-recognizer/internal/eventstore"
	"github.com/loqalabs/loqa-recognizer/internal/protocol"
	"github.com/loqalabs/loqa-recognizer/internal/recognizer"
)

const maxListenBackoff = 5 * time.Second

// listen runs deferred passes back to back until ctx is done or the
// recognizer is released. Results leave through observe.
func (r *Runtime) listen(ctx context.Context) {
	log := r.logger.With(slog.String("component", "listener"))
	pause := time.Duration(r.cfg.Listener.PauseMS) * time.Millisecond
	backoff := pause
	log.Info("listener started", slog.Duration("pause", pause))
	defer log.Info("listener stopped")

	for {
		_, err := r.rec.RecognizeAsync(ctx).Wait(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := pause
		if err != nil {
			if errors.Is(err, recognizer.ErrNotInitialized) {
				return
			}
			backoff = min(max(backoff*2, 100*time.Millisecond), maxListenBackoff)
			wait = backoff
		} else {
			backoff = pause
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// observe fans every pass out to the websocket hub, the bus and the event
// store.
func (r *Runtime) observe(res recognizer.Result, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err != nil {
		kind := recognizer.KindOf(err)
		r.record(ctx, eventstore.Pass{
			RecognizerID: r.recognizerID,
			PassID:       res.ID,
			Duration:     res.Duration,
			CreatedAt:    res.Timestamp,
			ErrorKind:    kind.Code(),
			ErrorMessage: err.Error(),
		})
		r.publish(protocol.SubjectRecognitionError, protocol.RecognitionError{
			RecognizerID: r.recognizerID,
			PassID:       res.ID,
			Kind:         kind.Code(),
			Message:      err.Error(),
			Timestamp:    time.Now().UTC(),
		})
		return
	}

	transcript := protocol.Transcript{
		RecognizerID: r.recognizerID,
		PassID:       res.ID,
		Text:         res.Text,
		Timestamp:    res.Timestamp,
		Confidence:   res.Confidence,
		DurationMS:   res.Duration.Milliseconds(),
	}
	r.hub.Broadcast(transcript)
	if res.Text != "" {
		r.publish(protocol.SubjectTranscriptFinal, transcript)
	}
	r.record(ctx, eventstore.Pass{
		RecognizerID: r.recognizerID,
		PassID:       res.ID,
		Text:         res.Text,
		Confidence:   res.Confidence,
		Duration:     res.Duration,
		CreatedAt:    res.Timestamp,
	})
}

func (r *Runtime) publish(subject string, v any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(subject, v); err != nil {
		r.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func (r *Runtime) record(ctx context.Context, p eventstore.Pass) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendPass(ctx, p); err != nil {
		r.logger.Warn("failed to record pass", slogError(err))
	}
}

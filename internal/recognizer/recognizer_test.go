package recognizer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-recognizer/internal/engine"
	"github.com/loqalabs/loqa-recognizer/internal/engine/enginemock"
	"github.com/loqalabs/loqa-recognizer/internal/recognizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newRecognizer(t *testing.T, eng engine.Engine, opts ...recognizer.Option) *recognizer.Recognizer {
	t.Helper()
	r, err := recognizer.New(context.Background(), eng, engine.Models{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func TestDefaultModelsRecognizeHelloWorld(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{Text: "hello world"})
	r := newRecognizer(t, mock)

	assert.Equal(t, engine.DefaultModels(), r.Models())
	assert.Equal(t, recognizer.StateReady, r.State())

	text, err := r.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Zero(t, mock.OutstandingBuffers())
}

func TestCreateDestroyLeavesNothingBehind(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{})
	r, err := recognizer.New(context.Background(), mock, engine.Models{HMM: "/models/hmm", LM: "/models/lm.bin", Dict: "/models/dict"})
	require.NoError(t, err)
	assert.Equal(t, 1, mock.LiveSessions())

	require.NoError(t, r.Destroy())
	assert.Equal(t, recognizer.StateReleased, r.State())
	assert.Zero(t, mock.LiveSessions())
	assert.Zero(t, mock.OutstandingBuffers())
}

func TestInitializationFailure(t *testing.T) {
	cause := engine.Errorf(engine.KindAudioInput, "no input device")
	mock := engine.NewMock(engine.MockOptions{InitErr: cause})

	r, err := recognizer.New(context.Background(), mock, engine.Models{HMM: "/missing"})
	require.Error(t, err)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, recognizer.ErrInitialization)
	assert.ErrorIs(t, err, recognizer.ErrAudioInput)
	assert.Equal(t, recognizer.KindInitialization, recognizer.KindOf(err))
	assert.Equal(t, engine.KindAudioInput, engine.CauseKind(err))
	assert.Zero(t, mock.LiveSessions())
}

func TestInitializationFailureUntypedCause(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{InitErr: errors.New("bad model file")})
	r, err := recognizer.New(context.Background(), mock, engine.Models{})
	assert.Nil(t, r)
	assert.ErrorIs(t, err, recognizer.ErrInitialization)
	assert.Contains(t, err.Error(), "bad model file")
}

func TestNilEngine(t *testing.T) {
	r, err := recognizer.New(context.Background(), nil, engine.Models{})
	assert.Nil(t, r)
	assert.ErrorIs(t, err, recognizer.ErrInitialization)
}

func TestRecognizeAfterDestroy(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{})
	r, err := recognizer.New(context.Background(), mock, engine.Models{})
	require.NoError(t, err)
	require.NoError(t, r.Destroy())

	_, err = r.Recognize(context.Background())
	assert.ErrorIs(t, err, recognizer.ErrNotInitialized)

	_, err = r.RecognizeAsync(context.Background()).Result()
	assert.ErrorIs(t, err, recognizer.ErrNotInitialized)

	_, _, passes := mock.Stats()
	assert.Zero(t, passes, "engine must not be called after destroy")
}

func TestAsyncMatchesBlocking(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{Text: "turn on the lights", Confidence: 0.8})
	r := newRecognizer(t, mock)

	blocking, err := r.Recognize(context.Background())
	require.NoError(t, err)

	f := r.RecognizeAsync(context.Background())
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blocking, res.Text)
	assert.Equal(t, 0.8, res.Confidence)
	assert.NotEmpty(t, res.ID)

	select {
	case <-f.Done():
	default:
		t.Fatal("future should be resolved after Wait")
	}
	text, err := f.Text()
	require.NoError(t, err)
	assert.Equal(t, blocking, text)
}

func TestAsyncReturnsBeforeDecodingFinishes(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{Latency: 200 * time.Millisecond})
	r := newRecognizer(t, mock)

	start := time.Now()
	f := r.RecognizeAsync(context.Background())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	text, err := f.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestDecodingFailureBothForms(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{RecognizeErr: errors.New("decoder failed")})
	r := newRecognizer(t, mock)

	_, err := r.Recognize(context.Background())
	assert.ErrorIs(t, err, recognizer.ErrRecognitionFailed)

	_, err = r.RecognizeAsync(context.Background()).Result()
	assert.ErrorIs(t, err, recognizer.ErrRecognitionFailed)

	assert.Zero(t, mock.OutstandingBuffers())
}

func TestFailedPassKeepsID(t *testing.T) {
	var observed []string
	mock := engine.NewMock(engine.MockOptions{RecognizeErr: engine.Errorf(engine.KindNetwork, "decoder unreachable")})
	r := newRecognizer(t, mock, recognizer.WithObserver(func(res recognizer.Result, err error) {
		if err != nil {
			observed = append(observed, res.ID)
		}
	}))

	res, err := r.RecognizeResult(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.Timestamp.IsZero())
	assert.Empty(t, res.Text)
	assert.Equal(t, []string{res.ID}, observed)
}

func TestNoSpeechIsEmptyText(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{NoSpeech: true})
	r := newRecognizer(t, mock)

	text, err := r.Recognize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)

	text, err = r.RecognizeAsync(context.Background()).Text()
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestZeroFutureDoesNotBlock(t *testing.T) {
	var f recognizer.Future
	_, err := f.Result()
	assert.ErrorIs(t, err, recognizer.ErrNotInitialized)
	_, err = f.Text()
	assert.ErrorIs(t, err, recognizer.ErrNotInitialized)
	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, recognizer.ErrNotInitialized)
	assert.Nil(t, f.Done())

	var nilFuture *recognizer.Future
	_, err = nilFuture.Result()
	assert.ErrorIs(t, err, recognizer.ErrNotInitialized)
}

func TestTypedEngineErrorKeepsKind(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{RecognizeErr: engine.Errorf(engine.KindPermissionDenied, "microphone access denied")})
	r := newRecognizer(t, mock)

	_, err := r.Recognize(context.Background())
	assert.Equal(t, recognizer.KindPermissionDenied, recognizer.KindOf(err))
}

func TestTimeout(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{Latency: 2 * time.Second})
	r := newRecognizer(t, mock, recognizer.WithTimeout(20*time.Millisecond))

	_, err := r.Recognize(context.Background())
	assert.ErrorIs(t, err, recognizer.ErrRecognitionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, recognizer.StateReady, r.State())
}

func TestCancelAsync(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{Latency: 2 * time.Second})
	r := newRecognizer(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	f := r.RecognizeAsync(ctx)
	cancel()

	_, err := f.Result()
	assert.ErrorIs(t, err, recognizer.ErrRecognitionFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitGivesUpWithoutCancellingPass(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{Latency: 100 * time.Millisecond})
	r := newRecognizer(t, mock)

	f := r.RecognizeAsync(context.Background())
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := f.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	text, err := f.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Zero(t, mock.OutstandingBuffers())
}

func TestDestroyCancelsInflightPass(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{Latency: 5 * time.Second})
	r, err := recognizer.New(context.Background(), mock, engine.Models{})
	require.NoError(t, err)

	f := r.RecognizeAsync(context.Background())
	require.Eventually(t, func() bool {
		_, _, passes := mock.Stats()
		return passes == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Destroy())
	_, err = f.Result()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mock.LiveSessions())
}

func TestDestroyIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockEngine(ctrl)

	eng.EXPECT().CreateSession(gomock.Any(), engine.DefaultModels()).Return(engine.Session(7), nil)
	eng.EXPECT().DestroySession(engine.Session(7)).Return(nil).Times(1)

	r, err := recognizer.New(context.Background(), eng, engine.Models{})
	require.NoError(t, err)
	require.NoError(t, r.Destroy())
	require.NoError(t, r.Destroy())
	require.NoError(t, r.Close())
}

func TestResultBufferReleasedAfterCopy(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockEngine(ctrl)
	buf := &engine.Buffer{Text: "what time is it"}

	gomock.InOrder(
		eng.EXPECT().CreateSession(gomock.Any(), gomock.Any()).Return(engine.Session(1), nil),
		eng.EXPECT().Recognize(gomock.Any(), engine.Session(1)).Return(buf, nil),
		eng.EXPECT().ReleaseResult(buf),
		eng.EXPECT().DestroySession(engine.Session(1)).Return(nil),
	)

	r, err := recognizer.New(context.Background(), eng, engine.Models{})
	require.NoError(t, err)
	text, err := r.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "what time is it", text)
	require.NoError(t, r.Destroy())
}

func TestResultBufferReleasedOnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockEngine(ctrl)
	buf := &engine.Buffer{}

	eng.EXPECT().CreateSession(gomock.Any(), gomock.Any()).Return(engine.Session(1), nil)
	eng.EXPECT().Recognize(gomock.Any(), engine.Session(1)).Return(buf, errors.New("partial decode"))
	eng.EXPECT().ReleaseResult(buf)
	eng.EXPECT().DestroySession(engine.Session(1)).Return(nil)

	r, err := recognizer.New(context.Background(), eng, engine.Models{})
	require.NoError(t, err)
	_, err = r.Recognize(context.Background())
	assert.ErrorIs(t, err, recognizer.ErrRecognitionFailed)
	require.NoError(t, r.Destroy())
}

func TestEngineReturnsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockEngine(ctrl)

	eng.EXPECT().CreateSession(gomock.Any(), gomock.Any()).Return(engine.Session(3), nil)
	eng.EXPECT().Recognize(gomock.Any(), engine.Session(3)).Return(nil, nil)
	eng.EXPECT().DestroySession(engine.Session(3)).Return(nil)

	r, err := recognizer.New(context.Background(), eng, engine.Models{})
	require.NoError(t, err)
	_, err = r.Recognize(context.Background())
	assert.ErrorIs(t, err, recognizer.ErrRecognitionFailed)
	require.NoError(t, r.Destroy())
}

func TestZeroSessionIsInitializationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockEngine(ctrl)
	eng.EXPECT().CreateSession(gomock.Any(), gomock.Any()).Return(engine.Session(0), nil)

	r, err := recognizer.New(context.Background(), eng, engine.Models{})
	assert.Nil(t, r)
	assert.ErrorIs(t, err, recognizer.ErrInitialization)
}

func TestTeardownFailureStillReleases(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{DestroyErr: errors.New("engine busy")})
	r, err := recognizer.New(context.Background(), mock, engine.Models{})
	require.NoError(t, err)

	assert.Error(t, r.Destroy())
	assert.Equal(t, recognizer.StateReleased, r.State())
	assert.Zero(t, mock.LiveSessions())
	assert.NoError(t, r.Destroy())

	_, err = r.Recognize(context.Background())
	assert.ErrorIs(t, err, recognizer.ErrNotInitialized)
}

func TestObserverSeesEveryPass(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	var failures int
	observer := func(res recognizer.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
			return
		}
		texts = append(texts, res.Text)
	}

	mock := engine.NewMock(engine.MockOptions{Text: "stop"})
	r, err := recognizer.New(context.Background(), mock, engine.Models{}, recognizer.WithObserver(observer))
	require.NoError(t, err)

	_, err = r.Recognize(context.Background())
	require.NoError(t, err)
	_, err = r.RecognizeAsync(context.Background()).Result()
	require.NoError(t, err)
	require.NoError(t, r.Destroy())
	_, _ = r.Recognize(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stop", "stop"}, texts)
	assert.Equal(t, 1, failures)
}

// overlapEngine fails any pass that starts while another is running.
type overlapEngine struct {
	*engine.Mock
	inflight atomic.Int32
}

func (o *overlapEngine) Recognize(ctx context.Context, s engine.Session) (*engine.Buffer, error) {
	if o.inflight.Add(1) > 1 {
		o.inflight.Add(-1)
		return nil, errors.New("concurrent pass")
	}
	defer o.inflight.Add(-1)
	return o.Mock.Recognize(ctx, s)
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	eng := &overlapEngine{Mock: engine.NewMock(engine.MockOptions{Latency: 5 * time.Millisecond})}
	r := newRecognizer(t, eng)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.RecognizeAsync(context.Background()).Result(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	assert.Zero(t, eng.OutstandingBuffers())
}

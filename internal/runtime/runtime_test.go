package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-recognizer/internal/capability"
	"github.com/loqalabs/loqa-recognizer/internal/config"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
	"github.com/loqalabs/loqa-recognizer/internal/protocol"
	"github.com/loqalabs/loqa-recognizer/internal/recognizer"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func newTestRuntime(t *testing.T, eng engine.Engine) *Runtime {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := New(testConfig(t), newLogger(), WithEngine(eng))
	require.NoError(t, r.open(context.Background()))
	t.Cleanup(r.close)
	r.ready.Store(true)
	return r
}

func serve(r *Runtime, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	r.router().ServeHTTP(w, req)
	return w
}

func TestRecognizeEndpoint(t *testing.T) {
	r := newTestRuntime(t, engine.NewMock(engine.MockOptions{Confidence: 0.75}))

	for _, target := range []string{"/v1/recognize", "/v1/recognize?async=true"} {
		w := serve(r, http.MethodPost, target)
		require.Equal(t, http.StatusOK, w.Code, target)

		var body recognizeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "hello world", body.Text)
		assert.Equal(t, 0.75, body.Confidence)
		assert.NotEmpty(t, body.ID)
	}
}

func TestRecognizeEndpointErrors(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{RecognizeErr: engine.Errorf(engine.KindAudioInput, "no input device")})
	r := newTestRuntime(t, mock)

	w := serve(r, http.MethodPost, "/v1/recognize")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "AUDIO_INPUT_ERROR")

	w = serve(r, http.MethodGet, "/v1/passes")
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Passes []passResponse `json:"passes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Passes, 1)
	assert.Equal(t, "AUDIO_INPUT_ERROR", history.Passes[0].Kind)
	assert.NotEmpty(t, history.Passes[0].PassID)

	require.NoError(t, r.rec.Destroy())
	w = serve(r, http.MethodPost, "/v1/recognize?async=true")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_INITIALIZED_ERROR")
}

func TestStatusForKind(t *testing.T) {
	cases := map[recognizer.Kind]int{
		recognizer.KindNotInitialized:    http.StatusServiceUnavailable,
		recognizer.KindAudioInput:        http.StatusUnprocessableEntity,
		recognizer.KindPermissionDenied:  http.StatusForbidden,
		recognizer.KindNetwork:           http.StatusBadGateway,
		recognizer.KindRecognitionFailed: http.StatusInternalServerError,
		engine.KindUnknown:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), kind.Code())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	r := newTestRuntime(t, engine.NewMock(engine.MockOptions{}))

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/readyz").Code)

	require.NoError(t, r.rec.Destroy())
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/readyz").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz").Code)
}

func TestPassesEndpoint(t *testing.T) {
	r := newTestRuntime(t, engine.NewMock(engine.MockOptions{Text: "lights off"}))

	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/v1/recognize").Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/v1/recognize").Code)

	w := serve(r, http.MethodGet, "/v1/passes?limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RecognizerID string         `json:"recognizer_id"`
		Passes       []passResponse `json:"passes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, r.recognizerID, body.RecognizerID)
	require.Len(t, body.Passes, 2)
	assert.Equal(t, "lights off", body.Passes[0].Text)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/v1/passes?limit=zero").Code)
}

func TestTranscriptWebsocket(t *testing.T) {
	r := newTestRuntime(t, engine.NewMock(engine.MockOptions{Text: "play music"}))
	srv := httptest.NewServer(r.router())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/transcripts/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return r.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/v1/recognize", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got protocol.Transcript
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "play music", got.Text)
	assert.Equal(t, r.recognizerID, got.RecognizerID)
	assert.NotEmpty(t, got.PassID)
}

func TestListenerRecordsPasses(t *testing.T) {
	r := newTestRuntime(t, engine.NewMock(engine.MockOptions{Latency: time.Millisecond}))
	r.cfg.Listener.PauseMS = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.listen(ctx)
	}()

	require.Eventually(t, func() bool {
		passes, err := r.store.ListPasses(context.Background(), r.recognizerID, 10)
		return err == nil && len(passes) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestListenerStopsWhenRecognizerReleased(t *testing.T) {
	r := newTestRuntime(t, engine.NewMock(engine.MockOptions{Latency: 20 * time.Millisecond}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.listen(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, r.rec.Destroy())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener kept running after destroy")
	}
}

func TestOpenFailsOnInitialization(t *testing.T) {
	mock := engine.NewMock(engine.MockOptions{InitErr: errors.New("model missing")})
	r := New(testConfig(t), newLogger(), WithEngine(mock))
	err := r.open(context.Background())
	t.Cleanup(r.close)

	require.Error(t, err)
	assert.ErrorIs(t, err, recognizer.ErrInitialization)
	assert.Nil(t, r.rec)
	assert.False(t, r.Ready())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func newBusRuntime(t *testing.T, eng engine.Engine) *Runtime {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = server.RANDOM_PORT
	cfg.Bus.StoreDir = t.TempDir()
	cfg.Presence.HeartbeatInterval = 50
	cfg.Presence.HeartbeatTimeout = 200

	r := New(cfg, newLogger(), WithEngine(eng))
	require.NoError(t, r.open(context.Background()))
	t.Cleanup(r.close)
	r.ready.Store(true)
	return r
}

func TestBusPublishesAndAnnounces(t *testing.T) {
	r := newBusRuntime(t, engine.NewMock(engine.MockOptions{Text: "open the blinds"}))
	require.NotNil(t, r.registry)
	assert.True(t, r.Ready())

	sub, err := r.bus.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	require.NoError(t, err)
	require.NoError(t, r.bus.Conn().Flush())

	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/v1/recognize").Code)
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var transcript protocol.Transcript
	require.NoError(t, json.Unmarshal(msg.Data, &transcript))
	assert.Equal(t, "open the blinds", transcript.Text)
	assert.Equal(t, r.recognizerID, transcript.RecognizerID)

	type nodesBody struct {
		Self  string                `json:"self"`
		Nodes []capability.NodeInfo `json:"nodes"`
	}
	nodes := func(target string) nodesBody {
		var body nodesBody
		w := serve(r, http.MethodGet, target)
		if w.Code == http.StatusOK {
			_ = json.Unmarshal(w.Body.Bytes(), &body)
		}
		return body
	}

	body := nodes("/v1/nodes")
	assert.Equal(t, r.recognizerID, body.Self)
	require.Len(t, body.Nodes, 1)
	assert.Equal(t, "ready", body.Nodes[0].State)
	assert.Equal(t, "mock", body.Nodes[0].Capabilities[0].Attributes["engine"])

	require.NoError(t, r.rec.Destroy())
	require.Eventually(t, func() bool {
		return len(nodes("/v1/nodes?state=released").Nodes) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Empty(t, nodes("/v1/nodes?state=ready").Nodes)
}

func TestNodesEndpointWithoutBus(t *testing.T) {
	r := newTestRuntime(t, engine.NewMock(engine.MockOptions{}))
	w := serve(r, http.MethodGet, "/v1/nodes")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"self":"`+r.recognizerID+`","nodes":[]}`, w.Body.String())
}

func TestNoSpeechSkipsBus(t *testing.T) {
	r := newBusRuntime(t, engine.NewMock(engine.MockOptions{NoSpeech: true}))

	finals, err := r.bus.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	require.NoError(t, err)
	failures, err := r.bus.Conn().SubscribeSync(protocol.SubjectRecognitionError)
	require.NoError(t, err)
	require.NoError(t, r.bus.Conn().Flush())

	w := serve(r, http.MethodPost, "/v1/recognize")
	require.Equal(t, http.StatusOK, w.Code)
	var body recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Text)

	require.NoError(t, r.bus.Conn().Flush())
	_, err = finals.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
	_, err = failures.NextMsg(50 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)

	passes, err := r.store.ListPasses(context.Background(), r.recognizerID, 10)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Empty(t, passes[0].Text)
	assert.Empty(t, passes[0].ErrorKind)
}

func TestFailedPassPublishesPassID(t *testing.T) {
	r := newBusRuntime(t, engine.NewMock(engine.MockOptions{RecognizeErr: engine.Errorf(engine.KindNetwork, "decoder unreachable")}))

	sub, err := r.bus.Conn().SubscribeSync(protocol.SubjectRecognitionError)
	require.NoError(t, err)
	require.NoError(t, r.bus.Conn().Flush())

	require.Equal(t, http.StatusBadGateway, serve(r, http.MethodPost, "/v1/recognize").Code)
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var failure protocol.RecognitionError
	require.NoError(t, json.Unmarshal(msg.Data, &failure))
	assert.Equal(t, "NETWORK_ERROR", failure.Kind)
	assert.NotEmpty(t, failure.PassID)

	passes, err := r.store.ListPasses(context.Background(), r.recognizerID, 10)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, failure.PassID, passes[0].PassID)
}

func TestReadyFollowsPresence(t *testing.T) {
	r := newBusRuntime(t, engine.NewMock(engine.MockOptions{}))
	require.NotNil(t, r.registry)
	assert.True(t, r.Ready())

	r.registry.Close()
	require.Eventually(t, func() bool { return !r.Ready() }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/readyz").Code)
	assert.Equal(t, recognizer.StateReady, r.rec.State())
}

package runtime

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-recognizer/internal/capability"
	"github.com/loqalabs/loqa-recognizer/internal/recognizer"
)

type recognizeResponse struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMS int64   `json:"duration_ms"`
}

type passResponse struct {
	PassID     string    `json:"pass_id,omitempty"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *Runtime) router() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), r.requestLogger())

	e.GET("/healthz", r.handleHealth)
	e.GET("/readyz", r.handleReady)
	if r.metrics != nil {
		e.GET("/metrics", gin.WrapH(r.metrics))
	}

	v1 := e.Group("/v1")
	{
		v1.POST("/recognize", r.handleRecognize)
		v1.GET("/passes", r.handlePasses)
		v1.GET("/nodes", r.handleNodes)
		v1.GET("/transcripts/ws", r.hub.Serve)
	}
	return e
}

func (r *Runtime) requestLogger() gin.HandlerFunc {
	log := r.logger.With(slog.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

func (r *Runtime) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (r *Runtime) handleReady(c *gin.Context) {
	if r.Ready() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

// Ready reports whether the recognizer holds a live session, the bus, when
// enabled, is connected and node presence, when running, is heartbeating.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() || r.rec == nil || r.rec.State() != recognizer.StateReady {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	return r.registry == nil || r.registry.Healthy()
}

// handleRecognize runs one pass. ?async=true goes through RecognizeAsync
// and waits on the Future; the response is the same either way.
func (r *Runtime) handleRecognize(c *gin.Context) {
	if r.rec == nil {
		writeError(c, &recognizer.Error{Kind: recognizer.KindNotInitialized, Message: "recognizer not started"})
		return
	}
	async, _ := strconv.ParseBool(c.Query("async"))
	ctx := c.Request.Context()

	var (
		res recognizer.Result
		err error
	)
	if async {
		res, err = r.rec.RecognizeAsync(ctx).Wait(ctx)
	} else {
		res, err = r.rec.RecognizeResult(ctx)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recognizeResponse{
		ID:         res.ID,
		Text:       res.Text,
		Confidence: res.Confidence,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (r *Runtime) handlePasses(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	passes, err := r.store.ListPasses(c.Request.Context(), r.recognizerID, limit)
	if err != nil {
		r.logger.Warn("failed to list passes", slogError(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]passResponse, 0, len(passes))
	for _, p := range passes {
		out = append(out, passResponse{
			PassID:     p.PassID,
			Text:       p.Text,
			Confidence: p.Confidence,
			Kind:       p.ErrorKind,
			Error:      p.ErrorMessage,
			DurationMS: p.Duration.Milliseconds(),
			CreatedAt:  p.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"recognizer_id": r.recognizerID, "passes": out})
}

// handleNodes lists recognizer nodes seen on the bus. ?state= narrows the
// list to one lifecycle state.
func (r *Runtime) handleNodes(c *gin.Context) {
	nodes := []capability.NodeInfo{}
	if r.registry != nil {
		filters := []func(capability.NodeInfo) bool{capability.WithCapabilityFilter(capability.SpeechCapability)}
		if state := c.Query("state"); state != "" {
			filters = append(filters, capability.WithStateFilter(state))
		}
		if found := r.registry.Query(filters...); found != nil {
			nodes = found
		}
	}
	c.JSON(http.StatusOK, gin.H{"self": r.recognizerID, "nodes": nodes})
}

func writeError(c *gin.Context, err error) {
	kind := recognizer.KindOf(err)
	c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": kind.Code()})
}

func statusForKind(kind recognizer.Kind) int {
	switch kind {
	case recognizer.KindNotInitialized:
		return http.StatusServiceUnavailable
	case recognizer.KindAudioInput:
		return http.StatusUnprocessableEntity
	case recognizer.KindPermissionDenied:
		return http.StatusForbidden
	case recognizer.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
